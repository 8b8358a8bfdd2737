package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := newTaskQueue()
	go q.run()

	var got []int
	for i := range 100 {
		assert.True(t, q.post(func() { got = append(got, i) }))
	}
	assert.True(t, q.do(func() {}))
	q.close()
	<-q.done

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestTaskQueueConcurrentPosts(t *testing.T) {
	q := newTaskQueue()
	go q.run()

	var (
		wg    sync.WaitGroup
		count int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.do(func() { count++ })
			}
		}()
	}
	wg.Wait()
	q.close()
	<-q.done
	assert.Equal(t, 500, count)
}

func TestTaskQueueClose(t *testing.T) {
	q := newTaskQueue()
	ran := false
	q.post(func() { ran = true })
	q.close()

	assert.False(t, q.post(func() {}))
	assert.False(t, q.do(func() {}))

	go q.run()
	<-q.done
	assert.True(t, ran, "tasks queued before close still run")
}
