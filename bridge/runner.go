// Package bridge serves the chat websocket protocol on top of the agent CLI.
//
// Each user message starts one CLI process in stream-json mode. The process
// receives the message on stdin and every line it prints is relayed to the
// client as a frame, until the result frame or end of output.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bazelment/prettycode/internal/proc"
	"github.com/bazelment/prettycode/logging"
	"github.com/bazelment/prettycode/protocol"
)

const (
	// DefaultCLIPath is the agent CLI binary looked up on PATH.
	DefaultCLIPath = "claude"
	// DefaultStopTimeout is how long a stopped process gets before SIGKILL.
	DefaultStopTimeout = 5 * time.Second

	// CLINotFoundMessage is relayed to the client when the CLI is missing.
	CLINotFoundMessage = "Claude Code CLI not found. Make sure 'claude' is installed and in your PATH."

	maxStderrBytes = 64 << 10
)

// RunnerConfig configures the CLI invocation.
type RunnerConfig struct {
	CLIPath        string
	PermissionMode string
	WorkDir        string
	// Env entries are appended to the bridge's environment.
	Env         []string
	ExtraArgs   []string
	StopTimeout time.Duration
}

// EmitFunc receives each output frame. Returning an error aborts the run.
type EmitFunc func(frame json.RawMessage) error

// Runner drives one CLI process at a time.
type Runner struct {
	logger *slog.Logger
	active *run
	config RunnerConfig
	mu     sync.Mutex
}

type run struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	stop    sync.Once
	stopped atomic.Bool
}

// NewRunner creates a Runner. A nil logger discards output.
func NewRunner(config RunnerConfig, logger *slog.Logger) *Runner {
	if config.CLIPath == "" {
		config.CLIPath = DefaultCLIPath
	}
	if config.PermissionMode == "" {
		config.PermissionMode = "default"
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	return &Runner{
		config: config,
		logger: logging.OrNop(logger).With("component", "runner"),
	}
}

// Args returns the CLI arguments.
func (r *Runner) Args() []string {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", r.config.PermissionMode,
	}
	return append(args, r.config.ExtraArgs...)
}

// Running reports whether a process is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Run starts the CLI, writes text as the user message, and emits every
// output line until a result frame or end of output. Lines that are not
// JSON objects are emitted as system/raw frames. Start failures are emitted
// as a system/error frame and returned. Cancelling ctx stops the process.
func (r *Runner) Run(ctx context.Context, text string, emit EmitFunc) error {
	cmd := exec.Command(r.config.CLIPath, r.Args()...)
	cmd.Dir = r.config.WorkDir
	cmd.Env = append(os.Environ(), r.config.Env...)
	proc.Configure(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	stderr := &tailBuffer{max: maxStderrBytes}
	cmd.Stderr = stderr

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrRunning
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return r.startFailed(err, emit)
	}
	active := &run{cmd: cmd, exited: make(chan struct{})}
	r.active = active
	r.mu.Unlock()

	r.logger.Info("agent CLI started", "pid", cmd.Process.Pid, "dir", cmd.Dir)
	stopOnCancel := context.AfterFunc(ctx, r.Stop)
	defer stopOnCancel()

	sawResult, runErr := r.relay(text, stdin, stdout, emit)

	// Closing stdin ends the CLI's input stream so it exits on its own.
	stdin.Close()
	if runErr != nil {
		_ = proc.Terminate(cmd.Process)
	}
	exitErr := r.wait(active)

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
	close(active.exited)

	if runErr != nil {
		return runErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var ee *exec.ExitError
	if sawResult || active.stopped.Load() || !errors.As(exitErr, &ee) {
		return nil
	}
	// The CLI died without finishing the turn; tell the client so it stops
	// waiting for a result.
	perr := &ProcessError{
		Message:  "agent CLI exited before completing the turn",
		Cause:    exitErr,
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: ee.ExitCode(),
	}
	r.logger.Warn("agent CLI failed", "code", perr.ExitCode, "stderr", perr.Stderr)
	msg := "Error running Claude Code: " + perr.Error()
	if perr.Stderr != "" {
		msg += "\n" + lastLine(perr.Stderr)
	}
	_ = emit(protocol.SystemErrorFrame(msg))
	return perr
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (r *Runner) startFailed(err error, emit EmitFunc) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		_ = emit(protocol.SystemErrorFrame(CLINotFoundMessage))
		return &CLINotFoundError{Path: r.config.CLIPath, Cause: err}
	}
	_ = emit(protocol.SystemErrorFrame("Error running Claude Code: " + err.Error()))
	return &ProcessError{Message: "failed to start CLI process", Cause: err}
}

// relay reports whether a result frame was seen.
func (r *Runner) relay(text string, stdin io.Writer, stdout io.Reader, emit EmitFunc) (bool, error) {
	msg, err := protocol.NewCLIUserMessage(text).Marshal()
	if err != nil {
		return false, err
	}
	if _, err := stdin.Write(msg); err != nil {
		// The process may have died before reading; its output still explains why.
		r.logger.Warn("failed to write user message", "error", err)
	}

	reader := bufio.NewReaderSize(stdout, 64<<10)
	for {
		line, readErr := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			frame, isResult := toFrame(trimmed)
			if err := emit(frame); err != nil {
				return false, fmt.Errorf("failed to relay frame: %w", err)
			}
			if isResult {
				return true, nil
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, os.ErrClosed) {
				r.logger.Debug("stdout read ended", "error", readErr)
			}
			return false, nil
		}
	}
}

// toFrame passes JSON objects through verbatim and wraps anything else.
func toFrame(line []byte) (json.RawMessage, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if line[0] != '{' {
		return protocol.SystemRawFrame(string(line), nil), false
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return protocol.SystemRawFrame(string(line), err), false
	}
	return append(json.RawMessage(nil), line...), head.Type == string(protocol.FrameTypeResult)
}

// wait reaps the process, escalating to SIGTERM and SIGKILL if it does not
// exit after stdin is closed.
func (r *Runner) wait(active *run) error {
	done := make(chan error, 1)
	go func() { done <- active.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(r.config.StopTimeout):
	}
	_ = proc.Terminate(active.cmd.Process)
	select {
	case err := <-done:
		return err
	case <-time.After(r.config.StopTimeout):
	}
	_ = proc.Kill(active.cmd.Process)
	return <-done
}

// Stop terminates the active process, if any, and waits for the run to
// finish. The process gets StopTimeout to exit before it is killed.
func (r *Runner) Stop() {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return
	}

	active.stop.Do(func() {
		active.stopped.Store(true)
		r.logger.Info("stopping agent CLI", "pid", active.cmd.Process.Pid)
		_ = proc.Terminate(active.cmd.Process)
		select {
		case <-active.exited:
			return
		case <-time.After(r.config.StopTimeout):
		}
		r.logger.Warn("agent CLI ignored SIGTERM, killing", "pid", active.cmd.Process.Pid)
		_ = proc.Kill(active.cmd.Process)
	})
	<-active.exited
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
	mu  sync.Mutex
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
