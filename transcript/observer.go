package transcript

// Observer receives notifications when the transcript mutates.
type Observer interface {
	OnTranscriptChange(change Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Change)

// OnTranscriptChange calls f.
func (f ObserverFunc) OnTranscriptChange(c Change) { f(c) }

// Change describes one transcript mutation.
type Change interface {
	transcriptChange()
}

// TurnAppended fires when a turn is added at Index.
type TurnAppended struct{ Index int }

// TurnUpdated fires when the open turn at Index folds another event.
type TurnUpdated struct{ Index int }

// TurnSealed fires when the open turn at Index is sealed by TurnComplete.
type TurnSealed struct{ Index int }

// TurnEdited fires when the turn at Index has its content replaced.
type TurnEdited struct{ Index int }

// Truncated fires when the transcript is cut down to Len turns.
type Truncated struct{ Len int }

// Replaced fires when the whole transcript is swapped out.
type Replaced struct{ Len int }

func (TurnAppended) transcriptChange() {}
func (TurnUpdated) transcriptChange()  {}
func (TurnSealed) transcriptChange()   {}
func (TurnEdited) transcriptChange()   {}
func (Truncated) transcriptChange()    {}
func (Replaced) transcriptChange()     {}
