package control

import (
	"errors"
	"sync"
	"sync/atomic"
)

// State is the run state shared by a fleet.
type State int32

const (
	Running State = iota
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

var ErrStopped = errors.New("control signal already stopped")

// Signal is the tri-state control shared by every producer in one run.
// Exactly one goroutine (the orchestrator) transitions it; any number of
// producers read it. Stopped is terminal.
type Signal struct {
	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
}

// New returns a signal in the Running state.
func New() *Signal {
	s := &Signal{done: make(chan struct{})}
	s.state.Store(int32(Running))
	return s
}

func (s *Signal) State() State {
	return State(s.state.Load())
}

// Pause moves Running to Paused. Pausing an already paused signal is a no-op.
func (s *Signal) Pause() error {
	return s.transition(Paused)
}

// Resume moves Paused back to Running. Resuming a running signal is a no-op.
func (s *Signal) Resume() error {
	return s.transition(Running)
}

func (s *Signal) transition(to State) error {
	for {
		cur := s.State()
		switch cur {
		case Stopped:
			return ErrStopped
		case to:
			return nil
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			return nil
		}
	}
}

// Stop moves the signal to its terminal state and releases Done. Idempotent.
func (s *Signal) Stop() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(Stopped))
		close(s.done)
	})
}

// Done is closed once the signal reaches Stopped, so sleeping readers can
// react without waiting out their poll interval.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
