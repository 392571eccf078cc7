package control_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okulov/sensorfleet/internal/control"
)

func Test_New_StartsRunning(t *testing.T) {
	s := control.New()
	assert.Equal(t, control.Running, s.State())

	select {
	case <-s.Done():
		t.Fatal("done channel closed before stop")
	default:
	}
}

func Test_PauseResume_Transitions(t *testing.T) {
	s := control.New()

	require.NoError(t, s.Pause())
	assert.Equal(t, control.Paused, s.State())

	require.NoError(t, s.Resume())
	assert.Equal(t, control.Running, s.State())
}

func Test_PauseResume_Idempotent(t *testing.T) {
	s := control.New()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	assert.Equal(t, control.Paused, s.State())

	require.NoError(t, s.Resume())
	require.NoError(t, s.Resume())
	assert.Equal(t, control.Running, s.State())
}

func Test_Stop_IsTerminal(t *testing.T) {
	s := control.New()
	s.Stop()

	assert.Equal(t, control.Stopped, s.State())
	assert.ErrorIs(t, s.Pause(), control.ErrStopped)
	assert.ErrorIs(t, s.Resume(), control.ErrStopped)

	// A second stop stays a no-op.
	s.Stop()
	assert.Equal(t, control.Stopped, s.State())
}

func Test_Stop_ReleasesDone(t *testing.T) {
	s := control.New()

	released := make(chan struct{})
	go func() {
		<-s.Done()
		close(released)
	}()

	s.Stop()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("done channel not released after stop")
	}
}

func Test_State_ObservedByConcurrentReaders(t *testing.T) {
	s := control.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s.State() != control.Stopped {
				time.Sleep(time.Millisecond)
			}
		}()
	}

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())
	s.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readers did not observe stop")
	}
}

func Test_State_String(t *testing.T) {
	assert.Equal(t, "running", control.Running.String())
	assert.Equal(t, "paused", control.Paused.String())
	assert.Equal(t, "stopped", control.Stopped.String())
	assert.Equal(t, "unknown", control.State(9).String())
}
