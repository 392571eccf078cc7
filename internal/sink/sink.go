package sink

import (
	"errors"

	"github.com/okulov/sensorfleet/internal/models/reading"
)

// ErrClosed is returned by appends that arrive after Close. Callers must not
// retry it: the sink is gone for the rest of the run.
var ErrClosed = errors.New("sink closed")

// Sink is the append-only destination shared by every producer in a run.
//
// Append is safe for concurrent use. A nil return means the record is
// committed or durably queued: a following Close flushes it before
// returning. Records are written whole, and the appends of any single
// goroutine keep their order in the stream.
//
// Close drains queued records and releases the sink. It is idempotent.
type Sink interface {
	Append(r reading.Reading) error
	Close() error
}
