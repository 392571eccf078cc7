package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/okulov/sensorfleet/internal/control"
	"github.com/okulov/sensorfleet/internal/generator"
	"github.com/okulov/sensorfleet/internal/metrics"
	"github.com/okulov/sensorfleet/internal/models/reading"
	"github.com/okulov/sensorfleet/internal/sink"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultJitter       = 250 * time.Millisecond
	DefaultPausePoll    = 100 * time.Millisecond
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Config shapes one producer.
type Config struct {
	SensorID string
	Kind     reading.Kind

	// Interval is the base emission period; each cycle sleeps
	// Interval + uniform(-Jitter, +Jitter).
	Interval time.Duration
	Jitter   time.Duration

	// PausePoll is how often a paused producer re-checks the control
	// signal. It bounds how long a pause or resume takes to be observed.
	PausePoll time.Duration

	// MaxRetries bounds re-appends of one reading after a transient store
	// error; RetryBackoff grows linearly with each attempt.
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.PausePoll <= 0 {
		c.PausePoll = DefaultPausePoll
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
}

// Producer emits readings for a single sensor until the fleet stops. It
// shares the control signal and the sink with its siblings; everything else
// is its own.
type Producer struct {
	cfg Config
	gen *generator.Sampler
	snk sink.Sink
	sig *control.Signal
	log *slog.Logger

	written atomic.Uint64
	failed  atomic.Uint64
	retries atomic.Uint64
	last    atomic.Pointer[reading.Reading]
}

// New validates the producer before anything runs: a broken generator or
// config must surface here, not after goroutines have started.
func New(cfg Config, gen *generator.Sampler, snk sink.Sink, sig *control.Signal, log *slog.Logger) (*Producer, error) {
	if cfg.SensorID == "" {
		return nil, errors.New("sensor id must not be empty")
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("unknown sensor type %q", cfg.Kind)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative, got %s", cfg.Interval)
	}
	if cfg.Jitter < 0 {
		return nil, fmt.Errorf("jitter must not be negative, got %s", cfg.Jitter)
	}
	if gen == nil {
		return nil, errors.New("generator must not be nil")
	}
	if gen.Kind() != cfg.Kind {
		return nil, fmt.Errorf("generator kind %q does not match sensor type %q", gen.Kind(), cfg.Kind)
	}
	if snk == nil {
		return nil, errors.New("sink must not be nil")
	}
	if sig == nil {
		return nil, errors.New("control signal must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	cfg.applyDefaults()

	return &Producer{
		cfg: cfg,
		gen: gen,
		snk: snk,
		sig: sig,
		log: log.With("sensor_id", cfg.SensorID, "sensor_type", string(cfg.Kind)),
	}, nil
}

func (p *Producer) ID() string         { return p.cfg.SensorID }
func (p *Producer) Kind() reading.Kind { return p.cfg.Kind }

// Written reports readings committed to the sink.
func (p *Producer) Written() uint64 { return p.written.Load() }

// Failed reports readings dropped after retry exhaustion.
func (p *Producer) Failed() uint64 { return p.failed.Load() }

// Retries reports transient append errors that were retried.
func (p *Producer) Retries() uint64 { return p.retries.Load() }

// Last returns the most recently committed reading, or nil before the first.
func (p *Producer) Last() *reading.Reading { return p.last.Load() }

// Run drives the sample-append loop until the control signal stops, the
// context is cancelled, or the sink closes underneath the fleet. Only the
// last case is an error; one producer's transient write failures never
// propagate.
func (p *Producer) Run(ctx context.Context) error {
	p.log.Info("sensor started", "interval", p.cfg.Interval, "jitter", p.cfg.Jitter)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("sensor cancelled", "written", p.written.Load(), "failed", p.failed.Load())
			return nil
		default:
		}

		switch p.sig.State() {
		case control.Stopped:
			p.log.Info("sensor stopped", "written", p.written.Load(), "failed", p.failed.Load())
			return nil
		case control.Paused:
			p.sleep(ctx, p.cfg.PausePoll)
			continue
		}

		r := reading.New(p.cfg.SensorID, p.cfg.Kind, p.gen.Sample())
		if err := p.append(r); err != nil {
			if errors.Is(err, sink.ErrClosed) {
				p.log.Error("store closed mid-run", "err", err)
				return err
			}
			p.failed.Add(1)
			metrics.AppendFailures.WithLabelValues(p.cfg.SensorID).Inc()
			p.log.Error("reading dropped", "err", err, "value", r.Value)
		} else {
			p.written.Add(1)
			p.last.Store(&r)
			metrics.ReadingsGenerated.WithLabelValues(p.cfg.SensorID, string(p.cfg.Kind)).Inc()
		}

		p.sleep(ctx, p.emitDelay())
	}
}

// append commits one reading, retrying transient errors a bounded number of
// times. ErrClosed is never retried.
func (p *Producer) append(r reading.Reading) error {
	start := time.Now()
	defer func() {
		metrics.AppendDuration.Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; ; attempt++ {
		err = p.snk.Append(r)
		if err == nil {
			return nil
		}
		if errors.Is(err, sink.ErrClosed) {
			return err
		}
		if attempt >= p.cfg.MaxRetries {
			break
		}
		p.retries.Add(1)
		metrics.AppendRetries.WithLabelValues(p.cfg.SensorID).Inc()
		p.log.Warn("append retry", "attempt", attempt+1, "err", err)
		time.Sleep(p.cfg.RetryBackoff * time.Duration(attempt+1))
	}
	return fmt.Errorf("append failed after %d retries: %w", p.cfg.MaxRetries, err)
}

// emitDelay is the jittered emission period for one cycle.
func (p *Producer) emitDelay() time.Duration {
	if p.cfg.Jitter <= 0 {
		return p.cfg.Interval
	}
	j := time.Duration(rand.Int64N(int64(2*p.cfg.Jitter))) - p.cfg.Jitter
	d := p.cfg.Interval + j
	if d < 0 {
		return 0
	}
	return d
}

// sleep waits d, but wakes early when the run is cancelled or the fleet
// stops. The caller's loop re-checks state either way.
func (p *Producer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-p.sig.Done():
	case <-t.C:
	}
}
