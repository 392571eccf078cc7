package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okulov/sensorfleet/internal/control"
	"github.com/okulov/sensorfleet/internal/generator"
	"github.com/okulov/sensorfleet/internal/metrics"
	"github.com/okulov/sensorfleet/internal/models/reading"
	"github.com/okulov/sensorfleet/internal/sensor"
	"github.com/okulov/sensorfleet/internal/sink"
)

var (
	ErrAlreadyStarted  = errors.New("fleet already started")
	ErrNotStarted      = errors.New("fleet not started")
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// SensorConfig describes one producer in the fleet.
type SensorConfig struct {
	ID           string
	Kind         reading.Kind
	Interval     time.Duration
	Jitter       time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Params       generator.Params
}

// DefaultFleet is the stock three-sensor fleet used when nothing is
// configured.
func DefaultFleet() []SensorConfig {
	return []SensorConfig{
		{ID: "TEMP-001", Kind: reading.Temperature, Interval: 2 * time.Second, Jitter: 250 * time.Millisecond},
		{ID: "HUM-001", Kind: reading.Humidity, Interval: 2 * time.Second, Jitter: 250 * time.Millisecond},
		{ID: "NOISE-001", Kind: reading.Noise, Interval: 2 * time.Second, Jitter: 250 * time.Millisecond},
	}
}

// Config carries the run-wide knobs: where readings go and how often paused
// producers re-check the control signal.
type Config struct {
	StorePath   string
	StoreFormat string
	SyncEvery   bool
	PausePoll   time.Duration
}

// Summary is a point-in-time view of one run.
type Summary struct {
	RunID   string          `json:"run_id"`
	State   string          `json:"state"`
	Written uint64          `json:"written"`
	Failed  uint64          `json:"failed"`
	Pending int             `json:"pending"`
	Sensors []SensorSummary `json:"sensors"`
}

// SensorSummary is one producer's counters and most recent reading.
type SensorSummary struct {
	ID      string           `json:"id"`
	Kind    reading.Kind     `json:"type"`
	Written uint64           `json:"written"`
	Failed  uint64           `json:"failed"`
	Retries uint64           `json:"retries"`
	Last    *reading.Reading `json:"last,omitempty"`
}

// Orchestrator owns one simulation run: exactly one control signal, one
// sink, and one producer per configured sensor. It is the only writer of the
// control signal.
type Orchestrator struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	sig       *control.Signal
	snk       sink.Sink
	injected  bool
	producers []*sensor.Producer
	g         *errgroup.Group
	runID     string
	started   bool
	stopped   bool
	summary   Summary

	finished atomic.Int64
	doneCh   chan struct{}
}

type Option func(*Orchestrator)

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithSink replaces the file sink Start would otherwise open. The
// orchestrator still closes it on a successful stop.
func WithSink(s sink.Sink) Option {
	return func(o *Orchestrator) {
		o.snk = s
		o.injected = true
	}
}

func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		log:    slog.Default(),
		sig:    control.New(),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start opens the store, sets the fleet running and spawns one producer per
// config. Generator parameters are validated before anything is opened or
// spawned. Starting a fleet twice is an error.
func (o *Orchestrator) Start(ctx context.Context, sensors []SensorConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return ErrAlreadyStarted
	}
	if len(sensors) == 0 {
		return errors.New("at least one sensor must be configured")
	}

	seen := make(map[string]struct{}, len(sensors))
	gens := make([]*generator.Sampler, len(sensors))
	for i, sc := range sensors {
		if _, dup := seen[sc.ID]; dup {
			return fmt.Errorf("duplicate sensor id %q", sc.ID)
		}
		seen[sc.ID] = struct{}{}

		gen, err := generator.New(sc.Kind, sc.Params, nil)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", sc.ID, err)
		}
		gens[i] = gen
	}

	snk := o.snk
	if snk == nil {
		enc, err := sink.ParseEncoding(o.cfg.StoreFormat)
		if err != nil {
			return err
		}
		sinkOpts := []sink.Option{sink.WithEncoder(enc), sink.WithLogger(o.log)}
		if o.cfg.SyncEvery {
			sinkOpts = append(sinkOpts, sink.WithSyncEvery())
		}
		fileSink, err := sink.NewFileSink(o.cfg.StorePath, sinkOpts...)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		snk = fileSink
	}

	producers := make([]*sensor.Producer, len(sensors))
	for i, sc := range sensors {
		p, err := sensor.New(sensor.Config{
			SensorID:     sc.ID,
			Kind:         sc.Kind,
			Interval:     sc.Interval,
			Jitter:       sc.Jitter,
			PausePoll:    o.cfg.PausePoll,
			MaxRetries:   sc.MaxRetries,
			RetryBackoff: sc.RetryBackoff,
		}, gens[i], snk, o.sig, o.log)
		if err != nil {
			if !o.injected {
				snk.Close()
			}
			return fmt.Errorf("sensor %s: %w", sc.ID, err)
		}
		producers[i] = p
	}

	o.snk = snk
	o.producers = producers
	o.runID = uuid.NewString()

	g, gctx := errgroup.WithContext(ctx)
	o.g = g
	for _, p := range producers {
		g.Go(func() error {
			defer o.finished.Add(1)
			return p.Run(gctx)
		})
	}

	o.started = true
	metrics.ControlState.Set(float64(control.Running))
	o.log.Info("fleet started", "run_id", o.runID, "sensors", len(producers), "store", o.cfg.StorePath)
	return nil
}

// Pause suspends sampling across the fleet. Pausing a paused fleet is a
// no-op; pausing a stopped fleet returns control.ErrStopped.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return ErrNotStarted
	}
	if err := o.sig.Pause(); err != nil {
		return err
	}
	metrics.ControlState.Set(float64(control.Paused))
	o.log.Info("fleet paused", "run_id", o.runID)
	return nil
}

// Resume lifts a pause. Resuming a running fleet is a no-op.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return ErrNotStarted
	}
	if err := o.sig.Resume(); err != nil {
		return err
	}
	metrics.ControlState.Set(float64(control.Running))
	o.log.Info("fleet resumed", "run_id", o.runID)
	return nil
}

// StopAndWait moves the fleet to its terminal state and waits for every
// producer to confirm. On success the store is closed and no further records
// can appear. When producers outlive the timeout the store stays open and
// ErrShutdownTimeout is returned; calling StopAndWait again waits anew.
// Stopping an already stopped fleet returns the final summary and no error.
func (o *Orchestrator) StopAndWait(timeout time.Duration) (Summary, error) {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return Summary{}, ErrNotStarted
	}
	if o.stopped {
		s := o.summary
		o.mu.Unlock()
		return s, nil
	}
	g := o.g
	o.mu.Unlock()

	o.sig.Stop()
	metrics.ControlState.Set(float64(control.Stopped))

	waitDone := make(chan error, 1)
	go func() { waitDone <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-waitDone:
	case <-time.After(timeout):
		pending := o.pending()
		o.log.Error("shutdown timeout", "run_id", o.runID, "timeout", timeout, "pending", pending)
		return o.Status(), fmt.Errorf("%w: %d producers still running after %s", ErrShutdownTimeout, pending, timeout)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return o.summary, nil
	}
	if err := o.snk.Close(); err != nil {
		return o.statusLocked(), fmt.Errorf("close store: %w", err)
	}
	o.stopped = true
	o.summary = o.statusLocked()
	close(o.doneCh)

	if runErr != nil {
		o.log.Error("fleet stopped with error", "run_id", o.runID, "err", runErr)
		return o.summary, runErr
	}
	o.log.Info("fleet stopped", "run_id", o.runID, "written", o.summary.Written, "failed", o.summary.Failed)
	return o.summary, nil
}

// RunFor lets the fleet run for d and then stops it. Context cancellation or
// an earlier stop cuts the wait short.
func (o *Orchestrator) RunFor(ctx context.Context, d, timeout time.Duration) (Summary, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-o.doneCh:
	}
	return o.StopAndWait(timeout)
}

// Done is closed once the fleet has fully stopped and the store is closed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.doneCh
}

// Status snapshots the run without touching it.
func (o *Orchestrator) Status() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Summary {
	s := Summary{
		RunID:   o.runID,
		State:   o.sig.State().String(),
		Pending: o.pending(),
	}
	for _, p := range o.producers {
		ps := SensorSummary{
			ID:      p.ID(),
			Kind:    p.Kind(),
			Written: p.Written(),
			Failed:  p.Failed(),
			Retries: p.Retries(),
			Last:    p.Last(),
		}
		s.Written += ps.Written
		s.Failed += ps.Failed
		s.Sensors = append(s.Sensors, ps)
	}
	return s
}

func (o *Orchestrator) pending() int {
	return len(o.producers) - int(o.finished.Load())
}
