// Package monitor runs the sampling loop: a frame task keeps the latest
// camera frame fresh while a slower task detects objects, reconciles them
// against the previous sample and publishes the resulting diff.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
)

// State is the lifecycle state of a Monitor.
type State string

const (
	Idle    State = "idle"
	Running State = "running"
)

// Result is one completed sampling cycle.
type Result struct {
	Diff      scene.Diff     `json:"diff"`
	Snapshot  scene.Snapshot `json:"-"`
	FrameSeq  uint64         `json:"frame_seq"`
	Cycle     uint64         `json:"cycle"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Sink receives every published result. Sink errors are logged and never
// affect the loop.
type Sink interface {
	Publish(ctx context.Context, r Result) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r Result) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, r Result) error { return f(ctx, r) }

// Stats is a point-in-time view of the monitor counters.
type Stats struct {
	State       State            `json:"state"`
	Cycles      uint64           `json:"cycles"`
	Skipped     uint64           `json:"skipped"`
	Failures    uint64           `json:"failures"`
	SinkErrors  uint64           `json:"sink_errors"`
	FrameMisses uint64           `json:"frame_misses"`
	LastUpdate  time.Time        `json:"last_update"`
	Slot        camera.SlotStats `json:"slot"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

// WithSinks adds result sinks.
func WithSinks(sinks ...Sink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, sinks...) }
}

// Monitor owns the frame source, the previous snapshot and the latest diff.
type Monitor struct {
	cfg       Config
	newSource camera.SourceFactory
	detector  detection.Detector
	clock     clock.Clock
	sinks     []Sink
	ignore    detection.Matcher
	opts      scene.ReconcileOptions

	// lifecycle, guarded by mu
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	group  *errgroup.Group
	source camera.Source
	feed   *camera.Feed

	// running mirrors state and is read without mu, so sinks may call
	// State while Stop waits for the sampling task.
	running atomic.Bool

	slot camera.Slot

	// written only by the sampling task
	resMu    sync.RWMutex
	previous scene.Snapshot
	latest   Result
	hasDiff  bool

	cycles     atomic.Uint64
	skipped    atomic.Uint64
	failures   atomic.Uint64
	sinkErrors atomic.Uint64
	misses     atomic.Uint64

	// OnFrame is called from the frame task with every new frame.
	// Set before Start.
	OnFrame func(camera.Frame)

	// OnError is called when a cycle is abandoned. Set before Start.
	OnError func(error)
}

// New creates an idle monitor. newSource is called on every Start.
func New(cfg Config, newSource camera.SourceFactory, detector detection.Detector, opts ...Option) (*Monitor, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("monitor: invalid config: %v", errs)
	}
	if newSource == nil || detector == nil {
		return nil, errors.New("monitor: source factory and detector are required")
	}

	m := &Monitor{
		cfg:       cfg,
		newSource: newSource,
		detector:  detector,
		clock:     clock.New(),
		state:     Idle,
		ignore:    cfg.ignoreMatcher(),
		opts:      cfg.reconcileOptions(),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Start opens the frame source and starts the frame and sampling tasks.
// Calling Start while running does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Running {
		return nil
	}

	src := m.newSource()
	if err := src.Open(); err != nil {
		if !errors.Is(err, camera.ErrSourceUnavailable) {
			err = errors.Join(camera.ErrSourceUnavailable, err)
		}
		return err
	}

	m.slot.Reset()
	m.resMu.Lock()
	m.previous = nil
	m.resMu.Unlock()

	feed := camera.NewFeed(src, &m.slot, m.cfg.FrameInterval, m.clock)
	feed.OnFrame = m.OnFrame

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return m.sample(gctx) })

	m.source = src
	m.feed = feed
	m.cancel = cancel
	m.group = g
	m.state = Running
	m.running.Store(true)

	log.Info("monitor started", "component", "monitor",
		"sample_interval", m.cfg.SampleInterval, "frame_interval", m.cfg.FrameInterval)
	return nil
}

// Stop cancels both tasks, waits for them, releases the source and
// returns the latest diff. Stop on an idle monitor only returns the diff.
func (m *Monitor) Stop() scene.Diff {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Running {
		m.cancel()
		if err := m.group.Wait(); err != nil {
			log.Warn("monitor task error", "component", "monitor", "error", err)
		}
		m.misses.Add(m.feed.Misses())
		if err := m.source.Close(); err != nil {
			log.Warn("close source", "component", "monitor", "error", err)
		}
		m.source, m.feed, m.cancel, m.group = nil, nil, nil, nil
		m.state = Idle
		m.running.Store(false)
		log.Info("monitor stopped", "component", "monitor", "cycles", m.cycles.Load())
	}

	r, _ := m.LatestDiff()
	return r.Diff
}

// LatestDiff returns the most recent result. ok is false until a cycle
// has completed.
func (m *Monitor) LatestDiff() (Result, bool) {
	m.resMu.RLock()
	defer m.resMu.RUnlock()
	return m.latest, m.hasDiff
}

// LatestFrame returns the newest frame of the running feed.
func (m *Monitor) LatestFrame() (camera.Frame, bool) {
	return m.slot.Load()
}

// State returns the lifecycle state. It never blocks.
func (m *Monitor) State() State {
	if m.running.Load() {
		return Running
	}
	return Idle
}

// Stats returns the monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	state := m.state
	misses := m.misses.Load()
	if m.feed != nil {
		misses += m.feed.Misses()
	}
	m.mu.Unlock()

	r, _ := m.LatestDiff()
	return Stats{
		State:       state,
		Cycles:      m.cycles.Load(),
		Skipped:     m.skipped.Load(),
		Failures:    m.failures.Load(),
		SinkErrors:  m.sinkErrors.Load(),
		FrameMisses: misses,
		LastUpdate:  r.UpdatedAt,
		Slot:        m.slot.Stats(),
	}
}

func (m *Monitor) sample(ctx context.Context) error {
	ticker := m.clock.Ticker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	frame, ok := m.slot.Load()
	if !ok || frame.Empty() {
		m.skipped.Add(1)
		return
	}

	m.resMu.RLock()
	prev := m.previous
	m.resMu.RUnlock()

	curr, diff, err := m.cycle(ctx, prev, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.failures.Add(1)
		log.Warn("cycle abandoned", "component", "monitor", "frame_seq", frame.Seq, "error", err)
		if m.OnError != nil {
			m.OnError(err)
		}
		return
	}

	res := Result{
		Diff:      diff,
		Snapshot:  curr,
		FrameSeq:  frame.Seq,
		Cycle:     m.cycles.Add(1),
		UpdatedAt: m.clock.Now(),
	}

	m.resMu.Lock()
	m.previous = curr
	m.latest = res
	m.hasDiff = true
	m.resMu.Unlock()

	log.Debug("cycle complete", "component", "monitor", "cycle", res.Cycle,
		"labels", len(diff), "changed", diff.Changed())

	m.publish(ctx, res)
}

// cycle runs detection and reconciliation for one frame. It does not touch
// monitor state.
func (m *Monitor) cycle(ctx context.Context, prev scene.Snapshot, frame camera.Frame) (scene.Snapshot, scene.Diff, error) {
	dets, err := m.detector.Detect(ctx, frame.Data)
	if err != nil {
		return nil, nil, detection.Failure("monitor", err)
	}
	if err := detection.ValidateAll(dets); err != nil {
		return nil, nil, detection.Failure("monitor", err)
	}

	curr := scene.Extract(dets, m.ignore)
	return curr, scene.Reconcile(prev, curr, m.opts), nil
}

func (m *Monitor) publish(ctx context.Context, r Result) {
	for _, s := range m.sinks {
		if err := s.Publish(ctx, r); err != nil {
			m.sinkErrors.Add(1)
			log.Warn("sink publish failed", "component", "monitor", "error", err)
		}
	}
}
