package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
)

type fakeSource struct {
	mu      sync.Mutex
	openErr error
	opens   int
	closes  int
}

func (s *fakeSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	return s.openErr
}

func (s *fakeSource) Read() (camera.Frame, error) {
	return camera.Frame{Data: []byte("jpeg"), Width: 640, Height: 480}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

// scriptDetector returns queued responses, repeating the last one.
type scriptDetector struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	dets []detection.Detection
	err  error
}

func (d *scriptDetector) Detect(ctx context.Context, jpeg []byte) ([]detection.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := min(d.calls, len(d.steps)-1)
	d.calls++
	return d.steps[i].dets, d.steps[i].err
}

func (d *scriptDetector) Close() error { return nil }

func (d *scriptDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func box(label string, x float64) detection.Detection {
	return detection.Detection{
		Label:      label,
		Confidence: 0.9,
		Box:        detection.Box{X1: x, Y1: 0, X2: x + 10, Y2: 10},
	}
}

func newTestMonitor(t *testing.T, src *fakeSource, det detection.Detector, opts ...Option) *Monitor {
	t.Helper()
	m, err := New(DefaultConfig(), func() camera.Source { return src }, det, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestMonitor_StartUnavailable(t *testing.T) {
	src := &fakeSource{openErr: errors.New("no such device")}
	m := newTestMonitor(t, src, &scriptDetector{steps: []step{{}}})

	err := m.Start(context.Background())
	if !errors.Is(err, camera.ErrSourceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrSourceUnavailable", err)
	}
	if m.State() != Idle {
		t.Errorf("State() = %q, want idle", m.State())
	}
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	m := newTestMonitor(t, src, &scriptDetector{steps: []step{{}}}, WithClock(clock.NewMock()))

	for i := 0; i < 2; i++ {
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	if opens, _ := src.counts(); opens != 1 {
		t.Errorf("source opened %d times, want 1", opens)
	}
	if m.State() != Running {
		t.Errorf("State() = %q, want running", m.State())
	}

	m.Stop()
	if _, closes := src.counts(); closes != 1 {
		t.Errorf("source closed %d times, want 1", closes)
	}
	if m.State() != Idle {
		t.Errorf("State() after Stop = %q, want idle", m.State())
	}

	// Stop on an idle monitor is harmless.
	m.Stop()
	if _, closes := src.counts(); closes != 1 {
		t.Errorf("source closed %d times after second Stop, want 1", closes)
	}
}

func TestMonitor_TickSkipsWithoutFrame(t *testing.T) {
	det := &scriptDetector{steps: []step{{dets: []detection.Detection{box("cup", 0)}}}}
	m := newTestMonitor(t, &fakeSource{}, det)

	m.tick(context.Background())

	if det.callCount() != 0 {
		t.Errorf("detector called %d times, want 0", det.callCount())
	}
	if _, ok := m.LatestDiff(); ok {
		t.Error("LatestDiff() ok = true after skipped tick")
	}
	if got := m.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
}

func TestMonitor_TickSequence(t *testing.T) {
	boom := errors.New("inference timeout")
	det := &scriptDetector{steps: []step{
		{dets: []detection.Detection{box("cup", 0), box("Person", 200)}},
		{err: boom},
		{dets: []detection.Detection{box("cup", 100), box("Jacket", 300)}},
	}}

	var published []Result
	sink := SinkFunc(func(ctx context.Context, r Result) error {
		published = append(published, r)
		return nil
	})

	mock := clock.NewMock()
	var errs []error
	m := newTestMonitor(t, &fakeSource{}, det, WithClock(mock), WithSinks(sink))
	m.OnError = func(err error) { errs = append(errs, err) }

	ctx := context.Background()
	m.slot.Store(camera.Frame{Data: []byte("a"), Seq: 1})

	// First cycle: everything is new.
	m.tick(ctx)
	first, ok := m.LatestDiff()
	if !ok {
		t.Fatal("LatestDiff() ok = false after first cycle")
	}
	want := scene.Diff{"cup": scene.Added, "Person": scene.PersonPresent}
	if diff := cmp.Diff(want, first.Diff); diff != "" {
		t.Errorf("first diff mismatch (-want +got):\n%s", diff)
	}

	// Second cycle fails and leaves state alone.
	mock.Add(time.Second)
	m.tick(ctx)
	if len(errs) != 1 || !errors.Is(errs[0], boom) || !detection.IsFailure(errs[0]) {
		t.Fatalf("OnError got %v, want one detector failure", errs)
	}
	stale, _ := m.LatestDiff()
	if stale.Cycle != first.Cycle || !stale.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("latest changed after failed cycle: %+v", stale)
	}

	// Third cycle compares against the first snapshot. The jacket is
	// ignored and the person, now gone, still reports presence.
	m.tick(ctx)
	third, _ := m.LatestDiff()
	want = scene.Diff{"cup": scene.Repositioned, "Person": scene.PersonPresent}
	if diff := cmp.Diff(want, third.Diff); diff != "" {
		t.Errorf("third diff mismatch (-want +got):\n%s", diff)
	}
	if third.Cycle != 2 {
		t.Errorf("Cycle = %d, want 2", third.Cycle)
	}
	if !third.UpdatedAt.Equal(mock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", third.UpdatedAt, mock.Now())
	}

	if len(published) != 2 {
		t.Errorf("published %d results, want 2", len(published))
	}
	st := m.Stats()
	if st.Cycles != 2 || st.Failures != 1 {
		t.Errorf("Stats() = %+v, want 2 cycles 1 failure", st)
	}
}

func TestMonitor_InvalidDetectionIsFailure(t *testing.T) {
	bad := detection.Detection{Label: "cup", Confidence: 0.9, Box: detection.Box{X1: 10, X2: 5, Y2: 1}}
	det := &scriptDetector{steps: []step{{dets: []detection.Detection{bad}}}}

	var got error
	m := newTestMonitor(t, &fakeSource{}, det)
	m.OnError = func(err error) { got = err }
	m.slot.Store(camera.Frame{Data: []byte("a")})

	m.tick(context.Background())

	if !errors.Is(got, detection.ErrInvalidDetection) {
		t.Errorf("OnError got %v, want ErrInvalidDetection", got)
	}
	if _, ok := m.LatestDiff(); ok {
		t.Error("LatestDiff() ok = true after invalid detections")
	}
}

func TestMonitor_SinkErrorsDoNotStopPublishing(t *testing.T) {
	det := &scriptDetector{steps: []step{{dets: []detection.Detection{box("cup", 0)}}}}
	var second int
	failing := SinkFunc(func(context.Context, Result) error { return errors.New("broker down") })
	counting := SinkFunc(func(context.Context, Result) error { second++; return nil })

	m := newTestMonitor(t, &fakeSource{}, det, WithSinks(failing, counting))
	m.slot.Store(camera.Frame{Data: []byte("a")})
	m.tick(context.Background())

	if second != 1 {
		t.Errorf("second sink called %d times, want 1", second)
	}
	if m.Stats().SinkErrors != 1 {
		t.Errorf("SinkErrors = %d, want 1", m.Stats().SinkErrors)
	}
}

func TestMonitor_RunAndStop(t *testing.T) {
	src := &fakeSource{}
	det := &scriptDetector{steps: []step{{dets: []detection.Detection{box("cup", 0)}}}}
	mock := clock.NewMock()
	m := newTestMonitor(t, src, det, WithClock(mock))

	frames := make(chan struct{}, 1)
	m.OnFrame = func(camera.Frame) {
		select {
		case frames <- struct{}{}:
		default:
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if _, ok := m.LatestDiff(); ok {
			break
		}
		select {
		case <-deadline:
			m.Stop()
			t.Fatal("no cycle completed")
		default:
		}
		mock.Add(DefaultConfig().FrameInterval)
		mock.Add(DefaultConfig().SampleInterval)
	}

	select {
	case <-frames:
	default:
		t.Error("OnFrame was never called")
	}

	diff := m.Stop()
	if diff["cup"] != scene.Added {
		t.Errorf("Stop() diff = %v, want cup added", diff)
	}
	if _, closes := src.counts(); closes != 1 {
		t.Errorf("source closed %d times, want 1", closes)
	}
	if _, ok := m.LatestFrame(); !ok {
		t.Error("LatestFrame() ok = false after frames were read")
	}

	// The last diff stays readable while idle.
	if r, ok := m.LatestDiff(); !ok || r.Diff["cup"] != scene.Added {
		t.Errorf("LatestDiff() after Stop = %v, %v", r.Diff, ok)
	}
}

func TestMonitor_StopWhileSinkReadsState(t *testing.T) {
	src := &fakeSource{}
	det := &scriptDetector{steps: []step{{dets: []detection.Detection{box("cup", 0)}}}}
	mock := clock.NewMock()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var m *Monitor
	sink := SinkFunc(func(context.Context, Result) error {
		once.Do(func() { close(entered) })
		<-release
		m.State()
		return nil
	})
	m = newTestMonitor(t, src, det, WithClock(mock), WithSinks(sink))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
wait:
	for {
		select {
		case <-entered:
			break wait
		case <-deadline:
			close(release)
			m.Stop()
			t.Fatal("sink never called")
		default:
		}
		mock.Add(DefaultConfig().FrameInterval)
		mock.Add(DefaultConfig().SampleInterval)
	}

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if m.State() != Idle {
		t.Errorf("State() = %q, want idle", m.State())
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("DefaultConfig().Validate() = %v", errs)
	}

	cfg.SampleInterval = time.Millisecond
	cfg.MovementThreshold = -1
	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("Validate() = %v, want 3 errors", errs)
	}

	if _, err := New(cfg, func() camera.Source { return &fakeSource{} }, &scriptDetector{}); err == nil {
		t.Error("New() with invalid config error = nil")
	}
}
