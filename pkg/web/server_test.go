package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/history"
	"github.com/teslashibe/go-scenewatch/pkg/inventory"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
	"github.com/teslashibe/go-scenewatch/pkg/space"
)

type stubSource struct {
	openErr error
}

func (s *stubSource) Open() error { return s.openErr }
func (s *stubSource) Read() (camera.Frame, error) {
	return camera.Frame{Data: []byte("jpeg"), Width: 640, Height: 480}, nil
}
func (s *stubSource) Close() error { return nil }

// stubDetector returns whatever was last set.
type stubDetector struct {
	mu   sync.Mutex
	dets []detection.Detection
	err  error
}

func (d *stubDetector) set(dets []detection.Detection, err error) {
	d.mu.Lock()
	d.dets, d.err = dets, err
	d.mu.Unlock()
}

func (d *stubDetector) Detect(context.Context, []byte) ([]detection.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dets, d.err
}

func (d *stubDetector) Close() error { return nil }

func det(label string, x1, x2 float64) detection.Detection {
	return detection.Detection{Label: label, Confidence: 0.9, Box: detection.Box{X1: x1, Y1: 0, X2: x2, Y2: 50}}
}

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) PublishJSON(_ context.Context, kind string, _ any) error {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
	return nil
}

type fixture struct {
	srv      *Server
	monitor  *monitor.Monitor
	detector *stubDetector
	source   *stubSource
	store    *history.Store
	pub      *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		detector: &stubDetector{},
		source:   &stubSource{},
		pub:      &recordingPublisher{},
	}
	factory := func() camera.Source { return f.source }

	cfg := monitor.DefaultConfig()
	cfg.SampleInterval = 100 * time.Millisecond
	cfg.FrameInterval = 10 * time.Millisecond
	m, err := monitor.New(cfg, factory, f.detector)
	if err != nil {
		t.Fatalf("monitor.New() error = %v", err)
	}
	f.monitor = m
	t.Cleanup(func() { m.Stop() })

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	f.store = store
	t.Cleanup(func() { store.Close() })

	opts := DefaultOptions()
	opts.GrabWait = time.Millisecond

	f.srv = NewServer(Deps{
		Monitor:         m,
		Scanner:         space.NewScanner(f.detector, space.DefaultOptions(0)),
		Detector:        f.detector,
		Inventory:       inventory.NewSession(),
		NewSource:       factory,
		InventoryIgnore: detection.NewMatcher(detection.DefaultIgnoreLabels, true),
		History:         store,
		Publisher:       f.pub,
		Camera:          camera.NewManager(camera.DefaultConfig()),
	}, opts)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.srv.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	got := decode[map[string]any](t, body)
	if got["status"] != "ok" || got["monitor"] != "idle" {
		t.Errorf("health = %v", got)
	}
}

func TestSecurityLifecycle(t *testing.T) {
	f := newFixture(t)
	f.detector.set([]detection.Detection{det("cup", 0, 10), det("Man", 100, 200)}, nil)

	code, body := f.do(t, http.MethodGet, "/api/security/latest", nil)
	if code != http.StatusOK {
		t.Fatalf("latest status = %d", code)
	}
	latest := decode[map[string]any](t, body)
	if latest["updated_at"] != nil {
		t.Errorf("updated_at = %v before any cycle, want null", latest["updated_at"])
	}

	for i := 0; i < 2; i++ {
		if code, body := f.do(t, http.MethodPost, "/api/security/start", nil); code != http.StatusOK {
			t.Fatalf("start status = %d: %s", code, body)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := f.monitor.LatestDiff(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no cycle completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	code, body = f.do(t, http.MethodPost, "/api/security/stop", nil)
	if code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	entry := decode[history.SecurityEntry](t, body)
	if len(entry.Items) != 2 || entry.Items[0] != "Man" || entry.Statuses[0] != scene.PersonPresent {
		t.Errorf("stop entry = %+v, want Man person_present first", entry)
	}
	if f.monitor.State() != monitor.Idle {
		t.Errorf("monitor state = %q, want idle", f.monitor.State())
	}

	reports, err := f.store.Recent(context.Background(), history.KindSecurity, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("security reports = %d, want 1", len(reports))
	}
}

func TestSecurityStart_SourceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.source.openErr = errors.New("no camera")

	code, _ := f.do(t, http.MethodPost, "/api/security/start", nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestSpaceScan(t *testing.T) {
	f := newFixture(t)
	f.detector.set([]detection.Detection{det("vase", 100, 200), det("Person", 300, 400)}, nil)

	code, body := f.do(t, http.MethodGet, "/api/space/scan", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, body)
	}
	report := decode[space.Report](t, body)
	if len(report.Suggestions) != 1 {
		t.Fatalf("suggestions = %+v, want one (person ignored)", report.Suggestions)
	}
	s := report.Suggestions[0]
	if s.Category != space.BothSides || s.Direction != space.BothSides.Message() {
		t.Errorf("suggestion = %+v", s)
	}
	if report.FrameWidth != 640 {
		t.Errorf("FrameWidth = %v, want 640", report.FrameWidth)
	}

	if got, _ := f.store.Recent(context.Background(), history.KindSpace, 0); len(got) != 1 {
		t.Errorf("space reports = %d, want 1", len(got))
	}
	if len(f.pub.kinds) != 1 || f.pub.kinds[0] != "space" {
		t.Errorf("published kinds = %v, want [space]", f.pub.kinds)
	}
}

func TestSpaceScan_DetectorFailure(t *testing.T) {
	f := newFixture(t)
	f.detector.set(nil, errors.New("model crashed"))

	code, _ := f.do(t, http.MethodGet, "/api/space/scan", nil)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
}

func TestInventory(t *testing.T) {
	f := newFixture(t)

	if code, _ := f.do(t, http.MethodGet, "/api/inventory/process", nil); code != http.StatusConflict {
		t.Errorf("process before capture status = %d, want 409", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/inventory/capture", CaptureRequest{Mode: "during"}); code != http.StatusBadRequest {
		t.Errorf("bad mode status = %d, want 400", code)
	}

	f.detector.set([]detection.Detection{det("Bottle", 0, 10), det("Bottle", 20, 30), det("Woman", 40, 50)}, nil)
	code, body := f.do(t, http.MethodPost, "/api/inventory/capture", CaptureRequest{Mode: "before"})
	if code != http.StatusOK {
		t.Fatalf("capture before status = %d: %s", code, body)
	}
	captured := decode[map[string]any](t, body)
	if captured["total"] != float64(2) {
		t.Errorf("before total = %v, want 2", captured["total"])
	}

	f.detector.set([]detection.Detection{det("Bottle", 0, 10), det("Book", 20, 30)}, nil)
	if code, _ := f.do(t, http.MethodPost, "/api/inventory/capture", CaptureRequest{Mode: "after"}); code != http.StatusOK {
		t.Fatalf("capture after status = %d", code)
	}

	code, body = f.do(t, http.MethodGet, "/api/inventory/process", nil)
	if code != http.StatusOK {
		t.Fatalf("process status = %d", code)
	}
	cmp := decode[inventory.Comparison](t, body)
	want := map[string]int{"Book": 1, "Bottle": -1}
	for _, ch := range cmp.Changes {
		if want[ch.Label] != ch.Delta {
			t.Errorf("%s delta = %d, want %d", ch.Label, ch.Delta, want[ch.Label])
		}
	}
	if len(cmp.Changes) != 2 {
		t.Errorf("changes = %+v, want 2", cmp.Changes)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Record(ctx, history.KindSpace, map[string]int{"n": 1})
	f.store.Record(ctx, history.KindInventory, map[string]int{"n": 2})

	code, body := f.do(t, http.MethodGet, "/api/history?kind=inventory&limit=5", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	reports := decode[[]history.Report](t, body)
	if len(reports) != 1 || reports[0].Kind != history.KindInventory {
		t.Errorf("reports = %+v, want one inventory report", reports)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/history?kind=audit", nil); code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", code)
	}
}

func TestCameraConfig(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPut, "/api/camera/config", map[string]any{"preset": "low"})
	if code != http.StatusOK {
		t.Fatalf("update status = %d: %s", code, body)
	}
	got := decode[struct {
		Config camera.Config `json:"config"`
	}](t, body)
	if got.Config.Width != 320 {
		t.Errorf("width = %d, want 320", got.Config.Width)
	}

	if code, _ := f.do(t, http.MethodPut, "/api/camera/config", map[string]any{"quality": 500}); code != http.StatusBadRequest {
		t.Errorf("invalid update status = %d, want 400", code)
	}
}

func TestVideoFeed_IdleMonitor(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, http.MethodGet, "/video_feed", nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", nil)

	code, body := f.do(t, http.MethodGet, "/metrics", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, name := range []string{
		"scenewatch_monitor_running 0",
		"scenewatch_cycles_total",
		`scenewatch_ws_clients{hub="diffs"} 0`,
		`scenewatch_http_requests_total{code="200",route="/health"} 1`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %q", name)
		}
	}
}

func TestDiffsWebsocket(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	url := "ws://" + ln.Addr().String() + "/ws/diffs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.srv.diffHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r := monitor.Result{Diff: scene.Diff{"cup": scene.Removed}, Cycle: 3, UpdatedAt: time.Now()}
	if err := f.srv.Publish(context.Background(), r); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev struct {
		Type string                `json:"type"`
		Data history.SecurityEntry `json:"data"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if ev.Type != "diff" || len(ev.Data.Items) != 1 || ev.Data.Statuses[0] != scene.Removed {
		t.Errorf("event = %+v", ev)
	}
}
