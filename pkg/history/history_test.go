package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// steppedClock returns a time one second later on every call.
func steppedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", v)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.Record(context.Background(), KindSpace, map[string]int{"n": 1}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer s.Close()

	got, err := s.Recent(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Recent() returned %d reports after reopen, want 1", len(got))
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	s.now = steppedClock()
	ctx := context.Background()

	for i, kind := range []Kind{KindSecurity, KindSpace, KindSecurity, KindInventory} {
		if _, err := s.Record(ctx, kind, map[string]int{"i": i}); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	var kinds []Kind
	for _, r := range all {
		kinds = append(kinds, r.Kind)
	}
	want := []Kind{KindInventory, KindSecurity, KindSpace, KindSecurity}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("Recent() kinds mismatch (-want +got):\n%s", diff)
	}

	sec, err := s.Recent(ctx, KindSecurity, 1)
	if err != nil {
		t.Fatalf("Recent(security) error = %v", err)
	}
	if len(sec) != 1 {
		t.Fatalf("Recent(security, 1) returned %d, want 1", len(sec))
	}
	var payload map[string]int
	if err := json.Unmarshal(sec[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["i"] != 2 {
		t.Errorf("newest security payload i = %d, want 2", payload["i"])
	}
	if sec[0].ID == "" || sec[0].CreatedAt.IsZero() {
		t.Errorf("report missing id or time: %+v", sec[0])
	}
}

func TestStore_RecordRejectsBadKind(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []Kind{"", "audit"} {
		if _, err := s.Record(context.Background(), k, nil); !errors.Is(err, ErrInvalidKind) {
			t.Errorf("Record(%q) error = %v, want ErrInvalidKind", k, err)
		}
	}
}

func TestStore_PublishOnlyChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	quiet := monitor.Result{Diff: scene.Diff{"cup": scene.Unchanged}}
	if err := s.Publish(ctx, quiet); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	busy := monitor.Result{Diff: scene.Diff{"cup": scene.Removed, "book": scene.Unchanged}}
	if err := s.Publish(ctx, busy); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err := s.Recent(ctx, KindSecurity, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() returned %d reports, want 1", len(got))
	}

	var entry SecurityEntry
	if err := json.Unmarshal(got[0].Payload, &entry); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := SecurityEntry{
		Items:    []string{"book", "cup"},
		Statuses: []scene.ChangeStatus{scene.Unchanged, scene.Removed},
	}
	if diff := cmp.Diff(want, entry); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", "", false},
		{"space", KindSpace, false},
		{"inventory", KindInventory, false},
		{"Security", "", true},
	}
	for _, tc := range tests {
		got, err := ParseKind(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseKind(%q) = %q, %v, want %q, err %v", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}
