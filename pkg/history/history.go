// Package history keeps a log of published reports in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
)

// Kind tags what produced a report.
type Kind string

const (
	KindSecurity  Kind = "security"
	KindSpace     Kind = "space"
	KindInventory Kind = "inventory"
)

// Limits for Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrInvalidKind is returned for an unknown report kind.
var ErrInvalidKind = errors.New("history: invalid kind")

// ParseKind validates a kind name. The empty string is allowed and means
// every kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindSecurity, KindSpace, KindInventory:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Report is one stored entry.
type Report struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// SecurityEntry is the stored shape of a diff: parallel lists of labels and
// their statuses.
type SecurityEntry struct {
	Items    []string             `json:"item"`
	Statuses []scene.ChangeStatus `json:"status_or_position"`
}

// NewSecurityEntry flattens d in label order.
func NewSecurityEntry(d scene.Diff) SecurityEntry {
	items, statuses := d.Items()
	if items == nil {
		items, statuses = []string{}, []scene.ChangeStatus{}
	}
	return SecurityEntry{Items: items, Statuses: statuses}
}

// Store is the report log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps
	// ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	v, dirty, err := schemaVersion(s.db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("history: schema version %d is dirty", v)
	}
	return v, nil
}

// Record stores payload as JSON under kind.
func (s *Store) Record(ctx context.Context, kind Kind, payload any) (Report, error) {
	if kind == "" {
		return Report{}, fmt.Errorf("%w: empty", ErrInvalidKind)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return Report{}, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Report{}, fmt.Errorf("history: encode payload: %w", err)
	}

	r := Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: s.now().UTC(),
		Payload:   data,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, kind, created_at, payload) VALUES (?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.CreatedAt.UnixNano(), string(r.Payload))
	if err != nil {
		return Report{}, fmt.Errorf("history: insert report: %w", err)
	}
	return r, nil
}

// Recent returns up to limit reports, newest first. An empty kind returns
// every kind. limit is clamped to [1, MaxLimit]; zero means DefaultLimit.
func (s *Store) Recent(ctx context.Context, kind Kind, limit int) ([]Report, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	query := `SELECT id, kind, created_at, payload FROM reports`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query reports: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		var (
			r       Report
			kindStr string
			nanos   int64
			payload string
		)
		if err := rows.Scan(&r.ID, &kindStr, &nanos, &payload); err != nil {
			return nil, fmt.Errorf("history: scan report: %w", err)
		}
		r.Kind = Kind(kindStr)
		r.CreatedAt = time.Unix(0, nanos).UTC()
		r.Payload = json.RawMessage(payload)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Publish records diffs that contain a change. It lets the store act as a
// monitor sink.
func (s *Store) Publish(ctx context.Context, r monitor.Result) error {
	if !r.Diff.Changed() {
		return nil
	}
	_, err := s.Record(ctx, KindSecurity, NewSecurityEntry(r.Diff))
	return err
}
