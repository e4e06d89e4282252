// Package inventory counts detected items in a "before" and an "after"
// capture and reports the per-label difference.
package inventory

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/teslashibe/go-scenewatch/pkg/detection"
)

var (
	// ErrIncomplete is returned by Process until both captures exist.
	ErrIncomplete = errors.New("inventory: both before and after captures are required")

	// ErrInvalidPhase is returned for an unknown capture phase.
	ErrInvalidPhase = errors.New("inventory: invalid phase")
)

// Phase names a capture slot.
type Phase string

const (
	Before Phase = "before"
	After  Phase = "after"
)

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case Before, After:
		return Phase(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
}

// Counts maps a label to its number of instances.
type Counts map[string]int

// Count tallies detections per label, skipping ignored labels.
func Count(dets []detection.Detection, ignore detection.Matcher) Counts {
	counts := make(Counts)
	for _, d := range dets {
		if ignore.Match(d.Label) {
			continue
		}
		counts[d.Label]++
	}
	return counts
}

// Total returns the number of counted instances.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Change is the count difference for one label.
type Change struct {
	Label  string `json:"label"`
	Before int    `json:"before"`
	After  int    `json:"after"`
	Delta  int    `json:"delta"`
}

// Comparison is the result of comparing two captures.
type Comparison struct {
	Before  Counts   `json:"before"`
	After   Counts   `json:"after"`
	Changes []Change `json:"changes"`
}

// Compare lists every label from either side, sorted, with its delta.
func Compare(before, after Counts) Comparison {
	labels := lo.Union(lo.Keys(before), lo.Keys(after))
	slices.Sort(labels)

	changes := make([]Change, 0, len(labels))
	for _, l := range labels {
		changes = append(changes, Change{
			Label:  l,
			Before: before[l],
			After:  after[l],
			Delta:  after[l] - before[l],
		})
	}
	return Comparison{Before: before, After: after, Changes: changes}
}

// Capture is one recorded phase.
type Capture struct {
	Phase  Phase     `json:"phase"`
	Counts Counts    `json:"counts"`
	At     time.Time `json:"at"`
}

// Session holds the latest before and after captures.
type Session struct {
	mu     sync.RWMutex
	before *Capture
	after  *Capture
}

// NewSession creates an empty session
func NewSession() *Session {
	return &Session{}
}

// Record stores counts for phase, replacing an earlier capture of the
// same phase.
func (s *Session) Record(phase Phase, counts Counts, at time.Time) error {
	if _, err := ParsePhase(string(phase)); err != nil {
		return err
	}
	c := &Capture{Phase: phase, Counts: counts, At: at}

	s.mu.Lock()
	defer s.mu.Unlock()
	if phase == Before {
		s.before = c
	} else {
		s.after = c
	}
	return nil
}

// Process compares the two captures.
func (s *Session) Process() (Comparison, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.before == nil || s.after == nil {
		return Comparison{}, ErrIncomplete
	}
	return Compare(s.before.Counts, s.after.Counts), nil
}

// Reset discards both captures.
func (s *Session) Reset() {
	s.mu.Lock()
	s.before, s.after = nil, nil
	s.mu.Unlock()
}
