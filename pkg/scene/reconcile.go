package scene

import (
	"slices"

	"github.com/samber/lo"

	"github.com/teslashibe/go-scenewatch/pkg/detection"
)

// DefaultMovementThreshold is the pixel distance above which an instance
// counts as moved.
const DefaultMovementThreshold = 50.0

// ChangeStatus describes what happened to a label between two snapshots.
type ChangeStatus string

const (
	Added         ChangeStatus = "added"
	Removed       ChangeStatus = "removed"
	Repositioned  ChangeStatus = "repositioned"
	Unchanged     ChangeStatus = "unchanged"
	PersonPresent ChangeStatus = "person_present"
)

// Diff maps each label seen in either snapshot to its status.
type Diff map[string]ChangeStatus

// Labels returns the diff labels in sorted order.
func (d Diff) Labels() []string {
	labels := lo.Keys(d)
	slices.Sort(labels)
	return labels
}

// Items returns labels and statuses as parallel slices, sorted by label.
func (d Diff) Items() ([]string, []ChangeStatus) {
	labels := d.Labels()
	statuses := make([]ChangeStatus, len(labels))
	for i, l := range labels {
		statuses[i] = d[l]
	}
	return labels, statuses
}

// Count returns how many labels have status s.
func (d Diff) Count(s ChangeStatus) int {
	n := 0
	for _, v := range d {
		if v == s {
			n++
		}
	}
	return n
}

// Changed reports whether any label is something other than unchanged.
func (d Diff) Changed() bool {
	for _, v := range d {
		if v != Unchanged {
			return true
		}
	}
	return false
}

// ReconcileOptions configures Reconcile.
type ReconcileOptions struct {
	// MovementThreshold is the minimum center distance, in pixels, that
	// counts as repositioning.
	MovementThreshold float64

	// PersonLabels are always reported as PersonPresent.
	PersonLabels detection.Matcher
}

// DefaultReconcileOptions uses the default threshold and person labels
// with exact matching.
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		MovementThreshold: DefaultMovementThreshold,
		PersonLabels:      detection.NewMatcher(detection.DefaultPersonLabels, false),
	}
}

// Reconcile compares two snapshots label by label.
//
// A person label is PersonPresent whatever its positions. Otherwise a
// label only in curr is Added, only in prev is Removed, and a label in both
// is Repositioned when any prev/curr pair of centers is further apart than
// the threshold, Unchanged otherwise. Instances are not matched to each
// other: the label is the unit of comparison.
func Reconcile(prev, curr Snapshot, opts ReconcileOptions) Diff {
	diff := make(Diff)

	for _, label := range lo.Union(lo.Keys(prev), lo.Keys(curr)) {
		before, after := prev[label], curr[label]
		if len(before) == 0 && len(after) == 0 {
			// Key present with no instances on either side.
			continue
		}

		if opts.PersonLabels.Match(label) {
			diff[label] = PersonPresent
			continue
		}

		switch {
		case len(before) == 0 && len(after) > 0:
			diff[label] = Added
		case len(before) > 0 && len(after) == 0:
			diff[label] = Removed
		default:
			if moved(before, after, opts.MovementThreshold) {
				diff[label] = Repositioned
			} else {
				diff[label] = Unchanged
			}
		}
	}

	return diff
}

func moved(before, after []Point, threshold float64) bool {
	for _, p := range before {
		for _, c := range after {
			if p.Distance(c) > threshold {
				return true
			}
		}
	}
	return false
}
