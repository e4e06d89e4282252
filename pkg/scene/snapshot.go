// Package scene turns per-frame detections into label snapshots and
// reconciles consecutive snapshots into a per-label change report.
package scene

import (
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/teslashibe/go-scenewatch/pkg/detection"
)

// Point is a 2-D pixel coordinate, the center of a bounding box.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return floats.Distance([]float64{p.X, p.Y}, []float64{q.X, q.Y}, 2)
}

// Snapshot maps a label to the centers of every instance seen in one frame.
type Snapshot map[string][]Point

// Labels returns the snapshot labels in sorted order.
func (s Snapshot) Labels() []string {
	labels := make([]string, 0, len(s))
	for l := range s {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels
}

// Count returns the number of instances recorded for label.
func (s Snapshot) Count(label string) int {
	return len(s[label])
}

// Extract projects detections to a snapshot, skipping labels the ignore
// matcher accepts. Confidence is not filtered here.
func Extract(dets []detection.Detection, ignore detection.Matcher) Snapshot {
	snap := make(Snapshot)
	for _, d := range dets {
		if ignore.Match(d.Label) {
			continue
		}
		x, y := d.Box.Center()
		snap[d.Label] = append(snap[d.Label], Point{X: x, Y: y})
	}
	return snap
}
