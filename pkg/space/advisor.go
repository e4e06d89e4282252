// Package space scores the free horizontal space around detected objects
// and suggests which way each one could be shifted.
package space

import (
	"fmt"
	"slices"

	"github.com/teslashibe/go-scenewatch/pkg/detection"
)

// Defaults for the advisory pass.
const (
	DefaultConfidenceFloor = 0.25
	DefaultGapThreshold    = 50.0
)

// Category classifies the clearance around an object.
type Category string

const (
	BothSides Category = "both_sides"
	LeftOnly  Category = "left_only"
	RightOnly Category = "right_only"
	None      Category = "none"
)

// Message returns a short human-readable suggestion for c.
func (c Category) Message() string {
	switch c {
	case BothSides:
		return "empty space on both sides, can move to any side"
	case LeftOnly:
		return "empty space on left, can move left"
	case RightOnly:
		return "empty space on right, can move right"
	default:
		return "no significant empty space around"
	}
}

// PlacedObject is a detection projected onto the horizontal axis.
type PlacedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	X2         float64 `json:"x2"`
	CenterX    float64 `json:"center_x"`
}

// Item is the detected object as reported to callers.
type Item struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Suggestion is the placement advice for one object.
type Suggestion struct {
	Label     string   `json:"label"`
	Category  Category `json:"category"`
	LeftGap   float64  `json:"left_gap"`
	RightGap  float64  `json:"right_gap"`
	Direction string   `json:"suggestion"`
}

// Report holds items and suggestions aligned by index, ordered by center x.
type Report struct {
	Items       []Item       `json:"items"`
	Suggestions []Suggestion `json:"suggestions"`
	FrameWidth  float64      `json:"frame_width"`
}

// Options configures Advise.
type Options struct {
	// Ignore drops labels before analysis. Matching is always
	// case-insensitive.
	Ignore detection.Matcher

	ConfidenceFloor float64 // Detections below this are dropped
	GapThreshold    float64 // Pixels of clearance that count as space
	FrameWidth      float64 // Right edge of the frame, in pixels
}

// DefaultOptions returns defaults for a frame of the given width.
func DefaultOptions(frameWidth float64) Options {
	return Options{
		Ignore:          detection.NewMatcher(detection.DefaultIgnoreLabels, true),
		ConfidenceFloor: DefaultConfidenceFloor,
		GapThreshold:    DefaultGapThreshold,
		FrameWidth:      frameWidth,
	}
}

// Place filters detections and returns them sorted by center x. Ties keep
// detection order.
func Place(dets []detection.Detection, opts Options) ([]PlacedObject, error) {
	ignore := opts.Ignore.CaseInsensitive()

	placed := make([]PlacedObject, 0, len(dets))
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		if d.Confidence < opts.ConfidenceFloor || ignore.Match(d.Label) {
			continue
		}
		placed = append(placed, PlacedObject{
			Label:      d.Label,
			Confidence: d.Confidence,
			X1:         d.Box.X1,
			X2:         d.Box.X2,
			CenterX:    (d.Box.X1 + d.Box.X2) / 2,
		})
	}

	slices.SortStableFunc(placed, func(a, b PlacedObject) int {
		switch {
		case a.CenterX < b.CenterX:
			return -1
		case a.CenterX > b.CenterX:
			return 1
		}
		return 0
	})
	return placed, nil
}

// Advise computes left and right clearance for each object against its
// immediate neighbours, or the frame edges for the outermost objects.
func Advise(dets []detection.Detection, opts Options) (Report, error) {
	if opts.FrameWidth <= 0 {
		return Report{}, fmt.Errorf("space: frame width must be positive, got %v", opts.FrameWidth)
	}
	if opts.GapThreshold < 0 {
		return Report{}, fmt.Errorf("space: gap threshold must not be negative, got %v", opts.GapThreshold)
	}

	placed, err := Place(dets, opts)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Items:       make([]Item, 0, len(placed)),
		Suggestions: make([]Suggestion, 0, len(placed)),
		FrameWidth:  opts.FrameWidth,
	}

	last := len(placed) - 1
	for i, obj := range placed {
		var left, right float64
		if i == 0 {
			left = obj.X1
		} else {
			left = obj.X1 - placed[i-1].X2
		}
		if i == last {
			right = opts.FrameWidth - obj.X2
		} else {
			right = placed[i+1].X1 - obj.X2
		}

		// Overlapping neighbours leave no space.
		left, right = max(left, 0), max(right, 0)

		cat := categorize(left > opts.GapThreshold, right > opts.GapThreshold)

		report.Items = append(report.Items, Item{Label: obj.Label, Confidence: obj.Confidence})
		report.Suggestions = append(report.Suggestions, Suggestion{
			Label:     obj.Label,
			Category:  cat,
			LeftGap:   left,
			RightGap:  right,
			Direction: cat.Message(),
		})
	}

	return report, nil
}

func categorize(hasLeft, hasRight bool) Category {
	switch {
	case hasLeft && hasRight:
		return BothSides
	case hasLeft:
		return LeftOnly
	case hasRight:
		return RightOnly
	default:
		return None
	}
}
