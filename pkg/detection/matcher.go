package detection

import "strings"

// Default label sets for the Open Images V7 vocabulary, with the COCO
// "person" class added.
var (
	// DefaultPersonLabels are reported as person presence instead of
	// being compared by position.
	DefaultPersonLabels = []string{
		"Person", "Man", "Woman", "Boy", "Girl", "Human face", "person",
	}

	// DefaultIgnoreLabels are people and items carried by people.
	DefaultIgnoreLabels = []string{
		"Person", "Man", "Woman", "Boy", "Girl", "Human face", "Glasses",
		"backpack", "handbag", "tie", "umbrella", "hat", "cap",
	}

	// DefaultClothingKeywords match worn items by substring.
	DefaultClothingKeywords = []string{
		"clothing", "shirt", "t-shirt", "pants", "jeans", "jacket", "sweater",
		"hoodie", "shorts", "dress", "skirt", "coat", "uniform",
	}
)

// Matcher decides whether a label belongs to a configured set.
// The zero value matches nothing.
type Matcher struct {
	labels          map[string]struct{}
	caseInsensitive bool
	keywords        []string
}

// NewMatcher builds a matcher over labels. When caseInsensitive is set,
// labels compare with case folded. Keywords always match as
// case-insensitive substrings.
func NewMatcher(labels []string, caseInsensitive bool, keywords ...string) Matcher {
	m := Matcher{
		labels:          make(map[string]struct{}, len(labels)),
		caseInsensitive: caseInsensitive,
	}
	for _, l := range labels {
		m.labels[m.key(l)] = struct{}{}
	}
	for _, k := range keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			m.keywords = append(m.keywords, k)
		}
	}
	return m
}

func (m Matcher) key(label string) string {
	if m.caseInsensitive {
		return strings.ToLower(label)
	}
	return label
}

// Match reports whether label is in the set or contains a keyword.
func (m Matcher) Match(label string) bool {
	if _, ok := m.labels[m.key(label)]; ok {
		return true
	}
	if len(m.keywords) == 0 {
		return false
	}
	lower := strings.ToLower(label)
	for _, k := range m.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// CaseInsensitive returns a copy of m that compares labels with case folded.
func (m Matcher) CaseInsensitive() Matcher {
	if m.caseInsensitive {
		return m
	}
	out := Matcher{
		labels:          make(map[string]struct{}, len(m.labels)),
		caseInsensitive: true,
		keywords:        m.keywords,
	}
	for l := range m.labels {
		out.labels[strings.ToLower(l)] = struct{}{}
	}
	return out
}

// Len returns the number of exact labels in the set.
func (m Matcher) Len() int {
	return len(m.labels)
}

// Filter returns detections whose labels do not match.
func (m Matcher) Filter(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if !m.Match(d.Label) {
			out = append(out, d)
		}
	}
	return out
}
