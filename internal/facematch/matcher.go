package facematch

import (
	"fmt"
	"math"
)

// Matcher finds the closest labeled descriptor for a query descriptor.
// It holds a snapshot; rebuild it after descriptors are added or removed.
type Matcher struct {
	labeled   []LabeledDescriptors
	threshold float64
	distance  func(a, b []float32) float64
	dim       int
}

// NewMatcher creates a matcher over the given labels. Labels without
// descriptors are dropped. All descriptors must share one dimension.
func NewMatcher(labeled []LabeledDescriptors, threshold float64, metric string) (*Matcher, error) {
	m := &Matcher{
		threshold: threshold,
		distance:  DistanceFunc(metric),
	}

	for _, ld := range labeled {
		if len(ld.Descriptors) == 0 {
			continue
		}
		for _, d := range ld.Descriptors {
			if m.dim == 0 {
				m.dim = len(d)
			}
			if len(d) != m.dim {
				return nil, fmt.Errorf("label %q: %w (%d != %d)", ld.Label, ErrDimensionMismatch, len(d), m.dim)
			}
		}
		m.labeled = append(m.labeled, ld)
	}

	return m, nil
}

// Threshold returns the maximum distance still reported as a known match.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Len returns the number of labels in the matcher.
func (m *Matcher) Len() int {
	return len(m.labeled)
}

// FindBestMatch returns the nearest label. A label's distance is the minimum
// over its descriptors. Distances above the threshold are reported as unknown.
func (m *Matcher) FindBestMatch(query []float32) Match {
	best := Match{Label: UnknownLabel, Distance: math.Inf(1)}
	if len(query) == 0 || len(query) != m.dim || len(m.labeled) == 0 {
		return Match{Label: UnknownLabel, Distance: NoDistance}
	}

	for _, ld := range m.labeled {
		for i, d := range ld.Descriptors {
			dist := m.distance(query, d)
			if dist >= best.Distance {
				continue
			}
			best.Distance = dist
			best.Label = ld.Label
			best.DescriptorID = ""
			if i < len(ld.IDs) {
				best.DescriptorID = ld.IDs[i]
			}
		}
	}

	if best.Distance > m.threshold {
		return Match{Label: UnknownLabel, Distance: best.Distance}
	}
	best.Known = true
	return best
}

// MatchAll runs FindBestMatch for every query.
func (m *Matcher) MatchAll(queries [][]float32) []Match {
	matches := make([]Match, len(queries))
	for i, q := range queries {
		matches[i] = m.FindBestMatch(q)
	}
	return matches
}
