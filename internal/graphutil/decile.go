// Package graphutil holds small numeric helpers shared by the graph
// reduction and overlay packages, grounded on
// inettopology_popmap/graph/util.py.
package graphutil

import (
	"errors"
	"sort"
)

// ErrEmptyList is returned by DecileTransform when given no samples,
// matching graph/util.py's EmptyListError.
var ErrEmptyList = errors.New("graphutil: no samples to summarize")

// DecileTransform summarizes a latency distribution as its ten deciles:
// sorted_list[int(i * len/10)] for i in 0..9. Matches the original's
// integer-truncating index arithmetic exactly, including its bias toward
// the lower end of each decile bucket.
func DecileTransform(samples []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyList
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	interval := float64(len(sorted)) / 10.0
	deciles := make([]float64, 10)
	for i := 0; i < 10; i++ {
		deciles[i] = sorted[int(float64(i)*interval)]
	}
	return deciles, nil
}

// DefaultDeciles returns the flat 5ms fallback distribution used whenever a
// relay, client, or destination endpoint has no recorded samples to derive
// latency from.
func DefaultDeciles() []float64 {
	d := make([]float64, 10)
	for i := range d {
		d[i] = 5
	}
	return d
}

// SumDeciles combines two decile distributions the way collapse_degree_two
// combines the two sides of a collapsed degree-two PoP: every pairwise sum
// s1+s2 of the two sides' decile samples forms a 100-element distribution,
// which is then reduced back down to ten deciles. Matches
// graph/objects.py's `[s1 + s2 for s1 in side1_delays for s2 in
// side2_delays]` followed by `decile_transform(combined_delays)`.
func SumDeciles(a, b []float64) []float64 {
	combined := make([]float64, 0, len(a)*len(b))
	for _, s1 := range a {
		for _, s2 := range b {
			combined = append(combined, s1+s2)
		}
	}
	deciles, err := DecileTransform(combined)
	if err != nil {
		return DefaultDeciles()
	}
	return deciles
}

// Median returns the middle element of samples after sorting, using the
// same len/2 integer-division index as the Python original (biased toward
// the upper-middle element on even counts).
func Median(samples []float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
