package perf

import (
	"math"
	"sort"
)

// Bucket groups the samples falling in one time window. Mid is the
// window midpoint in seconds since the start of the history.
type Bucket struct {
	Mid    float64
	Values []float64
}

// Buckets assigns each point to the window containing its time and
// returns the windows sorted ascending by midpoint. A point at time t
// with width dt lands in the window whose midpoint is
// floor(t/dt)*dt + dt/2.
func Buckets(points []Point, dt float64) []Bucket {
	if dt <= 0 || len(points) == 0 {
		return nil
	}

	byWindow := make(map[int64][]float64)
	for _, p := range points {
		idx := int64(math.Floor(p.T / dt))
		byWindow[idx] = append(byWindow[idx], p.V)
	}

	indexes := make([]int64, 0, len(byWindow))
	for idx := range byWindow {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	buckets := make([]Bucket, 0, len(indexes))
	for _, idx := range indexes {
		values := byWindow[idx]
		sort.Float64s(values)
		buckets = append(buckets, Bucket{
			Mid:    float64(idx)*dt + dt/2,
			Values: values,
		})
	}
	return buckets
}

// Quantile returns the nearest-rank quantile of values: after sorting
// ascending, the element at index min(n-1, floor(n*q)). No interpolation,
// so results are exact observed samples. Empty input returns zero.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sortedQuantile(sorted, q)
}

// sortedQuantile is Quantile over values already sorted ascending.
func sortedQuantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * q))
	if idx > n-1 {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// quantilePoints projects one quantile across buckets. Bucket values are
// already sorted by Buckets.
func quantilePoints(buckets []Bucket, q float64) []Point {
	points := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, Point{T: b.Mid, V: sortedQuantile(b.Values, q)})
	}
	return points
}

// ratePoints converts per-bucket sample counts to completion rates in Hz.
func ratePoints(buckets []Bucket, dt float64) []Point {
	points := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, Point{T: b.Mid, V: float64(len(b.Values)) / dt})
	}
	return points
}
