// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import "math"

// Cosine returns the cosine similarity of a and b in [-1,1]. Mismatched
// lengths or zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}

	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, c))
}

// FoldCentroid folds vec into a running mean of count vectors and returns
// the new mean. The input slices are not modified.
func FoldCentroid(centroid []float32, count int, vec []float32) []float32 {
	if count <= 0 || len(centroid) != len(vec) {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}

	n := float32(count + 1)
	out := make([]float32, len(vec))
	for i := range vec {
		out[i] = centroid[i] + (vec[i]-centroid[i])/n
	}
	return out
}

// Mean averages vectors of equal length, skipping mismatches.
func Mean(vectors [][]float32) []float32 {
	var out []float32
	n := 0
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if out == nil {
			out = make([]float32, len(v))
		}
		if len(v) != len(out) {
			continue
		}
		for i := range v {
			out[i] += v[i]
		}
		n++
	}
	for i := range out {
		out[i] /= float32(n)
	}
	return out
}
