// SPDX-License-Identifier: MIT

package speakers

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Unit-norm tolerance. Profiles store L2-normalized embeddings; anything
// outside this band means the producer is broken and must be surfaced,
// never silently re-normalized.
const (
	normFloor = 0.9
	normCeil  = 1.1
)

// MeanVector returns the arithmetic mean of equal-dimension vectors.
func MeanVector(vecs [][]float64) ([]float64, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no vectors to average")
	}
	dim := len(vecs[0])
	if dim == 0 {
		return nil, fmt.Errorf("zero-dimension embedding")
	}
	mean := make([]float64, dim)
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(vecs)), mean)
	return mean, nil
}

// L2Normalize scales v to unit length in place. A zero vector cannot be
// normalized and is reported as an error.
func L2Normalize(v []float64) error {
	norm := floats.Norm(v, 2)
	if norm == 0 {
		return fmt.Errorf("cannot normalize zero vector")
	}
	floats.Scale(1/norm, v)
	return nil
}

// CosineDistance returns 1 minus the cosine similarity of a and b.
func CosineDistance(a, b []float64) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("zero vector has no direction")
	}
	return 1 - floats.Dot(a, b)/(na*nb), nil
}

// DeduplicateEmbeddings drops vectors whose cosine distance to an already
// kept vector is below threshold. Order is preserved; the input is not
// mutated.
func DeduplicateEmbeddings(vecs [][]float64, threshold float64) [][]float64 {
	if len(vecs) <= 1 {
		return vecs
	}
	unique := make([][]float64, 0, len(vecs))
	unique = append(unique, vecs[0])
	for _, v := range vecs[1:] {
		dup := false
		for _, kept := range unique {
			if d, err := CosineDistance(v, kept); err == nil && d < threshold {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, v)
		}
	}
	return unique
}

// ValidateUnitNorm errors when v is not approximately unit length.
func ValidateUnitNorm(v []float64) error {
	norm := floats.Norm(v, 2)
	if norm < normFloor || norm > normCeil {
		return fmt.Errorf("embedding norm %.4f outside [%.1f, %.1f]", norm, normFloor, normCeil)
	}
	return nil
}
