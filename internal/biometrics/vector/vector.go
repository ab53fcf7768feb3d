// Package vector implements the embedding arithmetic used for template
// maintenance and matching.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDimension is returned when vectors of different lengths are combined.
var ErrDimension = errors.New("embedding dimension mismatch")

// ErrZero is returned when a vector has no direction.
var ErrZero = errors.New("zero-length embedding")

// Normalize returns v scaled to unit L2 norm.
func Normalize(v []float64) ([]float64, error) {
	var sum float64
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("embedding contains non-finite value")
		}
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if len(v) == 0 || norm == 0 {
		return nil, ErrZero
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}

// Mean returns the normalized element-wise mean of vs.
func Mean(vs [][]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, ErrZero
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %d != %d", ErrDimension, len(v), dim)
		}
		for i, x := range v {
			acc[i] += x
		}
	}
	for i := range acc {
		acc[i] /= float64(len(vs))
	}
	return Normalize(acc)
}

// Cosine returns the cosine similarity of a and b, in [-1, 1].
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimension, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, ErrZero
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim)), nil
}

// Encode serializes v as little-endian float64s.
func Encode(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

// Decode reverses Encode.
func Decode(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("encoded embedding length %d is not a multiple of 8", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}
