package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	v, err := Normalize([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)

	_, err = Normalize([]float64{0, 0})
	assert.ErrorIs(t, err, ErrZero)

	_, err = Normalize([]float64{math.NaN(), 1})
	assert.Error(t, err)
}

func TestMean(t *testing.T) {
	m, err := Mean([][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt2/2, m[0], 1e-12)
	assert.InDelta(t, math.Sqrt2/2, m[1], 1e-12)

	_, err = Mean([][]float64{{1, 0}, {1, 0, 0}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"scale invariant", []float64{1, 1}, []float64{5, 5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err := Cosine([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestEncodeDecode(t *testing.T) {
	v := []float64{0.25, -1.5, math.SmallestNonzeroFloat64}
	got, err := Decode(Encode(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}
