package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, 32.0, Dot(a, b), 1e-5)
}

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2, 6}
	assert.InDelta(t, 9.0, SquaredL2(a, b), 1e-5)
	assert.InDelta(t, 3.0, L2(a, b), 1e-5)
}

func TestL2IdentityAndSymmetry(t *testing.T) {
	a := []float32{1.5, -2.0, 4.25}
	b := []float32{-5.0, 3.0, 0.125}
	assert.InDelta(t, 0.0, SquaredL2(a, a), 1e-6)
	assert.InDelta(t, SquaredL2(a, b), SquaredL2(b, a), 1e-6)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-5)
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-5)
}

func TestCosineZeroNorm(t *testing.T) {
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Equal(t, float32(0), Cosine([]float32{1, 2}, []float32{0, 0}))
}

func TestNonFiniteIndex(t *testing.T) {
	assert.Equal(t, -1, NonFiniteIndex([]float32{1, 2, 3}))
	assert.Equal(t, 1, NonFiniteIndex([]float32{1, float32(math.NaN()), 3}))
	assert.Equal(t, 0, NonFiniteIndex([]float32{float32(math.Inf(1)), 2}))
}

func TestNonFiniteTolerated(t *testing.T) {
	// Kernels return the natural IEEE result for non-finite inputs.
	v := Dot([]float32{float32(math.NaN()), 1}, []float32{1, 1})
	assert.True(t, math.IsNaN(float64(v)))
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("l2")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)

	m, err = ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricDot, m)

	_, err = ParseMetric("hamming")
	assert.Error(t, err)
}

func TestKeepLargest(t *testing.T) {
	assert.True(t, MetricDot.KeepLargest())
	assert.True(t, MetricCosine.KeepLargest())
	assert.False(t, MetricL2.KeepLargest())
}

func TestLargeDimensionSmoke(t *testing.T) {
	a := make([]float32, 4096)
	b := make([]float32, 4096)
	for i := range a {
		a[i] = 1
		b[i] = 2
	}
	assert.InDelta(t, 8192.0, Dot(a, b), 1e-2)
}

func TestTransposedScorerMatchesScalar(t *testing.T) {
	dim := 8
	queries := [][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0, 0, 0},
	}
	n := 700 // crosses multiple chunks
	flat := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		for d := 0; d < dim; d++ {
			flat[i*dim+d] = float32(i*dim+d) * 0.01
		}
	}

	got := make([][]float32, len(queries))
	for i := range got {
		got[i] = make([]float32, n)
	}
	s := NewTransposedScorer(flat, dim)
	require.Equal(t, n, s.Len())
	s.Score(MetricL2, queries, func(q, c int, score float32) {
		got[q][c] = score
	}, nil)

	for qi, query := range queries {
		for c := 0; c < n; c++ {
			want := SquaredL2(query, flat[c*dim:(c+1)*dim])
			assert.InDelta(t, want, got[qi][c], 1e-3)
		}
	}
}

func TestTransposedScorerStop(t *testing.T) {
	dim := 4
	flat := make([]float32, 1024*dim)
	s := NewTransposedScorer(flat, dim)
	seen := 0
	s.Score(MetricDot, [][]float32{{1, 1, 1, 1}}, func(_, _ int, _ float32) {
		seen++
	}, func() bool { return seen > 0 })
	assert.Less(t, seen, 1024)
}
