package kmeans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevec/edgevec/distance"
)

// twoClusters builds n points split between two well-separated blobs.
func twoClusters(n, dim int) []float32 {
	vectors := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		base := float32(0)
		if i%2 == 1 {
			base = 100
		}
		for d := 0; d < dim; d++ {
			vectors[i*dim+d] = base + float32((i*7+d*3)%5)*0.1
		}
	}
	return vectors
}

func TestTrainSeparatesClusters(t *testing.T) {
	dim := 4
	vectors := twoClusters(200, dim)
	centroids := Train(vectors, dim, 2, 42, DefaultConfig())
	require.Len(t, centroids, 2*dim)

	// One centroid near 0, one near 100.
	c0 := centroids[:dim]
	c1 := centroids[dim:]
	low, high := c0, c1
	if c0[0] > c1[0] {
		low, high = c1, c0
	}
	assert.Less(t, low[0], float32(10))
	assert.Greater(t, high[0], float32(90))
}

func TestTrainDeterministic(t *testing.T) {
	dim := 8
	vectors := twoClusters(300, dim)
	a := Train(vectors, dim, 4, 7, DefaultConfig())
	b := Train(vectors, dim, 4, 7, DefaultConfig())
	assert.Equal(t, a, b)
}

func TestTrainSeedChangesNothingStructural(t *testing.T) {
	dim := 4
	vectors := twoClusters(100, dim)
	a := Train(vectors, dim, 2, 1, DefaultConfig())
	b := Train(vectors, dim, 2, 2, DefaultConfig())
	require.Len(t, a, len(b))
	// Different seeds may order centroids differently but every point must
	// still land near its own blob.
	for i := 0; i < 100; i++ {
		vec := vectors[i*dim : (i+1)*dim]
		assert.Less(t, distance.SquaredL2(vec, a[AssignNearest(vec, a, dim)*dim:(AssignNearest(vec, a, dim)+1)*dim]),
			float32(100))
		assert.Less(t, distance.SquaredL2(vec, b[AssignNearest(vec, b, dim)*dim:(AssignNearest(vec, b, dim)+1)*dim]),
			float32(100))
	}
}

func TestTrainTooFewPoints(t *testing.T) {
	assert.Nil(t, Train([]float32{1, 2}, 2, 5, 0, DefaultConfig()))
}

func TestAssignNearest(t *testing.T) {
	centroids := []float32{0, 0, 10, 10}
	assert.Equal(t, 0, AssignNearest([]float32{1, 1}, centroids, 2))
	assert.Equal(t, 1, AssignNearest([]float32{9, 9}, centroids, 2))
}
