// Package kmeans trains IVF centroids with Lloyd's algorithm.
//
// Builds must be reproducible: all seeding derives from a caller-provided
// seed (hashed from the collection content), never from global randomness.
package kmeans

import (
	"math"

	"github.com/edgevec/edgevec/distance"
	"github.com/edgevec/edgevec/internal/hash"
)

// Config bounds a training run.
type Config struct {
	// MaxIterations caps Lloyd's rounds.
	MaxIterations int
	// MovementEpsilon stops iterating once the largest squared centroid
	// movement falls below it.
	MovementEpsilon float32
}

// DefaultConfig matches the engine's build settings.
func DefaultConfig() Config {
	return Config{MaxIterations: 4, MovementEpsilon: 1e-6}
}

// Train clusters n=len(vectors)/dim points into k centroids and returns them
// flattened (k*dim). Seeding uses farthest-point selection starting from a
// deterministically hashed index, so identical inputs produce identical
// centroids. Returns nil when there are fewer points than clusters.
func Train(vectors []float32, dim, k int, seed uint64, cfg Config) []float32 {
	if dim <= 0 || k <= 0 {
		return nil
	}
	n := len(vectors) / dim
	if n < k {
		return nil
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1
	}

	centroids := seedCentroids(vectors, dim, n, k, seed)

	assignments := make([]int, n)
	sums := make([]float32, k*dim)
	counts := make([]int, k)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := AssignNearest(vec, centroids, dim)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			counts[c]++
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += vec[d]
			}
		}

		var maxMove float32
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster from a deterministic point.
				idx := int(hash.Mix64(seed+uint64(c)+uint64(iter)) % uint64(n))
				copy(centroids[c*dim:(c+1)*dim], vectors[idx*dim:(idx+1)*dim])
				continue
			}
			scale := 1 / float32(counts[c])
			var move float32
			for d := 0; d < dim; d++ {
				next := sums[c*dim+d] * scale
				delta := next - centroids[c*dim+d]
				move += delta * delta
				centroids[c*dim+d] = next
			}
			if move > maxMove {
				maxMove = move
			}
		}
		if maxMove < cfg.MovementEpsilon {
			break
		}
	}

	return centroids
}

// seedCentroids picks k starting centroids: a hashed start index, then
// farthest-point selection, a deterministic stand-in for kmeans++ sampling.
func seedCentroids(vectors []float32, dim, n, k int, seed uint64) []float32 {
	centroids := make([]float32, 0, k*dim)
	selected := make([]bool, n)
	minDist := make([]float32, n)
	for i := range minDist {
		minDist[i] = float32(math.Inf(1))
	}

	first := int(hash.Mix64(seed) % uint64(n))
	centroids = append(centroids, vectors[first*dim:(first+1)*dim]...)
	selected[first] = true

	for len(centroids)/dim < k {
		last := centroids[len(centroids)-dim:]
		bestIdx := -1
		bestDist := float32(math.Inf(-1))
		for i := 0; i < n; i++ {
			if selected[i] {
				continue
			}
			d := distance.SquaredL2(vectors[i*dim:(i+1)*dim], last)
			if d < minDist[i] {
				minDist[i] = d
			}
			if minDist[i] > bestDist {
				bestDist = minDist[i]
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			for i := range selected {
				if !selected[i] {
					bestIdx = i
					break
				}
			}
			if bestIdx < 0 {
				bestIdx = 0
			}
		}
		selected[bestIdx] = true
		centroids = append(centroids, vectors[bestIdx*dim:(bestIdx+1)*dim]...)
	}
	return centroids
}

// AssignNearest returns the index of the centroid nearest to vec under
// squared L2.
func AssignNearest(vec []float32, centroids []float32, dim int) int {
	k := len(centroids) / dim
	best := 0
	bestDist := distance.SquaredL2(vec, centroids[:dim])
	for c := 1; c < k; c++ {
		d := distance.SquaredL2(vec, centroids[c*dim:(c+1)*dim])
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
