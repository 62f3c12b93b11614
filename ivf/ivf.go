// Package ivf implements the inverted-file index artifact: kmeans-trained
// centroids with per-centroid posting lists of point ids.
//
// Artifacts are derived, non-authoritative state. An artifact is valid for a
// collection only while its fingerprint matches the collection's current
// content fingerprint; any mutation invalidates it.
package ivf

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/edgevec/edgevec/distance"
	"github.com/edgevec/edgevec/internal/kmeans"
)

// ErrTooSmall is returned when a collection is below the indexing threshold.
var ErrTooSmall = errors.New("collection too small for ivf indexing")

// BuildConfig bounds index construction.
type BuildConfig struct {
	// MinIndexedPoints is the smallest collection worth indexing.
	MinIndexedPoints int
	// MinLists and MaxLists clamp nlist = round(sqrt(N)).
	MinLists int
	MaxLists int
	// KMeansMaxTrainingPoints caps the uniformly sampled training subset.
	KMeansMaxTrainingPoints int
	// NProbeDefault is the probe count used without explicit nprobe or
	// target recall.
	NProbeDefault int
}

// DefaultBuildConfig returns the engine defaults.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		MinIndexedPoints:        2048,
		MinLists:                8,
		MaxLists:                256,
		KMeansMaxTrainingPoints: 8192,
		NProbeDefault:           8,
	}
}

// Source is the flattened snapshot of a collection an artifact is built from.
// IDs are ascending; Vectors is the matching [point][dim] block.
type Source struct {
	Dimension   int
	Fingerprint uint64
	IDs         []uint64
	Vectors     []float32
}

// Artifact is one immutable IVF index.
type Artifact struct {
	dimension     int
	size          int
	nlist         int
	nprobeDefault int
	fingerprint   uint64

	centroids []float32 // nlist*dimension
	postings  []*roaring64.Bitmap

	// probeByPercent maps ceil(target_recall*100) to a probe count. It is
	// precomputed at build time and monotone by construction.
	probeByPercent [101]int
}

// Build trains an artifact from src. Reproducible: the kmeans seed derives
// from the source fingerprint, so identical content and config yield an
// identical artifact.
func Build(src Source, cfg BuildConfig) (*Artifact, error) {
	n := len(src.IDs)
	if src.Dimension <= 0 {
		return nil, fmt.Errorf("ivf build requires a positive dimension")
	}
	if len(src.Vectors) != n*src.Dimension {
		return nil, fmt.Errorf("ivf build source is inconsistent: %d ids, %d floats", n, len(src.Vectors))
	}
	if cfg.MinIndexedPoints <= 0 {
		cfg = DefaultBuildConfig()
	}
	if n < cfg.MinIndexedPoints {
		return nil, ErrTooSmall
	}

	nlist := chooseNLists(n, cfg)
	training := sampleTraining(src.Vectors, src.Dimension, n, cfg.KMeansMaxTrainingPoints)
	centroids := kmeans.Train(training, src.Dimension, nlist, src.Fingerprint, kmeans.DefaultConfig())
	if centroids == nil {
		return nil, ErrTooSmall
	}

	postings := make([]*roaring64.Bitmap, nlist)
	for i := range postings {
		postings[i] = roaring64.New()
	}
	for i := 0; i < n; i++ {
		vec := src.Vectors[i*src.Dimension : (i+1)*src.Dimension]
		c := kmeans.AssignNearest(vec, centroids, src.Dimension)
		postings[c].Add(src.IDs[i])
	}

	a := &Artifact{
		dimension:     src.Dimension,
		size:          n,
		nlist:         nlist,
		nprobeDefault: max(1, min(cfg.NProbeDefault, nlist)),
		fingerprint:   src.Fingerprint,
		centroids:     centroids,
		postings:      postings,
	}
	for pct := 0; pct <= 100; pct++ {
		p := int(math.Ceil(float64(nlist) * float64(pct) / 100))
		a.probeByPercent[pct] = max(1, min(p, nlist))
	}
	return a, nil
}

// Fingerprint returns the content fingerprint the artifact was built against.
func (a *Artifact) Fingerprint() uint64 { return a.fingerprint }

// Size returns the number of indexed points.
func (a *Artifact) Size() int { return a.size }

// NLists returns the number of centroids.
func (a *Artifact) NLists() int { return a.nlist }

// Dimension returns the indexed vector dimension.
func (a *Artifact) Dimension() int { return a.dimension }

// ProbeFor derives the probe count for a query. An explicit nprobe wins;
// otherwise the schedule is monotone in targetRecall and never probes fewer
// lists than the result size requires on average.
func (a *Artifact) ProbeFor(limit int, nprobe int, targetRecall *float32) int {
	if nprobe > 0 {
		return max(1, min(nprobe, a.nlist))
	}

	required := 0
	if a.size > 0 {
		required = (limit*a.nlist + a.size - 1) / a.size
	}
	probe := max(a.nprobeDefault, required)

	if targetRecall != nil {
		r := float64(*targetRecall)
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		pct := int(math.Ceil(r * 100))
		probe = max(probe, a.probeByPercent[pct])
	}

	return max(1, min(probe, a.nlist))
}

// CandidateIDs probes the nearest centroids and returns the union of their
// posting lists in ascending id order.
func (a *Artifact) CandidateIDs(query []float32, probes int) []uint64 {
	probes = max(1, min(probes, a.nlist))

	type scored struct {
		idx  int
		dist float32
	}
	centroidScores := make([]scored, a.nlist)
	for i := 0; i < a.nlist; i++ {
		center := a.centroids[i*a.dimension : (i+1)*a.dimension]
		centroidScores[i] = scored{idx: i, dist: distance.SquaredL2(query, center)}
	}
	sort.Slice(centroidScores, func(i, j int) bool {
		if centroidScores[i].dist != centroidScores[j].dist {
			return centroidScores[i].dist < centroidScores[j].dist
		}
		return centroidScores[i].idx < centroidScores[j].idx
	})

	union := roaring64.New()
	for _, s := range centroidScores[:probes] {
		union.Or(a.postings[s.idx])
	}
	return union.ToArray()
}

// PostingSizes returns the posting list cardinalities (for introspection and
// tests).
func (a *Artifact) PostingSizes() []uint64 {
	sizes := make([]uint64, a.nlist)
	for i, p := range a.postings {
		sizes[i] = p.GetCardinality()
	}
	return sizes
}

func chooseNLists(n int, cfg BuildConfig) int {
	sqrt := int(math.Round(math.Sqrt(float64(n))))
	nlist := max(cfg.MinLists, min(sqrt, cfg.MaxLists))
	return min(nlist, n)
}

// sampleTraining uniformly samples up to maxPoints vectors with a fixed
// stride so training stays deterministic.
func sampleTraining(vectors []float32, dim, n, maxPoints int) []float32 {
	if maxPoints <= 0 || n <= maxPoints {
		return vectors
	}
	step := (n + maxPoints - 1) / maxPoints
	out := make([]float32, 0, (n/step+1)*dim)
	for i := 0; i < n; i += step {
		out = append(out, vectors[i*dim:(i+1)*dim]...)
	}
	return out
}
