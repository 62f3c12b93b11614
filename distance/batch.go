package distance

// TransposedScorer streams a contiguous [point][dim] candidate block against
// many queries at once. Candidates are visited in chunks so a chunk stays hot
// in cache while every query scores it, which beats query-major iteration once
// the query count is large.
type TransposedScorer struct {
	flat  []float32
	dim   int
	chunk int
}

// DefaultChunkPoints is the number of candidate points scored per chunk.
// 256 points of 128 dims is 128 KiB of float32, comfortably inside L2.
const DefaultChunkPoints = 256

// NewTransposedScorer wraps a flattened candidate block of n*dim float32s.
func NewTransposedScorer(flat []float32, dim int) *TransposedScorer {
	return &TransposedScorer{flat: flat, dim: dim, chunk: DefaultChunkPoints}
}

// Len returns the number of candidate points in the block.
func (s *TransposedScorer) Len() int {
	if s.dim == 0 {
		return 0
	}
	return len(s.flat) / s.dim
}

// Score computes the metric between every query and every candidate.
// emit is called as emit(queryIndex, candidateIndex, score); candidate order
// within a query is ascending. stop is checked once per chunk and aborts the
// scan when it returns true.
func (s *TransposedScorer) Score(metric Metric, queries [][]float32, emit func(q, cand int, score float32), stop func() bool) {
	score, err := Provider(metric)
	if err != nil {
		return
	}

	n := s.Len()
	for base := 0; base < n; base += s.chunk {
		if stop != nil && stop() {
			return
		}
		end := base + s.chunk
		if end > n {
			end = n
		}
		block := s.flat[base*s.dim : end*s.dim]
		for qi, query := range queries {
			for ci := 0; ci < end-base; ci++ {
				cand := block[ci*s.dim : (ci+1)*s.dim]
				emit(qi, base+ci, score(query, cand))
			}
		}
	}
}
