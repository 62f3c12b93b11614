// Package searcher provides the bounded ranking heap used by the search
// executor.
package searcher

import "sort"

// Candidate is a scored point held by a TopK heap.
type Candidate struct {
	ID    uint64
	Score float32

	// rank orders candidates: smaller is better. For keep-largest metrics
	// (dot, cosine) rank is the negated score.
	rank float32
}

// TopK keeps the best `limit` candidates seen so far.
//
// Internally it is a max-heap on (rank, id): the worst retained candidate sits
// at the root so a better arrival can replace it in O(log k). Ties on score
// break by ascending point id, which makes results deterministic.
type TopK struct {
	limit       int
	keepLargest bool
	items       []Candidate
}

// NewTopK creates a heap retaining limit candidates. keepLargest selects the
// orientation: true keeps the largest scores (dot/cosine), false keeps the
// smallest (l2).
func NewTopK(limit int, keepLargest bool) *TopK {
	return &TopK{
		limit:       limit,
		keepLargest: keepLargest,
		items:       make([]Candidate, 0, min(limit, 1024)),
	}
}

// Len returns the number of retained candidates.
func (t *TopK) Len() int { return len(t.items) }

// Push offers a candidate; it is retained only if it beats the current worst.
func (t *TopK) Push(id uint64, score float32) {
	if t.limit <= 0 {
		return
	}
	c := Candidate{ID: id, Score: score, rank: t.rankOf(score)}

	if len(t.items) < t.limit {
		t.items = append(t.items, c)
		t.siftUp(len(t.items) - 1)
		return
	}
	if !worse(t.items[0], c) {
		return
	}
	t.items[0] = c
	t.siftDown(0)
}

// Merge folds another heap's candidates into this one. Used when parallel
// scoring chunks each build a local heap.
func (t *TopK) Merge(other *TopK) {
	for _, c := range other.items {
		t.Push(c.ID, c.Score)
	}
}

// Results drains the heap and returns candidates sorted best-first.
func (t *TopK) Results() []Candidate {
	out := make([]Candidate, len(t.items))
	copy(out, t.items)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	t.items = t.items[:0]
	return out
}

func (t *TopK) rankOf(score float32) float32 {
	if t.keepLargest {
		return -score
	}
	return score
}

// worse reports whether a ranks strictly worse than b.
func worse(a, b Candidate) bool {
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	return a.ID > b.ID
}

func (t *TopK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !worse(t.items[i], t.items[parent]) {
			return
		}
		t.items[i], t.items[parent] = t.items[parent], t.items[i]
		i = parent
	}
}

func (t *TopK) siftDown(i int) {
	n := len(t.items)
	for {
		worst := i
		if l := 2*i + 1; l < n && worse(t.items[l], t.items[worst]) {
			worst = l
		}
		if r := 2*i + 2; r < n && worse(t.items[r], t.items[worst]) {
			worst = r
		}
		if worst == i {
			return
		}
		t.items[i], t.items[worst] = t.items[worst], t.items[i]
		i = worst
	}
}
