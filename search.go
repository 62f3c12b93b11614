package edgevec

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/distance"
	"github.com/edgevec/edgevec/metadata"
	"github.com/edgevec/edgevec/searcher"
)

// SearchMode selects the scoring path.
type SearchMode int

const (
	// ModeAuto lets the executor choose between exact and IVF.
	ModeAuto SearchMode = iota
	// ModeExact forces a full linear scan.
	ModeExact
	// ModeIVF forces the inverted-file index (falling back to exact when no
	// valid artifact exists).
	ModeIVF
)

func (m SearchMode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeIVF:
		return "ivf"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseSearchMode parses the wire name of a mode.
func ParseSearchMode(s string) (SearchMode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "exact":
		return ModeExact, nil
	case "ivf":
		return ModeIVF, nil
	default:
		return 0, fmt.Errorf("unsupported mode %q", s)
	}
}

// SearchRequest is the top-k query contract.
type SearchRequest struct {
	Metric distance.Metric
	Query  []float32
	// Limit is the top-k size. A zero Limit means the default of 10 unless
	// LimitSet marks it as an explicit request for zero results.
	Limit    int
	LimitSet bool
	Mode     SearchMode
	// NProbe overrides the IVF probe count when > 0.
	NProbe int
	// TargetRecall, when set, drives probe selection from the artifact's
	// monotone schedule.
	TargetRecall   *float32
	Filter         *metadata.Filter
	IncludePayload bool
}

// Hit is one ranked search result. Value is metric-dependent: a similarity
// for dot/cosine, a Euclidean distance for l2.
type Hit struct {
	ID      uint64           `json:"id"`
	Value   float32          `json:"value"`
	Payload metadata.Payload `json:"payload,omitempty"`
}

// SearchResult is a ranked hit list plus the path that produced it.
type SearchResult struct {
	Mode SearchMode `json:"mode"`
	Hits []Hit      `json:"hits"`
}

// Distance computes an ad-hoc pairwise score with strict validation. The L2
// result is the Euclidean distance, not its square.
func (e *Engine) Distance(metric distance.Metric, left, right []float32) (float32, error) {
	if len(left) == 0 || len(right) == 0 {
		return 0, ErrInvalidArgument("vectors must not be empty")
	}
	if len(left) != len(right) {
		return 0, ErrInvalidArgument("left and right must have the same length")
	}
	if i := distance.NonFiniteIndex(left); i >= 0 {
		return 0, ErrInvalidArgument("left vector contains non-finite value at index %d", i)
	}
	if i := distance.NonFiniteIndex(right); i >= 0 {
		return 0, ErrInvalidArgument("right vector contains non-finite value at index %d", i)
	}

	switch metric {
	case distance.MetricDot:
		return distance.Dot(left, right), nil
	case distance.MetricL2:
		return distance.L2(left, right), nil
	case distance.MetricCosine:
		if distance.SquaredNorm(left) <= distance.ZeroNormEpsilon ||
			distance.SquaredNorm(right) <= distance.ZeroNormEpsilon {
			return 0, ErrInvalidArgument("cosine similarity is undefined for zero vectors")
		}
		return distance.Cosine(left, right), nil
	default:
		return 0, ErrInvalidArgument("unsupported metric")
	}
}

// Search returns the single nearest point under the metric.
func (e *Engine) Search(ctx context.Context, name string, metric distance.Metric, query []float32) (Hit, error) {
	res, err := e.SearchTopK(ctx, name, SearchRequest{Metric: metric, Query: query, Limit: 1, Mode: ModeExact})
	if err != nil {
		return Hit{}, err
	}
	if len(res.Hits) == 0 {
		return Hit{}, ErrInvalidArgument("collection contains no points")
	}
	return res.Hits[0], nil
}

// SearchTopK executes one top-k query.
func (e *Engine) SearchTopK(ctx context.Context, name string, req SearchRequest) (SearchResult, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	defer finish()

	e.counters.Searches.Add(1)
	e.counters.SearchQueries.Add(1)

	handle, err := e.handle(name)
	if err != nil {
		return SearchResult{}, err
	}
	handle.mu.RLock()
	defer handle.mu.RUnlock()

	res, err := e.searchLocked(ctx, name, handle.c, &req, 1)
	if err != nil {
		return SearchResult{}, err
	}
	return res, nil
}

// SearchTopKBatch executes up to search_batch_max_queries top-k queries over
// one read view of the collection.
func (e *Engine) SearchTopKBatch(ctx context.Context, name string, queries [][]float32, req SearchRequest) ([]SearchResult, error) {
	ctx, finish, err := e.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer finish()

	if len(queries) == 0 {
		return nil, ErrInvalidArgument("batch must contain at least one query")
	}
	if len(queries) > e.cfg.Runtime.SearchBatchMaxQueries {
		return nil, ErrInvalidArgument("batch exceeds %d queries", e.cfg.Runtime.SearchBatchMaxQueries)
	}

	e.counters.Searches.Add(1)
	e.counters.SearchQueries.Add(uint64(len(queries)))

	handle, err := e.handle(name)
	if err != nil {
		return nil, err
	}
	handle.mu.RLock()
	defer handle.mu.RUnlock()
	c := handle.c

	// The transposed fast path: many queries, L2, no filter.
	if len(queries) >= e.cfg.Search.ExactBatchTransposeMinQueries &&
		req.Metric == distance.MetricL2 && req.Filter == nil {
		if err := e.validateBatch(c, queries, &req); err != nil {
			return nil, err
		}
		return e.searchBatchTransposed(ctx, c, queries, &req)
	}

	out := make([]SearchResult, len(queries))
	for i, query := range queries {
		r := req
		r.Query = query
		res, err := e.searchLocked(ctx, name, c, &r, len(queries))
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func (e *Engine) validateBatch(c *collection.Collection, queries [][]float32, req *SearchRequest) error {
	for _, q := range queries {
		r := *req
		r.Query = q
		if _, err := e.normalizeSearch(c, &r); err != nil {
			return err
		}
	}
	return nil
}

// normalizeSearch validates the request against the collection and returns
// the effective limit.
func (e *Engine) normalizeSearch(c *collection.Collection, req *SearchRequest) (int, error) {
	if c.Len() == 0 {
		return 0, ErrInvalidArgument("collection contains no points")
	}
	if len(req.Query) != c.Dimension() {
		return 0, ErrInvalidArgument("query dimension %d does not match collection dimension %d",
			len(req.Query), c.Dimension())
	}
	if i := distance.NonFiniteIndex(req.Query); i >= 0 {
		return 0, ErrInvalidArgument("query contains non-finite value at index %d", i)
	}
	if req.Metric == distance.MetricCosine && distance.SquaredNorm(req.Query) <= distance.ZeroNormEpsilon {
		return 0, ErrInvalidArgument("cosine similarity is undefined for zero vectors")
	}

	limit := req.Limit
	if limit < 0 {
		return 0, ErrInvalidArgument("limit must be >= 0")
	}
	if limit == 0 && !req.LimitSet {
		limit = 10
	}
	if limit > e.cfg.Runtime.MaxTopKLimit {
		return 0, ErrInvalidArgument("limit exceeds maximum of %d", e.cfg.Runtime.MaxTopKLimit)
	}

	if req.TargetRecall != nil {
		r := float64(*req.TargetRecall)
		if math.IsNaN(r) || r <= 0 || r > 1 {
			return 0, ErrInvalidArgument("target_recall must be within (0.0, 1.0]")
		}
	}
	if req.Filter != nil {
		if err := req.Filter.Validate(); err != nil {
			return 0, ErrInvalidArgument("%v", err)
		}
	}
	if limit > c.Len() {
		limit = c.Len()
	}
	return limit, nil
}

// searchLocked runs one query against a read-locked collection. queryCount
// feeds the work estimate for the dispatch policy.
func (e *Engine) searchLocked(ctx context.Context, name string, c *collection.Collection, req *SearchRequest, queryCount int) (SearchResult, error) {
	keep, err := e.normalizeSearch(c, req)
	if err != nil {
		return SearchResult{}, err
	}
	if keep == 0 {
		return SearchResult{Mode: ModeExact, Hits: []Hit{}}, nil
	}

	candidates, mode, err := e.selectCandidates(name, c, req, keep)
	if err != nil {
		return SearchResult{}, err
	}

	var top *searcher.TopK
	if candidates == nil {
		top, err = e.scoreExact(ctx, c, req, keep, queryCount)
	} else {
		e.counters.IVFQueries.Add(1)
		top, err = e.scoreCandidates(ctx, c, req, keep, candidates)
	}
	if err != nil {
		return SearchResult{}, err
	}
	if err := ctx.Err(); err != nil {
		e.counters.Timeouts.Add(1)
		return SearchResult{}, ErrTimeout("search cancelled: %v", err)
	}

	return SearchResult{Mode: mode, Hits: e.materializeHits(c, req, top)}, nil
}

// selectCandidates picks the scoring source: nil means full scan.
func (e *Engine) selectCandidates(name string, c *collection.Collection, req *SearchRequest, keep int) ([]uint64, SearchMode, error) {
	switch req.Mode {
	case ModeExact:
		return nil, ModeExact, nil
	case ModeIVF, ModeAuto:
	default:
		return nil, ModeExact, ErrInvalidArgument("unsupported search mode")
	}

	// Centroids are trained under L2; auto never routes other metrics to it.
	if req.Mode == ModeAuto && req.Metric != distance.MetricL2 {
		return nil, ModeExact, nil
	}

	minIndexed := e.cache.BuildConfig().MinIndexedPoints
	if c.Len() < minIndexed {
		if req.Mode == ModeIVF {
			return nil, ModeExact, ErrInvalidArgument("mode 'ivf' requires at least %d points", minIndexed)
		}
		return nil, ModeExact, nil
	}

	if artifact := e.cache.Lookup(name, c.Fingerprint()); artifact != nil {
		probes := artifact.ProbeFor(keep, req.NProbe, req.TargetRecall)
		return artifact.CandidateIDs(req.Query, probes), ModeIVF, nil
	}

	// Missing, building, or stale: correct results still come from the
	// exact path while a fresh build is scheduled.
	if handle, err := e.handle(name); err == nil {
		e.scheduleIndexBuild(name, handle)
	}
	e.counters.IVFFallbackExact.Add(1)
	return nil, ModeExact, nil
}

// scoreExact scans every point. The dispatch policy decides between scoring
// inline on the caller and fanning out to parallel chunks.
func (e *Engine) scoreExact(ctx context.Context, c *collection.Collection, req *SearchRequest, keep, queryCount int) (*searcher.TopK, error) {
	n := c.Len()
	work := n * c.Dimension() * queryCount
	sc := e.cfg.Search

	inline := n < sc.InlineMaxPoints && work < sc.InlineMaxWork
	if !inline {
		inline = e.gov.InFlight() <= int64(sc.InlineLightLoadMaxInFlight) && work <= sc.InlineLightLoadMaxWork
	}
	parallel := !inline && (n >= sc.ParallelScoreMinPoints || work >= sc.ParallelScoreMinWork)

	if !parallel {
		return e.scoreIDs(ctx, c, req, keep, c.IDs())
	}
	return e.scoreParallel(ctx, c, req, keep)
}

// scoreIDs scores a candidate id list on the calling goroutine.
// Cancellation is observed every chunk of ids.
func (e *Engine) scoreIDs(ctx context.Context, c *collection.Collection, req *SearchRequest, keep int, ids []uint64) (*searcher.TopK, error) {
	score, err := distance.Provider(req.Metric)
	if err != nil {
		return nil, ErrInvalidArgument("%v", err)
	}
	top := searcher.NewTopK(keep, req.Metric.KeepLargest())

	const cancelStride = 1024
	for base := 0; base < len(ids); base += cancelStride {
		if err := ctx.Err(); err != nil {
			return top, nil // caller converts ctx expiry into a timeout
		}
		end := base + cancelStride
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[base:end] {
			p, ok := c.Get(id)
			if !ok {
				continue
			}
			if !req.Filter.Matches(p.Payload) {
				continue
			}
			e.pushScored(top, req.Metric, p, score(req.Query, p.Values))
		}
	}
	return top, nil
}

// scoreParallel splits the scan into chunks across a worker group, one local
// heap per chunk, merged at the end. Workers observe cancellation at chunk
// boundaries.
func (e *Engine) scoreParallel(ctx context.Context, c *collection.Collection, req *SearchRequest, keep int) (*searcher.TopK, error) {
	ids := c.IDs()
	n := len(ids)

	workers := runtime.GOMAXPROCS(0)
	if workers > 8 {
		workers = 8
	}
	chunkLen := (n + workers - 1) / workers
	if chunkLen < e.cfg.Search.ParallelScoreMinChunkLen {
		chunkLen = e.cfg.Search.ParallelScoreMinChunkLen
	}

	var chunks [][]uint64
	for base := 0; base < n; base += chunkLen {
		end := base + chunkLen
		if end > n {
			end = n
		}
		chunks = append(chunks, ids[base:end])
	}

	heaps := make([]*searcher.TopK, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			top, err := e.scoreIDs(gctx, c, req, keep, chunk)
			if err != nil {
				return err
			}
			heaps[i] = top
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := searcher.NewTopK(keep, req.Metric.KeepLargest())
	for _, h := range heaps {
		if h != nil {
			merged.Merge(h)
		}
	}
	return merged, nil
}

// scoreCandidates scores an IVF candidate list.
func (e *Engine) scoreCandidates(ctx context.Context, c *collection.Collection, req *SearchRequest, keep int, candidates []uint64) (*searcher.TopK, error) {
	return e.scoreIDs(ctx, c, req, keep, candidates)
}

// pushScored offers one scored point to the heap, skipping candidates whose
// score is not finite (non-finite stored components under permissive
// collections) and zero-norm cosine candidates.
func (e *Engine) pushScored(top *searcher.TopK, metric distance.Metric, p *collection.Point, score float32) {
	f := float64(score)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	if metric == distance.MetricCosine && score == 0 && distance.SquaredNorm(p.Values) <= distance.ZeroNormEpsilon {
		return
	}
	top.Push(p.ID, score)
}

// materializeHits converts heap candidates into hits, applying the L2
// square root and optional payload hydration.
func (e *Engine) materializeHits(c *collection.Collection, req *SearchRequest, top *searcher.TopK) []Hit {
	results := top.Results()
	hits := make([]Hit, 0, len(results))
	for _, cand := range results {
		value := cand.Score
		if req.Metric == distance.MetricL2 {
			value = float32(math.Sqrt(float64(value)))
		}
		hit := Hit{ID: cand.ID, Value: value}
		if req.IncludePayload {
			if p, ok := c.Get(cand.ID); ok && len(p.Payload) > 0 {
				hit.Payload = p.Payload.Clone()
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

// searchBatchTransposed runs the contiguous-candidate kernel: candidates are
// laid out [point][dim] and streamed in chunks past every query.
func (e *Engine) searchBatchTransposed(ctx context.Context, c *collection.Collection, queries [][]float32, req *SearchRequest) ([]SearchResult, error) {
	keep := req.Limit
	if keep == 0 && !req.LimitSet {
		keep = 10
	}
	if keep > c.Len() {
		keep = c.Len()
	}

	flat, ids := c.FlatValues()
	scorer := distance.NewTransposedScorer(flat, c.Dimension())

	heaps := make([]*searcher.TopK, len(queries))
	for i := range heaps {
		heaps[i] = searcher.NewTopK(keep, req.Metric.KeepLargest())
	}

	cancelled := false
	scorer.Score(req.Metric, queries, func(q, cand int, score float32) {
		heaps[q].Push(ids[cand], score)
	}, func() bool {
		if ctx.Err() != nil {
			cancelled = true
		}
		return cancelled
	})
	if cancelled {
		e.counters.Timeouts.Add(1)
		return nil, ErrTimeout("search cancelled: %v", ctx.Err())
	}

	out := make([]SearchResult, len(queries))
	for i, h := range heaps {
		out[i] = SearchResult{Mode: ModeExact, Hits: e.materializeHits(c, req, h)}
	}
	return out, nil
}
