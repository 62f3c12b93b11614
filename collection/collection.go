// Package collection implements the in-memory state of a single named
// collection: its fixed dimension, point map, payloads, and pagination order.
//
// A Collection is not safe for concurrent use on its own; the engine wraps
// each instance in a single-writer/multi-reader lock.
package collection

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/edgevec/edgevec/distance"
	"github.com/edgevec/edgevec/internal/hash"
	"github.com/edgevec/edgevec/metadata"
)

// ErrEmptyName is returned when a collection name is blank.
var ErrEmptyName = errors.New("collection name must not be empty")

// ErrInvalidDimension indicates a non-positive configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrDimensionMismatch indicates a vector whose length differs from the
// collection dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("invalid vector dimension: expected %d, got %d", e.Expected, e.Actual)
}

// ErrNonFinite indicates a NaN or infinite component rejected under
// strict-finite ingestion.
type ErrNonFinite struct {
	Index int
}

func (e *ErrNonFinite) Error() string {
	return fmt.Sprintf("vector contains non-finite value at index %d", e.Index)
}

// Point is an (id, vector, optional payload) triple.
type Point struct {
	ID      uint64
	Values  []float32
	Payload metadata.Payload
}

// Collection holds the points of one named, fixed-dimension collection.
type Collection struct {
	name         string
	dimension    int
	strictFinite bool

	points map[uint64]*Point
	ids    []uint64 // ascending; authoritative enumeration order

	mutationVersion uint64
	payloadCount    int

	// Fingerprint cache. Guarded by fpMu so concurrent readers holding the
	// engine's shared read lock can still memoize the digest.
	fpMu      sync.Mutex
	fpVersion uint64
	fpValue   uint64
	fpValid   bool
}

// New creates an empty collection.
func New(name string, dimension int, strictFinite bool) (*Collection, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}
	return &Collection{
		name:         name,
		dimension:    dimension,
		strictFinite: strictFinite,
		points:       make(map[uint64]*Point),
	}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the fixed vector dimension.
func (c *Collection) Dimension() int { return c.dimension }

// StrictFinite reports whether NaN/Inf components are rejected on ingest.
func (c *Collection) StrictFinite() bool { return c.strictFinite }

// Len returns the number of stored points.
func (c *Collection) Len() int { return len(c.points) }

// MutationVersion returns a counter bumped on every mutation. Index artifacts
// snapshot it to detect staleness cheaply.
func (c *Collection) MutationVersion() uint64 { return c.mutationVersion }

// HasPayloadPoints reports whether any stored point carries a payload.
func (c *Collection) HasPayloadPoints() bool { return c.payloadCount > 0 }

// ValidateVector checks dimension and, under strict-finite, component
// finiteness.
func (c *Collection) ValidateVector(values []float32) error {
	if len(values) != c.dimension {
		return &ErrDimensionMismatch{Expected: c.dimension, Actual: len(values)}
	}
	if c.strictFinite {
		if i := distance.NonFiniteIndex(values); i >= 0 {
			return &ErrNonFinite{Index: i}
		}
	}
	return nil
}

// Upsert validates and stores a point, replacing any previous point with the
// same id. It reports whether the point was created (vs replaced).
func (c *Collection) Upsert(id uint64, values []float32, payload metadata.Payload) (bool, error) {
	if err := c.ValidateVector(values); err != nil {
		return false, err
	}
	return c.UpsertUnchecked(id, values, payload), nil
}

// UpsertUnchecked stores a point without validation. Callers must have
// validated already (e.g. replay of records validated at append time).
func (c *Collection) UpsertUnchecked(id uint64, values []float32, payload metadata.Payload) bool {
	prev, existed := c.points[id]
	if existed && len(prev.Payload) > 0 {
		c.payloadCount--
	}
	if len(payload) > 0 {
		c.payloadCount++
	}
	c.points[id] = &Point{ID: id, Values: values, Payload: payload}
	if !existed {
		c.insertID(id)
	}
	c.bumpVersion()
	return !existed
}

// Get returns the point with the given id.
func (c *Collection) Get(id uint64) (*Point, bool) {
	p, ok := c.points[id]
	return p, ok
}

// Delete removes a point. Deleting a missing point is a no-op.
func (c *Collection) Delete(id uint64) bool {
	p, ok := c.points[id]
	if !ok {
		return false
	}
	if len(p.Payload) > 0 {
		c.payloadCount--
	}
	delete(c.points, id)
	c.removeID(id)
	c.bumpVersion()
	return true
}

// SetPayload merges fields into the payloads of the given points, preserving
// vectors. Missing ids are skipped. It returns the number of points whose
// payload actually changed.
func (c *Collection) SetPayload(ids []uint64, fields metadata.Payload) int {
	changed := 0
	for _, id := range ids {
		p, ok := c.points[id]
		if !ok {
			continue
		}
		touched := false
		next := p.Payload
		for k, v := range fields {
			cur, has := next[k]
			if has && cur.Equal(v) {
				continue
			}
			if next == nil {
				next = metadata.Payload{}
			} else if !touched {
				next = next.Clone()
				if next == nil {
					next = metadata.Payload{}
				}
			}
			next[k] = v
			touched = true
		}
		if touched {
			if len(p.Payload) == 0 && len(next) > 0 {
				c.payloadCount++
			}
			p.Payload = next
			changed++
		}
	}
	if changed > 0 {
		c.bumpVersion()
	}
	return changed
}

// DeletePayload removes keys from the payloads of the given points. It
// returns the number of points whose payload actually changed.
func (c *Collection) DeletePayload(ids []uint64, keys []string) int {
	changed := 0
	for _, id := range ids {
		p, ok := c.points[id]
		if !ok || len(p.Payload) == 0 {
			continue
		}
		touched := false
		next := p.Payload
		for _, k := range keys {
			if _, has := next[k]; !has {
				continue
			}
			if !touched {
				next = next.Clone()
			}
			delete(next, k)
			touched = true
		}
		if touched {
			if len(next) == 0 {
				next = nil
				c.payloadCount--
			}
			p.Payload = next
			changed++
		}
	}
	if changed > 0 {
		c.bumpVersion()
	}
	return changed
}

// IDs returns the point ids in ascending order. The returned slice is shared;
// callers must not mutate it.
func (c *Collection) IDs() []uint64 { return c.ids }

// PageOffset returns up to limit ids starting at offset, plus the next offset
// or nil on the final page.
func (c *Collection) PageOffset(offset, limit int) ([]uint64, *int) {
	if offset >= len(c.ids) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(c.ids) {
		end = len(c.ids)
	}
	page := slices.Clone(c.ids[offset:end])
	if end < len(c.ids) {
		next := end
		return page, &next
	}
	return page, nil
}

// PageAfter returns up to limit ids strictly after afterID, plus the cursor
// for the next page or nil on the final page.
func (c *Collection) PageAfter(afterID uint64, limit int) ([]uint64, *uint64) {
	if limit <= 0 {
		return nil, nil
	}
	start, _ := slices.BinarySearch(c.ids, afterID)
	if start < len(c.ids) && c.ids[start] == afterID {
		start++
	}
	if start >= len(c.ids) {
		return nil, nil
	}
	end := start + limit
	if end > len(c.ids) {
		end = len(c.ids)
	}
	page := slices.Clone(c.ids[start:end])
	if end < len(c.ids) {
		next := page[len(page)-1]
		return page, &next
	}
	return page, nil
}

// Range visits every point in ascending id order until fn returns false.
func (c *Collection) Range(fn func(p *Point) bool) {
	for _, id := range c.ids {
		if !fn(c.points[id]) {
			return
		}
	}
}

// Fingerprint digests (dimension, sorted (id, values)) into the content hash
// index artifacts are keyed by. The value is cached per mutation version, so
// repeated reads between mutations are O(1).
func (c *Collection) Fingerprint() uint64 {
	c.fpMu.Lock()
	defer c.fpMu.Unlock()
	if c.fpValid && c.fpVersion == c.mutationVersion {
		return c.fpValue
	}
	d := hash.NewFingerprintDigest(c.dimension)
	for _, id := range c.ids {
		d.WritePoint(id, c.points[id].Values)
	}
	c.fpValue = d.Sum64()
	c.fpVersion = c.mutationVersion
	c.fpValid = true
	return c.fpValue
}

// FlatValues copies every vector into a contiguous [point][dim] block for the
// transposed batch kernel, alongside the matching ascending id slice.
func (c *Collection) FlatValues() ([]float32, []uint64) {
	flat := make([]float32, 0, len(c.ids)*c.dimension)
	for _, id := range c.ids {
		flat = append(flat, c.points[id].Values...)
	}
	return flat, c.ids
}

// EstimatedVectorBytes returns the memory footprint estimate for one vector
// of this collection's dimension.
func (c *Collection) EstimatedVectorBytes() int64 {
	return int64(c.dimension) * 4
}

// Clone deep-copies the collection. Used to take a stable snapshot view for
// checkpoint writes without holding the write lock for the file IO.
func (c *Collection) Clone() *Collection {
	out := &Collection{
		name:            c.name,
		dimension:       c.dimension,
		strictFinite:    c.strictFinite,
		points:          make(map[uint64]*Point, len(c.points)),
		ids:             slices.Clone(c.ids),
		mutationVersion: c.mutationVersion,
		payloadCount:    c.payloadCount,
	}
	for id, p := range c.points {
		out.points[id] = &Point{
			ID:      id,
			Values:  slices.Clone(p.Values),
			Payload: p.Payload.Clone(),
		}
	}
	return out
}

func (c *Collection) bumpVersion() {
	c.mutationVersion++
	c.fpMu.Lock()
	c.fpValid = false
	c.fpMu.Unlock()
}

func (c *Collection) insertID(id uint64) {
	i, _ := slices.BinarySearch(c.ids, id)
	c.ids = slices.Insert(c.ids, i, id)
}

func (c *Collection) removeID(id uint64) {
	i, ok := slices.BinarySearch(c.ids, id)
	if ok {
		c.ids = slices.Delete(c.ids, i, i+1)
	}
}
