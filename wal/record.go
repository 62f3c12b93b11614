// Package wal implements the append-only write-ahead log.
//
// Records are newline-delimited self-describing JSON objects, one per line.
// Replay in append order reconstructs engine state; a truncated final line is
// tolerated on recovery and reported as an open tail.
package wal

import (
	"fmt"

	"github.com/edgevec/edgevec/codec"
	"github.com/edgevec/edgevec/metadata"
)

// Op tags a WAL record.
type Op string

const (
	// OpCreateCollection records a collection creation.
	OpCreateCollection Op = "create_collection"
	// OpDeleteCollection records a collection deletion.
	OpDeleteCollection Op = "delete_collection"
	// OpUpsertPoint records a point upsert.
	OpUpsertPoint Op = "upsert_point"
	// OpDeletePoint records a point deletion.
	OpDeletePoint Op = "delete_point"
	// OpSetPayload records a payload merge across points.
	OpSetPayload Op = "set_payload"
	// OpDeletePayload records payload key removal across points.
	OpDeletePayload Op = "delete_payload"
)

// Record is one order-significant WAL entry. Which fields are meaningful
// depends on Type; the wire form only carries the relevant ones.
type Record struct {
	Type Op

	// create_collection / delete_collection
	Name         string
	Dimension    int
	StrictFinite bool

	// point-level operations
	Collection string
	ID         uint64
	Values     []float32
	Payload    metadata.Payload

	// set_payload / delete_payload
	IDs    []uint64
	Fields metadata.Payload
	Keys   []string
}

// line is the flat wire representation. Pointer fields keep zero values
// (id 0, strict_finite false) on the wire when they are meaningful and drop
// them when they are not.
type line struct {
	Type         Op               `json:"type"`
	Name         *string          `json:"name,omitempty"`
	Dimension    *int             `json:"dimension,omitempty"`
	StrictFinite *bool            `json:"strict_finite,omitempty"`
	Collection   *string          `json:"collection,omitempty"`
	ID           *uint64          `json:"id,omitempty"`
	Values       []float32        `json:"values,omitempty"`
	Payload      metadata.Payload `json:"payload,omitempty"`
	IDs          []uint64         `json:"ids,omitempty"`
	Fields       metadata.Payload `json:"fields,omitempty"`
	Keys         []string         `json:"keys,omitempty"`
}

// Encode serializes the record to a single JSON line (without the trailing
// newline).
func (r *Record) Encode(c codec.Codec) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	l := line{Type: r.Type}
	switch r.Type {
	case OpCreateCollection:
		l.Name = &r.Name
		l.Dimension = &r.Dimension
		l.StrictFinite = &r.StrictFinite
	case OpDeleteCollection:
		l.Name = &r.Name
	case OpUpsertPoint:
		l.Collection = &r.Collection
		l.ID = &r.ID
		l.Values = r.Values
		l.Payload = r.Payload
	case OpDeletePoint:
		l.Collection = &r.Collection
		l.ID = &r.ID
	case OpSetPayload:
		l.Collection = &r.Collection
		l.IDs = r.IDs
		l.Fields = r.Fields
	case OpDeletePayload:
		l.Collection = &r.Collection
		l.IDs = r.IDs
		l.Keys = r.Keys
	default:
		return nil, fmt.Errorf("unknown wal record type %q", r.Type)
	}
	return c.Marshal(&l)
}

// Decode parses a single JSON line into the record.
func (r *Record) Decode(c codec.Codec, data []byte) error {
	if c == nil {
		c = codec.Default
	}
	var l line
	if err := c.Unmarshal(data, &l); err != nil {
		return err
	}

	*r = Record{Type: l.Type}
	if l.Name != nil {
		r.Name = *l.Name
	}
	if l.Dimension != nil {
		r.Dimension = *l.Dimension
	}
	if l.StrictFinite != nil {
		r.StrictFinite = *l.StrictFinite
	}
	if l.Collection != nil {
		r.Collection = *l.Collection
	}
	if l.ID != nil {
		r.ID = *l.ID
	}
	r.Values = l.Values
	r.Payload = l.Payload
	r.IDs = l.IDs
	r.Fields = l.Fields
	r.Keys = l.Keys

	switch r.Type {
	case OpCreateCollection, OpDeleteCollection, OpUpsertPoint, OpDeletePoint, OpSetPayload, OpDeletePayload:
		return nil
	default:
		return fmt.Errorf("unknown wal record type %q", l.Type)
	}
}
