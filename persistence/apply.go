package persistence

import (
	"fmt"

	"github.com/edgevec/edgevec/collection"
	"github.com/edgevec/edgevec/wal"
)

// ApplyRecord folds one WAL record into the collection map. Replay is
// idempotent with respect to upserts (last write wins per id) and tolerant of
// deletes targeting absent state.
func ApplyRecord(collections map[string]*collection.Collection, rec wal.Record) error {
	switch rec.Type {
	case wal.OpCreateCollection:
		if existing, ok := collections[rec.Name]; ok {
			if existing.Dimension() == rec.Dimension && existing.StrictFinite() == rec.StrictFinite {
				return nil
			}
			return fmt.Errorf("collection %q already exists with different config", rec.Name)
		}
		c, err := collection.New(rec.Name, rec.Dimension, rec.StrictFinite)
		if err != nil {
			return fmt.Errorf("create collection %q: %w", rec.Name, err)
		}
		collections[rec.Name] = c
		return nil

	case wal.OpDeleteCollection:
		delete(collections, rec.Name)
		return nil

	case wal.OpUpsertPoint:
		target, ok := collections[rec.Collection]
		if !ok {
			return fmt.Errorf("collection %q does not exist", rec.Collection)
		}
		if _, err := target.Upsert(rec.ID, rec.Values, rec.Payload); err != nil {
			return fmt.Errorf("upsert point %d in %q: %w", rec.ID, rec.Collection, err)
		}
		return nil

	case wal.OpDeletePoint:
		target, ok := collections[rec.Collection]
		if !ok {
			return fmt.Errorf("collection %q does not exist", rec.Collection)
		}
		target.Delete(rec.ID)
		return nil

	case wal.OpSetPayload:
		target, ok := collections[rec.Collection]
		if !ok {
			return fmt.Errorf("collection %q does not exist", rec.Collection)
		}
		target.SetPayload(rec.IDs, rec.Fields)
		return nil

	case wal.OpDeletePayload:
		target, ok := collections[rec.Collection]
		if !ok {
			return fmt.Errorf("collection %q does not exist", rec.Collection)
		}
		target.DeletePayload(rec.IDs, rec.Keys)
		return nil

	default:
		return fmt.Errorf("unknown wal record type %q", rec.Type)
	}
}
