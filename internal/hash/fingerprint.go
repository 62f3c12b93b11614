// Package hash provides content fingerprints and deterministic seeding.
package hash

import (
	"encoding/binary"
	"math"

	"github.com/twmb/murmur3"
)

// FingerprintDigest accumulates a content fingerprint over a collection's
// point set. Feed the dimension once, then every (id, values) entry in
// ascending id order; the resulting fingerprint identifies the exact point
// set an index artifact was built against.
type FingerprintDigest struct {
	h   murmur3.Hash128
	buf [8]byte
}

// NewFingerprintDigest starts a digest seeded with the collection dimension.
func NewFingerprintDigest(dimension int) *FingerprintDigest {
	d := &FingerprintDigest{h: murmur3.New128()}
	d.writeUint64(uint64(dimension))
	return d
}

// WritePoint feeds one point. Points must arrive in ascending id order for
// the fingerprint to be stable.
func (d *FingerprintDigest) WritePoint(id uint64, values []float32) {
	d.writeUint64(id)
	for _, v := range values {
		binary.LittleEndian.PutUint32(d.buf[:4], math.Float32bits(v))
		_, _ = d.h.Write(d.buf[:4])
	}
}

// Sum64 returns the fingerprint.
func (d *FingerprintDigest) Sum64() uint64 {
	hi, lo := d.h.Sum128()
	return hi ^ lo
}

func (d *FingerprintDigest) writeUint64(v uint64) {
	binary.LittleEndian.PutUint64(d.buf[:], v)
	_, _ = d.h.Write(d.buf[:])
}

// Mix64 is a splitmix64 step used for deterministic seeding.
func Mix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
