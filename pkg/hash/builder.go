// Package hash builds canonical byte sequences and hashes them to a fixed
// 32-byte digest. Used for idempotency/dedup keys that must agree across
// Kafka, RocksDB and Postgres.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hash32 is a sha256 digest.
type Hash32 [32]byte

func (h Hash32) Hex() string { return hex.EncodeToString(h[:]) }

// Builder accumulates a canonical encoding:
//   - fixed-width integers big-endian
//   - bytes/strings length-prefixed with u32 big-endian
type Builder struct {
	b []byte
}

func NewBuilder() *Builder { return &Builder{b: make([]byte, 0, 128)} }

func (d *Builder) Reset() { d.b = d.b[:0] }

func (d *Builder) PutU64(v uint64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	d.b = append(d.b, buf[:]...)
	return d
}

func (d *Builder) PutI64(v int64) *Builder { return d.PutU64(uint64(v)) }

// PutBytes appends u32(len) + bytes.
func (d *Builder) PutBytes(p []byte) *Builder {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(p)))
	d.b = append(d.b, buf[:]...)
	d.b = append(d.b, p...)
	return d
}

func (d *Builder) PutString(s string) *Builder { return d.PutBytes([]byte(s)) }

func (d *Builder) Sum32() Hash32 {
	return sha256.Sum256(d.b)
}

// SumString is shorthand for hashing a single string field.
func SumString(s string) Hash32 {
	return NewBuilder().PutString(s).Sum32()
}
