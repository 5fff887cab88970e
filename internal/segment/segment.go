// Package segment implements Krati's append-only, fixed-capacity segment
// files: the lowest layer of the storage core. A Segment holds
// length-prefixed byte blobs; the data array above it resolves addresses
// into (segment, offset) pairs and delegates the actual byte I/O here.
package segment

import (
	stdErrors "errors"
	"fmt"
	"sync/atomic"

	apperrors "github.com/krati-db/krati/pkg/errors"
)

// StorageVersion is written into every segment header and checked on open;
// bumping it invalidates on-disk segments written by older code.
const StorageVersion uint64 = 1

// HeaderSize is dataStartPosition: the fixed number of bytes reserved for
// the segment header before the first record.
const HeaderSize = 32

// lengthPrefixSize is the size of the big-endian length prefix on every record.
const lengthPrefixSize = 4

// Mode is a segment's read/write state.
type Mode int32

const (
	ReadWrite Mode = iota
	ReadOnly
)

// Sentinel errors. ErrOverflow is the data-array write loop's signal to
// rotate and retry; an overflow on the fresh segment is wrapped in a
// StorageError. ErrTruncated marks the end of valid data: recovery uses it
// to find the append position, and reads return it unwrapped.
var (
	ErrOverflow  = stdErrors.New("segment: insufficient remaining capacity")
	ErrReadOnly  = stdErrors.New("segment: segment is sealed read-only")
	ErrTruncated = stdErrors.New("segment: record truncated at end of valid data")
)

// Segment is the contract both the memory-backed and file-backed
// realizations satisfy.
type Segment interface {
	// ID returns the segment's stable identifier.
	ID() uint16

	// Append writes a length-prefixed record and returns the byte offset
	// the record was written at. Returns ErrOverflow if the segment lacks
	// room, ErrReadOnly if the segment is sealed.
	Append(payload []byte) (offset int64, err error)

	// ReadAt reads the length-prefixed record starting at offset and
	// returns its payload. Safe to call concurrently with Append at a
	// different, already-committed offset.
	ReadAt(offset int64) ([]byte, error)

	// ReadInto reads the record at offset into dst, returning the number
	// of payload bytes copied. dst must be at least as large as the
	// record's declared length.
	ReadInto(offset int64, dst []byte) (int, error)

	// Force durably persists all writes made so far and updates the
	// last-forced timestamp.
	Force() error

	// AsReadOnly seals the segment; subsequent Append calls fail with ErrReadOnly.
	AsReadOnly()

	// Mode reports whether the segment currently accepts appends.
	Mode() Mode

	// InitialSize is the segment's fixed total capacity in bytes.
	InitialSize() int64

	// AppendPosition is the current write cursor, 0 <= pos <= InitialSize.
	AppendPosition() int64

	// LoadSize is the number of bytes (including length prefixes) ever
	// written to the segment — live or dead.
	LoadSize() int64

	// LoadFactor is LoadSize / InitialSize.
	LoadFactor() float64

	// LastForcedTime is the unix-nano timestamp of the last successful Force.
	LastForcedTime() int64

	// Free releases OS resources held by the segment. The caller is
	// responsible for unlinking the backing file, if desired.
	Free() error

	// TruncateTo rewinds the append position to a boundary discovered
	// during recovery (a truncated trailing record). Only valid while the
	// segment is still ReadWrite.
	TruncateTo(position int64) error
}

// header is the fixed 32-byte segment header.
type header struct {
	lastForcedTime int64
	storageVersion uint64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, HeaderSize)
	putUint64BE(buf[0:8], uint64(h.lastForcedTime))
	putUint64BE(buf[8:16], h.storageVersion)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("segment: short header: %d bytes", len(buf))
	}
	h := header{
		lastForcedTime: int64(getUint64BE(buf[0:8])),
		storageVersion: getUint64BE(buf[8:16]),
	}
	if h.storageVersion != StorageVersion {
		return header{}, apperrors.NewStorageError(
			nil, apperrors.ErrorCodeSegmentCorrupted,
			"segment header storage version mismatch",
		).WithDetail("want", StorageVersion).WithDetail("got", h.storageVersion)
	}
	return h, nil
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getUint64BE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// atomicMode is a small wrapper giving Mode atomic semantics without
// exposing atomic.Int32 on the public Segment interface.
type atomicMode struct {
	v atomic.Int32
}

func (m *atomicMode) Load() Mode   { return Mode(m.v.Load()) }
func (m *atomicMode) Store(mo Mode) { m.v.Store(int32(mo)) }
