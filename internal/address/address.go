// Package address implements Krati's packed 64-bit address encoding: the
// contract between the data array and the segment manager for locating a
// blob on disk.
//
//	bit 63           48 47                16 15            0
//	 +------------------+--------------------+---------------+
//	 |   segId (u16)    |    offset (u32)    |  length (u16) |
//	 +------------------+--------------------+---------------+
//
// Address 0 means "no data" — segment id 0 is never allocated to a real
// segment, so the zero value is unambiguous.
package address

import (
	"math"

	apperrors "github.com/krati-db/krati/pkg/errors"
)

// Zero is the reserved "no data" address.
const Zero uint64 = 0

const (
	segIDShift  = 48
	offsetShift = 16
	lengthMask  = 0xFFFF
	offsetMask  = 0xFFFFFFFF
)

// MaxSegmentFileSizeBytes is the largest a segment file may be — the
// largest value the 32-bit offset field can hold.
const MaxSegmentFileSizeBytes = math.MaxUint32

// MaxBlobLength is the largest payload length the 16-bit length field can hold.
const MaxBlobLength = math.MaxUint16

// Address is a decoded (segId, offset, length) triple.
type Address struct {
	SegmentID uint16
	Offset    uint32
	Length    uint16
}

// IsZero reports whether a represents "no data".
func (a Address) IsZero() bool {
	return a.SegmentID == 0 && a.Offset == 0 && a.Length == 0
}

// Pack encodes (segId, offset, length) into a single uint64.
func Pack(segID uint16, offset uint32, length uint16) uint64 {
	return uint64(segID)<<segIDShift | uint64(offset)<<offsetShift | uint64(length)
}

// Unpack decodes a uint64 into its (segId, offset, length) components.
func Unpack(packed uint64) Address {
	return Address{
		SegmentID: uint16(packed >> segIDShift),
		Offset:    uint32((packed >> offsetShift) & offsetMask),
		Length:    uint16(packed & lengthMask),
	}
}

// PackAddress encodes an Address into its packed uint64 representation.
func PackAddress(a Address) uint64 {
	return Pack(a.SegmentID, a.Offset, a.Length)
}

// ValidateSegmentFileSize checks that a configured segment file size (in
// megabytes) fits within the offset field once converted to bytes.
func ValidateSegmentFileSize(segmentFileSizeMB uint32) error {
	sizeBytes := uint64(segmentFileSizeMB) << 20
	if sizeBytes > MaxSegmentFileSizeBytes {
		return apperrors.NewValidationError(
			nil, apperrors.ErrorCodeInvalidInput,
			"segmentFileSizeMB exceeds the address format's 32-bit offset field",
		).WithField("SegmentFileSizeMB").
			WithProvided(segmentFileSizeMB).
			WithDetail("maxBytes", uint64(MaxSegmentFileSizeBytes))
	}
	return nil
}
