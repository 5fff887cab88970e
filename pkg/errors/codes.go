package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary: segment file reads/writes, indexes.dat access, redo
	// file access.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// configuration or argument doesn't meet the system's requirements.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories: assertion failures or programming errors that
	// shouldn't occur during normal operation.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes cover the segment & segment-manager layer.
const (
	// ErrorCodeSegmentOverflow is raised internally when an append would
	// exceed a segment's initial capacity. The data array recovers from this
	// by rotating to a new segment and retrying once; it should never escape
	// to a caller.
	ErrorCodeSegmentOverflow ErrorCode = "SEGMENT_OVERFLOW"

	// ErrorCodeSegmentReadOnly is raised internally when append is attempted
	// against a sealed segment.
	ErrorCodeSegmentReadOnly ErrorCode = "SEGMENT_READ_ONLY"

	// ErrorCodeOutOfSegments indicates the segment id space is exhausted.
	ErrorCodeOutOfSegments ErrorCode = "OUT_OF_SEGMENTS"

	// ErrorCodeSegmentCorrupted indicates a segment file's header or record
	// stream is in an inconsistent state (bad magic, truncated record).
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeCapacityMismatch indicates the on-disk indexes.dat length
	// disagrees with the configured capacity.
	ErrorCodeCapacityMismatch ErrorCode = "CAPACITY_MISMATCH"

	// ErrorCodePermissionDenied indicates insufficient permissions to access
	// a segment, index, or redo file.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates the storage device has run out of space.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates the filesystem is mounted read-only.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Address-array specific error codes.
const (
	// ErrorCodeIndexOutOfRange indicates a logical index outside [0, capacity).
	ErrorCodeIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"

	// ErrorCodeStoreClosed indicates an operation was attempted on a store
	// whose Mode is CLOSED.
	ErrorCodeStoreClosed ErrorCode = "STORE_CLOSED"
)

// Redo-log specific error codes.
const (
	// ErrorCodeRedoCorrupted indicates a redo entry file failed CRC
	// validation, magic/version validation, or violated the non-decreasing
	// SCN invariant.
	ErrorCodeRedoCorrupted ErrorCode = "REDO_CORRUPTED"

	// ErrorCodeDataCorrupted indicates a checked-mode payload failed its
	// Adler-32 checksum on read.
	ErrorCodeDataCorrupted ErrorCode = "DATA_CORRUPTED"
)
