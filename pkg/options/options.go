// Package options provides data structures and functions for configuring a
// Krati store. It defines the parameters that control segment sizing,
// redo-batch behavior, compaction thresholds, and the on-disk segment
// backend, following the functional-options pattern so callers only need
// to name the values they want to override.
package options

import "strings"

// SegmentFactoryKind selects which Segment implementation the segment
// manager uses to back each `.seg` file.
type SegmentFactoryKind string

const (
	// SegmentFactoryMemory mirrors each segment in a heap buffer, flushing
	// to the backing file on force(). Simplest, fastest for small stores.
	SegmentFactoryMemory SegmentFactoryKind = "memory"

	// SegmentFactoryWriteBuffer fronts the OS file with a bounded
	// bufio.Writer; force() flushes the buffer and syncs the file.
	SegmentFactoryWriteBuffer SegmentFactoryKind = "writeBuffer"

	// SegmentFactoryChannel serializes reads through a single-goroutine
	// request/response channel in front of a writeBuffer-backed segment.
	SegmentFactoryChannel SegmentFactoryKind = "channel"

	// SegmentFactoryMapped mmaps the segment file; force() calls msync.
	SegmentFactoryMapped SegmentFactoryKind = "mapped"
)

// Options defines the configuration parameters recognized by the Krati
// storage core, corresponding to the "Configuration" surface of the
// storage specification.
type Options struct {
	// DataDir is the base path under which indexes.dat, the redo-entry
	// files, and segs/ are stored. Required.
	DataDir string

	// Capacity is the fixed length of the address array — the number of
	// addressable logical indices. Required, must be > 0.
	Capacity uint32

	// SegmentFileSizeMB is the initial capacity of each segment file, in
	// megabytes.
	//
	//  - Default: 256
	//  - Minimum: 1
	//  - Maximum: 4095 (so that byte offsets fit the 32-bit offset field
	//    of a packed address)
	SegmentFileSizeMB uint32

	// BatchSize is the number of redo entries collected into one batch
	// before it is sealed, enqueued, and a new batch is started.
	//
	// Default: 10000
	BatchSize int

	// MaxEntries is the number of sealed-but-unapplied redo batches the
	// entry manager tolerates before it applies and prunes all of them
	// into indexes.dat.
	//
	// Default: 5
	MaxEntries int

	// SegmentCompactFactor is the live-byte ratio (liveBytes/loadSize)
	// below which a segment becomes a compaction candidate.
	//
	// Default: 0.5
	SegmentCompactFactor float64

	// SegmentCompactTrigger is the minimum load factor (loadSize/initialSize)
	// a segment must reach before it is even considered for compaction —
	// it guards against compacting segments that are mostly empty because
	// they were only just allocated.
	//
	// Default: 0.1
	SegmentCompactTrigger float64

	// Checked enables the CheckedDataArray variant, which appends an
	// Adler-32 checksum to every payload and validates it on read.
	//
	// Default: false
	Checked bool

	// SegmentFactoryKind selects the on-disk segment backend.
	//
	// Default: SegmentFactoryWriteBuffer
	SegmentFactoryKind SegmentFactoryKind

	// SegmentDirName is the subdirectory of DataDir holding segment files.
	//
	// Default: "segs"
	SegmentDirName string

	// AllowWatermarkRewind gates SaveHWMark's ability to retreat LWM/HWM
	// below their current values. This is a testing/rollback hook (Open
	// Question (i) of the storage specification) and is disabled by
	// default so production stores can never silently lose durability
	// guarantees.
	//
	// Default: false
	AllowWatermarkRewind bool
}

// OptionFunc is a function type that modifies a Krati store's configuration.
type OptionFunc func(*Options)

// WithDataDir sets the base directory under which all store files live.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithCapacity sets the fixed length of the address array.
func WithCapacity(capacity uint32) OptionFunc {
	return func(o *Options) {
		if capacity > 0 {
			o.Capacity = capacity
		}
	}
}

// WithSegmentFileSizeMB sets the initial capacity of each segment file.
func WithSegmentFileSizeMB(sizeMB uint32) OptionFunc {
	return func(o *Options) {
		if sizeMB >= MinSegmentFileSizeMB && sizeMB <= MaxSegmentFileSizeMB {
			o.SegmentFileSizeMB = sizeMB
		}
	}
}

// WithBatchSize sets how many redo entries are collected per batch before rotation.
func WithBatchSize(batchSize int) OptionFunc {
	return func(o *Options) {
		if batchSize > 0 {
			o.BatchSize = batchSize
		}
	}
}

// WithMaxEntries sets how many sealed-but-unapplied redo batches are
// tolerated before apply-and-prune runs.
func WithMaxEntries(maxEntries int) OptionFunc {
	return func(o *Options) {
		if maxEntries > 0 {
			o.MaxEntries = maxEntries
		}
	}
}

// WithSegmentCompactFactor sets the live-byte ratio threshold for compaction eligibility.
func WithSegmentCompactFactor(factor float64) OptionFunc {
	return func(o *Options) {
		if factor > 0 && factor < 1 {
			o.SegmentCompactFactor = factor
		}
	}
}

// WithSegmentCompactTrigger sets the minimum load factor before a segment is
// even considered for compaction.
func WithSegmentCompactTrigger(trigger float64) OptionFunc {
	return func(o *Options) {
		if trigger > 0 && trigger < 1 {
			o.SegmentCompactTrigger = trigger
		}
	}
}

// WithChecked enables or disables per-record Adler-32 checksums.
func WithChecked(checked bool) OptionFunc {
	return func(o *Options) {
		o.Checked = checked
	}
}

// WithSegmentFactoryKind selects the on-disk segment backend.
func WithSegmentFactoryKind(kind SegmentFactoryKind) OptionFunc {
	return func(o *Options) {
		switch kind {
		case SegmentFactoryMemory, SegmentFactoryWriteBuffer, SegmentFactoryChannel, SegmentFactoryMapped:
			o.SegmentFactoryKind = kind
		}
	}
}

// WithSegmentDirName sets the subdirectory of DataDir holding segment files.
func WithSegmentDirName(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.SegmentDirName = name
		}
	}
}

// WithAllowWatermarkRewind opts in to SaveHWMark's watermark-retreat
// behavior, intended for tests that exercise recovery/rollback scenarios.
func WithAllowWatermarkRewind(allow bool) OptionFunc {
	return func(o *Options) {
		o.AllowWatermarkRewind = allow
	}
}
