package options

import "github.com/krati-db/krati/pkg/errors"

const (
	// MinSegmentFileSizeMB is the smallest segment file size accepted.
	MinSegmentFileSizeMB uint32 = 1

	// MaxSegmentFileSizeMB is the largest segment file size accepted. It is
	// pinned just under 4096 so that segmentFileSizeMB*2^20 always fits the
	// 32-bit byte-offset field of a packed address.
	MaxSegmentFileSizeMB uint32 = 4095

	// DefaultSegmentFileSizeMB is the initial capacity of a new segment
	// file when the caller doesn't override it.
	DefaultSegmentFileSizeMB uint32 = 256

	// DefaultBatchSize is the number of redo entries collected into a
	// batch before it is sealed and enqueued.
	DefaultBatchSize = 10000

	// DefaultMaxEntries is the number of sealed redo batches tolerated
	// before apply-and-prune runs against indexes.dat.
	DefaultMaxEntries = 5

	// DefaultSegmentCompactFactor is the live-byte ratio below which a
	// segment becomes a compaction candidate.
	DefaultSegmentCompactFactor = 0.5

	// DefaultSegmentCompactTrigger is the minimum load factor a segment
	// must reach before it is considered for compaction at all.
	DefaultSegmentCompactTrigger = 0.1

	// DefaultSegmentDirName is the subdirectory of DataDir holding segment files.
	DefaultSegmentDirName = "segs"

	// DefaultSegmentFactoryKind is the on-disk segment backend used when
	// the caller doesn't override it.
	DefaultSegmentFactoryKind = SegmentFactoryWriteBuffer
)

// defaultOptions holds every field that has a sane default. DataDir and
// Capacity have none — they are required and must be supplied by the
// caller via WithDataDir/WithCapacity.
var defaultOptions = Options{
	SegmentFileSizeMB:     DefaultSegmentFileSizeMB,
	BatchSize:             DefaultBatchSize,
	MaxEntries:            DefaultMaxEntries,
	SegmentCompactFactor:  DefaultSegmentCompactFactor,
	SegmentCompactTrigger: DefaultSegmentCompactTrigger,
	Checked:               false,
	SegmentFactoryKind:    DefaultSegmentFactoryKind,
	SegmentDirName:        DefaultSegmentDirName,
	AllowWatermarkRewind:  false,
}

// NewDefaultOptions returns an Options populated with every default value.
// Callers still need to apply WithDataDir and WithCapacity before the
// result will validate.
func NewDefaultOptions() Options {
	return defaultOptions
}

// New builds an Options from NewDefaultOptions, applies the given
// OptionFuncs in order, and validates the result.
func New(opts ...OptionFunc) (Options, error) {
	o := NewDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o, o.Validate()
}

// Validate checks that the Options describe a store that can actually be
// opened: required fields are set, and every bounded field is within its
// documented range.
func (o Options) Validate() error {
	if o.DataDir == "" {
		return errors.NewRequiredFieldError("DataDir")
	}
	if o.Capacity == 0 {
		return errors.NewRequiredFieldError("Capacity")
	}
	if o.SegmentFileSizeMB < MinSegmentFileSizeMB || o.SegmentFileSizeMB > MaxSegmentFileSizeMB {
		return errors.NewFieldRangeError("SegmentFileSizeMB", o.SegmentFileSizeMB, MinSegmentFileSizeMB, MaxSegmentFileSizeMB)
	}
	if o.BatchSize <= 0 {
		return errors.NewFieldRangeError("BatchSize", o.BatchSize, 1, nil)
	}
	if o.MaxEntries <= 0 {
		return errors.NewFieldRangeError("MaxEntries", o.MaxEntries, 1, nil)
	}
	if o.SegmentCompactFactor <= 0 || o.SegmentCompactFactor >= 1 {
		return errors.NewFieldRangeError("SegmentCompactFactor", o.SegmentCompactFactor, 0, 1)
	}
	if o.SegmentCompactTrigger <= 0 || o.SegmentCompactTrigger >= 1 {
		return errors.NewFieldRangeError("SegmentCompactTrigger", o.SegmentCompactTrigger, 0, 1)
	}
	switch o.SegmentFactoryKind {
	case SegmentFactoryMemory, SegmentFactoryWriteBuffer, SegmentFactoryChannel, SegmentFactoryMapped:
	default:
		return errors.NewFieldFormatError("SegmentFactoryKind", string(o.SegmentFactoryKind), "memory|writeBuffer|channel|mapped")
	}
	if o.SegmentDirName == "" {
		return errors.NewRequiredFieldError("SegmentDirName")
	}
	return nil
}
