package errors

// RedoError provides specialized error handling for redo-log operations:
// batch rotation, apply-and-prune, and crash recovery. This structure
// extends the base error system with redo-specific context.
type RedoError struct {
	*baseError

	// fileName identifies the redo entry file involved, e.g.
	// "entry_100_109_normal.redo".
	fileName string

	// minScn / maxScn mirror the header fields of the offending batch, when
	// known, to help correlate the failure with a specific write sequence.
	minScn int64
	maxScn int64
}

// NewRedoError creates a new redo-log-specific error with the provided context.
func NewRedoError(err error, code ErrorCode, msg string) *RedoError {
	return &RedoError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the RedoError type.
func (re *RedoError) WithMessage(msg string) *RedoError {
	re.baseError.WithMessage(msg)
	return re
}

// WithDetail adds contextual information while maintaining the RedoError type.
func (re *RedoError) WithDetail(key string, value any) *RedoError {
	re.baseError.WithDetail(key, value)
	return re
}

// WithFileName records which redo file was involved.
func (re *RedoError) WithFileName(fileName string) *RedoError {
	re.fileName = fileName
	return re
}

// WithScnRange records the min/max SCN of the offending batch.
func (re *RedoError) WithScnRange(minScn, maxScn int64) *RedoError {
	re.minScn = minScn
	re.maxScn = maxScn
	return re
}

// FileName returns the redo file that was involved.
func (re *RedoError) FileName() string {
	return re.fileName
}

// ScnRange returns the min/max SCN recorded for the offending batch.
func (re *RedoError) ScnRange() (int64, int64) {
	return re.minScn, re.maxScn
}

// NewCrcMismatchError creates an error for a redo file that failed CRC32 validation.
func NewCrcMismatchError(fileName string, want, got uint32) *RedoError {
	return NewRedoError(nil, ErrorCodeRedoCorrupted, "redo entry file failed CRC32 validation").
		WithFileName(fileName).
		WithDetail("want_crc32", want).
		WithDetail("got_crc32", got)
}

// NewNonMonotonicScnError creates an error for a batch whose entries are not
// non-decreasing in SCN.
func NewNonMonotonicScnError(fileName string, prevScn, scn int64) *RedoError {
	return NewRedoError(nil, ErrorCodeRedoCorrupted, "redo batch entries are not non-decreasing in SCN").
		WithFileName(fileName).
		WithScnRange(prevScn, scn)
}
