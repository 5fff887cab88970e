package errors

// AddressError provides specialized error handling for address-array
// operations (get/set/sync/recovery against the fixed-length address
// array backing a store). This structure extends the base error system
// with address-array-specific context while properly supporting method
// chaining through all base error methods.
type AddressError struct {
	*baseError

	// index identifies which logical index was being processed when the
	// error occurred.
	index uint32

	// operation describes what address-array operation was being performed
	// (e.g. "Get", "Set", "Recovery").
	operation string

	// capacity captures the size of the address array at the time of the
	// error, useful for diagnosing out-of-range access.
	capacity uint32
}

// NewAddressError creates a new address-array-specific error with the
// provided context.
func NewAddressError(err error, code ErrorCode, msg string) *AddressError {
	return &AddressError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the AddressError type.
func (ae *AddressError) WithMessage(msg string) *AddressError {
	ae.baseError.WithMessage(msg)
	return ae
}

// WithCode sets the error code while preserving the AddressError type.
func (ae *AddressError) WithCode(code ErrorCode) *AddressError {
	ae.baseError.WithCode(code)
	return ae
}

// WithDetail adds contextual information while maintaining the AddressError type.
func (ae *AddressError) WithDetail(key string, value any) *AddressError {
	ae.baseError.WithDetail(key, value)
	return ae
}

// WithIndex records which logical index was being processed.
func (ae *AddressError) WithIndex(index uint32) *AddressError {
	ae.index = index
	return ae
}

// WithOperation records what address-array operation was being performed.
func (ae *AddressError) WithOperation(operation string) *AddressError {
	ae.operation = operation
	return ae
}

// WithCapacity records the size of the address array when the error occurred.
func (ae *AddressError) WithCapacity(capacity uint32) *AddressError {
	ae.capacity = capacity
	return ae
}

// Index returns the logical index that was being processed.
func (ae *AddressError) Index() uint32 {
	return ae.index
}

// Operation returns the name of the operation that was being performed.
func (ae *AddressError) Operation() string {
	return ae.operation
}

// Capacity returns the size of the address array when the error occurred.
func (ae *AddressError) Capacity() uint32 {
	return ae.capacity
}

// NewIndexOutOfRangeError creates a specialized error for a logical index
// outside [0, capacity).
func NewIndexOutOfRangeError(index, capacity uint32) *AddressError {
	return NewAddressError(nil, ErrorCodeIndexOutOfRange, "index out of range").
		WithIndex(index).
		WithCapacity(capacity).
		WithDetail("valid_range", "[0, capacity)")
}

// NewCapacityMismatchError creates an error for when indexes.dat's persisted
// length disagrees with the configured capacity.
func NewCapacityMismatchError(onDisk, configured uint32) *AddressError {
	return NewAddressError(nil, ErrorCodeCapacityMismatch, "indexes.dat length disagrees with configured capacity").
		WithCapacity(configured).
		WithDetail("on_disk_length", onDisk).
		WithDetail("configured_capacity", configured)
}
