// Package krati is Krati's public surface: a persistent, fixed-capacity,
// hash-indexed key-value storage core. Callers resolve a key to a logical
// index externally (Krati itself has no notion of keys) and use Store to
// get, set, and delete the bytes at that index durably.
package krati

import (
	"context"

	"github.com/krati-db/krati/internal/store"
	"github.com/krati-db/krati/pkg/logger"
	"github.com/krati-db/krati/pkg/options"
)

// Store is a persistent, hash-indexed key-value storage core.
type Store struct {
	core *store.Store
}

// Open opens or recovers a store at the configured data directory.
func Open(ctx context.Context, opts ...options.OptionFunc) (*Store, error) {
	o, err := options.New(opts...)
	if err != nil {
		return nil, err
	}
	core, err := store.Open(o, logger.New("krati"))
	if err != nil {
		return nil, err
	}
	return &Store{core: core}, nil
}

// Get returns the value at index, or nil if index holds no data.
func (s *Store) Get(ctx context.Context, index uint32) ([]byte, error) {
	return s.core.Get(index)
}

// GetInto copies the value at index into dst, returning the number of bytes copied.
func (s *Store) GetInto(ctx context.Context, index uint32, dst []byte) (int, error) {
	return s.core.GetInto(index, dst)
}

// Set associates value with index under the caller-supplied scn; the write
// is durable once a later Sync has advanced LWM to scn.
// scn must be monotonically increasing across calls from the single writer.
func (s *Store) Set(ctx context.Context, index uint32, value []byte, scn int64) error {
	return s.core.Set(index, value, scn)
}

// Delete clears index's value under scn.
func (s *Store) Delete(ctx context.Context, index uint32, scn int64) error {
	return s.core.Delete(index, scn)
}

// Sync flushes the current segment and the redo log, advancing LWM to HWM.
func (s *Store) Sync(ctx context.Context) error {
	return s.core.Sync()
}

// Persist flushes the current segment only, without advancing any watermark.
func (s *Store) Persist(ctx context.Context) error {
	return s.core.Persist()
}

// Clear discards all data, resetting the store to empty.
func (s *Store) Clear(ctx context.Context) error {
	return s.core.Clear()
}

// Close stops the background compactor and releases all resources.
func (s *Store) Close(ctx context.Context) error {
	return s.core.Close()
}

// Capacity returns the address array's fixed length.
func (s *Store) Capacity() uint32 { return s.core.Capacity() }

// HWMark returns the high water mark.
func (s *Store) HWMark() int64 { return s.core.HWMark() }

// LWMark returns the low water mark.
func (s *Store) LWMark() int64 { return s.core.LWMark() }

// SaveHWMark advances (or, with AllowWatermarkRewind, retreats) the watermark to scn.
func (s *Store) SaveHWMark(ctx context.Context, scn int64) error {
	return s.core.SaveHWMark(scn)
}
