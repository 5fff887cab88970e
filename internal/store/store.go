// Package store wires the segment manager, address array, data array, and
// compactor together behind a single lifecycle: Open, the background
// compaction goroutine, and cooperative Close.
package store

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/krati-db/krati/internal/addrarray"
	"github.com/krati-db/krati/internal/compactor"
	"github.com/krati-db/krati/internal/dataarray"
	"github.com/krati-db/krati/internal/segment"
	apperrors "github.com/krati-db/krati/pkg/errors"
	"github.com/krati-db/krati/pkg/options"
)

// Mode tracks a Store's lifecycle state.
type Mode int32

const (
	ModeInit Mode = iota
	ModeOpen
	ModeClosed
)

// compactionInterval is how often the background compactor wakes up to
// look for an eligible segment. Not exposed as an option: compaction
// cadence is an implementation detail, not a durability-affecting knob.
const compactionInterval = 5 * time.Second

// Data is the read/write surface Store exposes to pkg/krati, satisfied by
// either *dataarray.DataArray or *dataarray.CheckedDataArray.
type Data interface {
	GetData(i uint32) ([]byte, error)
	GetInto(i uint32, dst []byte) (int, error)
	SetData(i uint32, payload []byte, scn int64) error
	Delete(i uint32, scn int64) error
	Sync() error
	Persist() error
}

// Store coordinates every layer of the storage core for one open data directory.
type Store struct {
	opts options.Options
	log  *zap.SugaredLogger

	mode atomic.Int32

	segments  *segment.Manager
	addresses *addrarray.AddressArray
	data      Data
	live      *compactor.LiveSet
	compactor *compactor.Compactor

	cancel context.CancelFunc
	done   chan struct{}
}

// Open builds or recovers a store rooted at opts.DataDir.
func Open(opts options.Options, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	segDir := filepath.Join(opts.DataDir, opts.SegmentDirName)
	segments, err := segment.Open(segDir, opts.SegmentFileSizeMB, opts.SegmentFactoryKind, log)
	if err != nil {
		return nil, err
	}

	addresses, err := addrarray.Open(opts.DataDir, opts.Capacity, opts.BatchSize, opts.MaxEntries, opts.AllowWatermarkRewind, log)
	if err != nil {
		segments.Close()
		return nil, err
	}

	live := compactor.NewLiveSet()
	var data Data
	if opts.Checked {
		data = dataarray.NewChecked(addresses, segments, live, log)
	} else {
		data = dataarray.New(addresses, segments, live, log)
	}

	c := compactor.New(segments, data.(compactor.DataArray), addresses, addresses, live, opts.SegmentCompactFactor, opts.SegmentCompactTrigger, log)

	s := &Store{
		opts:      opts,
		log:       log,
		segments:  segments,
		addresses: addresses,
		data:      data,
		live:      live,
		compactor: c,
		done:      make(chan struct{}),
	}
	s.mode.Store(int32(ModeOpen))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		c.Run(ctx, compactionInterval)
	}()

	return s, nil
}

func (s *Store) checkOpen() error {
	if Mode(s.mode.Load()) != ModeOpen {
		return apperrors.NewAddressError(nil, apperrors.ErrorCodeStoreClosed, "store is not open")
	}
	return nil
}

// Get returns the value stored at i, or nil if i holds no data.
func (s *Store) Get(i uint32) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.data.GetData(i)
}

// GetInto copies the value stored at i into dst, returning bytes copied.
func (s *Store) GetInto(i uint32, dst []byte) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.data.GetInto(i, dst)
}

// Set stores value at i under scn.
func (s *Store) Set(i uint32, value []byte, scn int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.data.SetData(i, value, scn)
}

// Delete clears the value at i under scn.
func (s *Store) Delete(i uint32, scn int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.data.Delete(i, scn)
}

// Sync forces the current segment and flushes/advances the address array's watermark.
func (s *Store) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.data.Sync()
}

// Persist forces the current segment only, without advancing any watermark.
func (s *Store) Persist() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.data.Persist()
}

// Clear discards all segments and resets the address array to empty.
func (s *Store) Clear() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.segments.Clear(); err != nil {
		return err
	}
	return s.addresses.Clear()
}

// Capacity returns the address array's fixed length.
func (s *Store) Capacity() uint32 { return s.addresses.Capacity() }

// HWMark returns the current high water mark.
func (s *Store) HWMark() int64 { return s.addresses.HWMark() }

// LWMark returns the current low water mark.
func (s *Store) LWMark() int64 { return s.addresses.LWMark() }

// SaveHWMark advances or (if AllowWatermarkRewind is set) retreats the watermark to scn.
func (s *Store) SaveHWMark(scn int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.addresses.SaveHWMark(scn, s.opts.AllowWatermarkRewind)
}

// Close stops the background compactor and releases every underlying resource.
func (s *Store) Close() error {
	if !s.mode.CompareAndSwap(int32(ModeOpen), int32(ModeClosed)) {
		return nil
	}
	s.cancel()
	<-s.done

	var firstErr error
	if err := s.segments.Close(); err != nil {
		firstErr = err
	}
	if err := s.addresses.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
