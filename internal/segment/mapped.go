package segment

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	apperrors "github.com/krati-db/krati/pkg/errors"
)

// mappedSegment mmaps the whole segment file PROT_READ|PROT_WRITE,
// MAP_SHARED; Force calls unix.Msync. Appends write directly into the
// mapped region, which the kernel writes back lazily; Msync forces that
// write-back synchronously.
type mappedSegment struct {
	id          uint16
	path        string
	file        *os.File
	initialSize int64

	mu   sync.RWMutex
	data []byte
	mode atomicMode

	appendPosition atomic.Int64
	loadSize       atomic.Int64
	lastForcedTime atomic.Int64
}

// NewMappedSegment creates or opens an mmap-backed segment.
func NewMappedSegment(id uint16, path string, initialSize int64) (Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}

	total := HeaderSize + initialSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}
	if info.Size() < total {
		if err := f.Truncate(total); err != nil {
			f.Close()
			return nil, apperrors.ClassifySyncError(err, segmentFileName(id), path, 0)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, apperrors.NewStorageError(err, apperrors.ErrorCodeIO, "mmap failed").
			WithFileName(segmentFileName(id)).WithPath(path)
	}

	s := &mappedSegment{id: id, path: path, file: f, initialSize: initialSize, data: data}

	if info.Size() >= total && getUint64BE(data[8:16]) == StorageVersion {
		s.lastForcedTime.Store(int64(getUint64BE(data[0:8])))
	} else {
		h := header{lastForcedTime: time.Now().UnixNano(), storageVersion: StorageVersion}
		copy(data[:HeaderSize], encodeHeader(h))
		s.lastForcedTime.Store(h.lastForcedTime)
	}

	return s, nil
}

func (s *mappedSegment) ID() uint16 { return s.id }

func (s *mappedSegment) Append(payload []byte) (int64, error) {
	if s.mode.Load() == ReadOnly {
		return 0, ErrReadOnly
	}

	needed := int64(lengthPrefixSize + len(payload))
	pos := s.appendPosition.Load()
	if pos+needed > s.initialSize {
		return 0, ErrOverflow
	}

	s.mu.Lock()
	absolute := HeaderSize + pos
	putUint32BE(s.data[absolute:absolute+lengthPrefixSize], uint32(len(payload)))
	copy(s.data[absolute+lengthPrefixSize:], payload)
	s.mu.Unlock()

	s.appendPosition.Add(needed)
	s.loadSize.Add(needed)
	return pos, nil
}

func (s *mappedSegment) ReadAt(offset int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	absolute := HeaderSize + offset
	if absolute+lengthPrefixSize > int64(len(s.data)) {
		return nil, ErrTruncated
	}
	length := getUint32BE(s.data[absolute : absolute+lengthPrefixSize])
	start := absolute + lengthPrefixSize
	end := start + int64(length)
	if end > int64(len(s.data)) {
		return nil, ErrTruncated
	}
	out := make([]byte, length)
	copy(out, s.data[start:end])
	return out, nil
}

func (s *mappedSegment) ReadInto(offset int64, dst []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	absolute := HeaderSize + offset
	if absolute+lengthPrefixSize > int64(len(s.data)) {
		return 0, ErrTruncated
	}
	length := getUint32BE(s.data[absolute : absolute+lengthPrefixSize])
	start := absolute + lengthPrefixSize
	end := start + int64(length)
	if end > int64(len(s.data)) || int64(len(dst)) < int64(length) {
		return 0, ErrTruncated
	}
	return copy(dst, s.data[start:end]), nil
}

func (s *mappedSegment) Force() error {
	s.mu.Lock()
	now := time.Now().UnixNano()
	putUint64BE(s.data[0:8], uint64(now))
	s.mu.Unlock()

	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, 0)
	}
	s.lastForcedTime.Store(now)
	return nil
}

func (s *mappedSegment) AsReadOnly()            { s.mode.Store(ReadOnly) }
func (s *mappedSegment) Mode() Mode             { return s.mode.Load() }
func (s *mappedSegment) InitialSize() int64     { return s.initialSize }
func (s *mappedSegment) AppendPosition() int64  { return s.appendPosition.Load() }
func (s *mappedSegment) LoadSize() int64        { return s.loadSize.Load() }
func (s *mappedSegment) LastForcedTime() int64  { return s.lastForcedTime.Load() }

func (s *mappedSegment) LoadFactor() float64 {
	if s.initialSize == 0 {
		return 0
	}
	return float64(s.LoadSize()) / float64(s.initialSize)
}

func (s *mappedSegment) Free() error {
	if err := unix.Munmap(s.data); err != nil {
		s.file.Close()
		return apperrors.NewStorageError(err, apperrors.ErrorCodeIO, "munmap failed").
			WithFileName(segmentFileName(s.id)).WithPath(s.path)
	}
	return s.file.Close()
}

func (s *mappedSegment) TruncateTo(position int64) error {
	if s.mode.Load() == ReadOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendPosition.Store(position)
	s.loadSize.Store(position)
	return nil
}
