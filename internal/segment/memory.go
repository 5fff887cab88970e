package segment

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/krati-db/krati/pkg/errors"
)

// memorySegment mirrors the entire segment in a heap buffer and flushes it
// to the backing file on Force. Reads and appends both operate against the
// in-memory buffer; only Force touches the file.
type memorySegment struct {
	id          uint16
	path        string
	file        *os.File
	initialSize int64

	mu   sync.RWMutex
	buf  []byte
	mode atomicMode

	appendPosition atomic.Int64
	loadSize       atomic.Int64
	lastForcedTime atomic.Int64
}

// NewMemorySegment creates or opens a memory-backed segment of initialSize
// bytes at path. If the file already exists its header and contents are
// loaded into the buffer; the append position starts at 0 and is set by
// the manager's truncation scan (recoverAppendPosition, then TruncateTo).
func NewMemorySegment(id uint16, path string, initialSize int64) (Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}

	total := HeaderSize + initialSize
	buf := make([]byte, total)

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}

	s := &memorySegment{id: id, path: path, file: f, initialSize: initialSize}

	if info.Size() >= HeaderSize {
		if _, err := f.ReadAt(buf[:info.Size()], 0); err != nil {
			f.Close()
			return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
		}
		h, err := decodeHeader(buf[:HeaderSize])
		if err != nil {
			f.Close()
			return nil, err
		}
		s.lastForcedTime.Store(h.lastForcedTime)
	} else {
		h := header{lastForcedTime: time.Now().UnixNano(), storageVersion: StorageVersion}
		copy(buf[:HeaderSize], encodeHeader(h))
		s.lastForcedTime.Store(h.lastForcedTime)
	}

	s.buf = buf
	return s, nil
}

func (s *memorySegment) ID() uint16 { return s.id }

func (s *memorySegment) Append(payload []byte) (int64, error) {
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
	putUint32BE(s.buf[absolute:absolute+lengthPrefixSize], uint32(len(payload)))
	copy(s.buf[absolute+lengthPrefixSize:], payload)
	s.mu.Unlock()

	s.appendPosition.Add(needed)
	s.loadSize.Add(needed)
	return pos, nil
}

func (s *memorySegment) ReadAt(offset int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	absolute := HeaderSize + offset
	if absolute+lengthPrefixSize > int64(len(s.buf)) {
		return nil, ErrTruncated
	}
	length := getUint32BE(s.buf[absolute : absolute+lengthPrefixSize])
	start := absolute + lengthPrefixSize
	end := start + int64(length)
	if end > int64(len(s.buf)) {
		return nil, ErrTruncated
	}
	out := make([]byte, length)
	copy(out, s.buf[start:end])
	return out, nil
}

func (s *memorySegment) ReadInto(offset int64, dst []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	absolute := HeaderSize + offset
	if absolute+lengthPrefixSize > int64(len(s.buf)) {
		return 0, ErrTruncated
	}
	length := getUint32BE(s.buf[absolute : absolute+lengthPrefixSize])
	start := absolute + lengthPrefixSize
	end := start + int64(length)
	if end > int64(len(s.buf)) || int64(len(dst)) < int64(length) {
		return 0, ErrTruncated
	}
	return copy(dst, s.buf[start:end]), nil
}

func (s *memorySegment) Force() error {
	s.mu.Lock()
	now := time.Now().UnixNano()
	putUint64BE(s.buf[0:8], uint64(now))
	fileSnapshot := make([]byte, len(s.buf))
	copy(fileSnapshot, s.buf)
	s.mu.Unlock()

	if _, err := s.file.WriteAt(fileSnapshot, 0); err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, 0)
	}
	if err := s.file.Sync(); err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, 0)
	}
	s.lastForcedTime.Store(now)
	return nil
}

func (s *memorySegment) AsReadOnly()            { s.mode.Store(ReadOnly) }
func (s *memorySegment) Mode() Mode             { return s.mode.Load() }
func (s *memorySegment) InitialSize() int64     { return s.initialSize }
func (s *memorySegment) AppendPosition() int64  { return s.appendPosition.Load() }
func (s *memorySegment) LoadSize() int64        { return s.loadSize.Load() }
func (s *memorySegment) LastForcedTime() int64  { return s.lastForcedTime.Load() }

func (s *memorySegment) LoadFactor() float64 {
	if s.initialSize == 0 {
		return 0
	}
	return float64(s.LoadSize()) / float64(s.initialSize)
}

func (s *memorySegment) Free() error {
	return s.file.Close()
}

func (s *memorySegment) TruncateTo(position int64) error {
	if s.mode.Load() == ReadOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendPosition.Store(position)
	s.loadSize.Store(position)
	return nil
}
