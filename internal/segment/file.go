package segment

import (
	"bufio"
	"os"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/krati-db/krati/pkg/errors"
)

const writeBufferSize = 64 * 1024

// fileSegment fronts the OS file with a bounded bufio.Writer for appends;
// reads go straight through ReadAt against the file descriptor, which is
// safe to call concurrently with buffered (not-yet-flushed) appends as long
// as a reader never requests an offset the writer hasn't flushed — the data
// array only publishes an address after the writing goroutine's own append
// call returns, and Force flushes before any address referencing the new
// bytes is considered durable.
type fileSegment struct {
	id          uint16
	path        string
	file        *os.File
	initialSize int64

	mu     sync.Mutex
	writer *bufio.Writer
	mode   atomicMode

	appendPosition atomic.Int64
	loadSize       atomic.Int64
	lastForcedTime atomic.Int64
}

// NewFileSegment creates or opens a write-buffer-backed segment.
func NewFileSegment(id uint16, path string, initialSize int64) (Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}

	s := &fileSegment{id: id, path: path, file: f, initialSize: initialSize}
	s.writer = bufio.NewWriterSize(&fileAppender{f: f}, writeBufferSize)

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
	}

	if info.Size() >= HeaderSize {
		hdrBuf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(hdrBuf, 0); err != nil {
			f.Close()
			return nil, apperrors.ClassifyFileOpenError(err, path, segmentFileName(id))
		}
		h, err := decodeHeader(hdrBuf)
		if err != nil {
			f.Close()
			return nil, err
		}
		s.lastForcedTime.Store(h.lastForcedTime)
	} else {
		h := header{lastForcedTime: time.Now().UnixNano(), storageVersion: StorageVersion}
		if _, err := f.WriteAt(encodeHeader(h), 0); err != nil {
			f.Close()
			return nil, apperrors.ClassifySyncError(err, segmentFileName(id), path, 0)
		}
		s.lastForcedTime.Store(h.lastForcedTime)
	}

	return s, nil
}

// fileAppender positions writes right after the header at construction and
// tracks the running append offset so bufio.Writer's Write calls land
// sequentially.
type fileAppender struct {
	f   *os.File
	off int64
}

func (a *fileAppender) Write(p []byte) (int, error) {
	n, err := a.f.WriteAt(p, HeaderSize+a.off)
	a.off += int64(n)
	return n, err
}

func (s *fileSegment) ID() uint16 { return s.id }

func (s *fileSegment) Append(payload []byte) (int64, error) {
	if s.mode.Load() == ReadOnly {
		return 0, ErrReadOnly
	}

	needed := int64(lengthPrefixSize + len(payload))
	pos := s.appendPosition.Load()
	if pos+needed > s.initialSize {
		return 0, ErrOverflow
	}

	var lenBuf [lengthPrefixSize]byte
	putUint32BE(lenBuf[:], uint32(len(payload)))

	s.mu.Lock()
	_, err := s.writer.Write(lenBuf[:])
	if err == nil {
		_, err = s.writer.Write(payload)
	}
	s.mu.Unlock()
	if err != nil {
		return 0, apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, pos)
	}

	s.appendPosition.Add(needed)
	s.loadSize.Add(needed)
	return pos, nil
}

func (s *fileSegment) ReadAt(offset int64) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := s.file.ReadAt(lenBuf[:], HeaderSize+offset); err != nil {
		return nil, ErrTruncated
	}
	length := getUint32BE(lenBuf[:])
	out := make([]byte, length)
	if _, err := s.file.ReadAt(out, HeaderSize+offset+lengthPrefixSize); err != nil {
		return nil, ErrTruncated
	}
	return out, nil
}

func (s *fileSegment) ReadInto(offset int64, dst []byte) (int, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := s.file.ReadAt(lenBuf[:], HeaderSize+offset); err != nil {
		return 0, ErrTruncated
	}
	length := getUint32BE(lenBuf[:])
	if int64(len(dst)) < int64(length) {
		return 0, ErrTruncated
	}
	n, err := s.file.ReadAt(dst[:length], HeaderSize+offset+lengthPrefixSize)
	if err != nil {
		return 0, ErrTruncated
	}
	return n, nil
}

func (s *fileSegment) Force() error {
	s.mu.Lock()
	err := s.writer.Flush()
	s.mu.Unlock()
	if err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, 0)
	}

	now := time.Now().UnixNano()
	var tsBuf [8]byte
	putUint64BE(tsBuf[:], uint64(now))
	if _, err := s.file.WriteAt(tsBuf[:], 0); err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, 0)
	}
	if err := s.file.Sync(); err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, 0)
	}
	s.lastForcedTime.Store(now)
	return nil
}

func (s *fileSegment) AsReadOnly() {
	s.mu.Lock()
	s.writer.Flush()
	s.mu.Unlock()
	s.mode.Store(ReadOnly)
}

func (s *fileSegment) Mode() Mode            { return s.mode.Load() }
func (s *fileSegment) InitialSize() int64    { return s.initialSize }
func (s *fileSegment) AppendPosition() int64 { return s.appendPosition.Load() }
func (s *fileSegment) LoadSize() int64       { return s.loadSize.Load() }
func (s *fileSegment) LastForcedTime() int64 { return s.lastForcedTime.Load() }

func (s *fileSegment) LoadFactor() float64 {
	if s.initialSize == 0 {
		return 0
	}
	return float64(s.LoadSize()) / float64(s.initialSize)
}

func (s *fileSegment) Free() error {
	return s.file.Close()
}

func (s *fileSegment) TruncateTo(position int64) error {
	if s.mode.Load() == ReadOnly {
		return ErrReadOnly
	}
	if err := s.file.Truncate(HeaderSize + position); err != nil {
		return apperrors.ClassifySyncError(err, segmentFileName(s.id), s.path, position)
	}
	s.mu.Lock()
	s.writer.Reset(&fileAppender{f: s.file, off: position})
	s.mu.Unlock()
	s.appendPosition.Store(position)
	s.loadSize.Store(position)
	return nil
}
