package segment

import (
	stdErrors "errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/krati-db/krati/pkg/errors"
	"github.com/krati-db/krati/pkg/filesys"
	"github.com/krati-db/krati/pkg/options"
)

// MaxSegments is the largest segment id the 16-bit segId field of a packed
// address can hold. Id 0 is reserved for "no data" and is never allocated.
const MaxSegments = math.MaxUint16

type factoryFunc func(id uint16, path string, initialSize int64) (Segment, error)

// Manager owns the segs/ directory: it allocates, recovers, and retires
// Segment instances, and enforces that exactly one segment is writable at
// a time.
type Manager struct {
	mu          sync.RWMutex
	dir         string
	initialSize int64
	newSegment  factoryFunc
	segments    map[uint16]Segment
	currentID   uint16
	log         *zap.SugaredLogger
}

// Open recovers (or creates) the segment directory at dir.
func Open(dir string, segmentFileSizeMB uint32, kind options.SegmentFactoryKind, log *zap.SugaredLogger) (*Manager, error) {
	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return nil, apperrors.ClassifyDirectoryCreationError(err, dir)
	}

	m := &Manager{
		dir:         dir,
		initialSize: int64(segmentFileSizeMB) << 20,
		segments:    make(map[uint16]Segment),
		log:         log,
	}

	switch kind {
	case options.SegmentFactoryMemory:
		m.newSegment = NewMemorySegment
	case options.SegmentFactoryMapped:
		m.newSegment = NewMappedSegment
	case options.SegmentFactoryChannel:
		m.newSegment = func(id uint16, path string, size int64) (Segment, error) {
			inner, err := NewFileSegment(id, path, size)
			if err != nil {
				return nil, err
			}
			return NewChannelSegment(inner), nil
		}
	default:
		m.newSegment = NewFileSegment
	}

	if err := m.recover(); err != nil {
		m.closeAll()
		return nil, err
	}

	return m, nil
}

func (m *Manager) path(id uint16) string {
	return filepath.Join(m.dir, segmentFileName(id))
}

func (m *Manager) recover() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return apperrors.ClassifyDirectoryCreationError(err, m.dir)
	}

	var ids []uint16
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseSegmentFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var resume Segment
	for _, id := range ids {
		seg, err := m.newSegment(id, m.path(id), m.initialSize)
		if err != nil {
			return err
		}

		pos, err := recoverAppendPosition(seg)
		if err != nil {
			return err
		}
		if err := seg.TruncateTo(pos); err != nil {
			return err
		}

		m.segments[id] = seg
		if pos < m.initialSize && (resume == nil || seg.LastForcedTime() > resume.LastForcedTime()) {
			resume = seg
		}

		if m.log != nil {
			m.log.Debugw("recovered segment", "segmentId", id, "appendPosition", pos)
		}
	}

	for id, seg := range m.segments {
		if resume == nil || id != resume.ID() {
			seg.AsReadOnly()
		}
	}

	if resume != nil {
		m.currentID = resume.ID()
		return nil
	}

	_, err = m.nextSegmentLocked()
	return err
}

// recoverAppendPosition walks a segment's record stream from the start,
// stopping at the first record whose declared length runs past the data
// actually on disk — the boundary a crash mid-append leaves behind.
func recoverAppendPosition(seg Segment) (int64, error) {
	var pos int64
	for {
		payload, err := seg.ReadAt(pos)
		if err != nil {
			if stdErrors.Is(err, ErrTruncated) {
				return pos, nil
			}
			return pos, err
		}
		pos += int64(lengthPrefixSize + len(payload))
	}
}

// Current returns the single writable segment.
func (m *Manager) Current() Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segments[m.currentID]
}

// Get returns the segment with the given id, if known to the manager.
func (m *Manager) Get(id uint16) (Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	return seg, ok
}

// All returns every segment the manager currently tracks, in id order.
func (m *Manager) All() []Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Segment, 0, len(m.segments))
	ids := make([]uint16, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out = append(out, m.segments[id])
	}
	return out
}

// NextSegment seals the current segment and allocates a new writable one.
func (m *Manager) NextSegment() (Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSegmentLocked()
}

// AllocateSegment creates and tracks a fresh writable segment without
// touching the writer's current segment — unlike NextSegment, it never
// seals or replaces whatever the writer is actively appending to. This is
// the compactor's allocator: a compaction target must never be the same
// segment object the write path is concurrently calling Append on.
func (m *Manager) AllocateSegment() (Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.smallestFreeIDLocked()
	if err != nil {
		return nil, err
	}

	seg, err := m.newSegment(id, m.path(id), m.initialSize)
	if err != nil {
		return nil, err
	}

	m.segments[id] = seg
	return seg, nil
}

func (m *Manager) nextSegmentLocked() (Segment, error) {
	if current, ok := m.segments[m.currentID]; ok && len(m.segments) > 0 {
		if current.Mode() == ReadWrite {
			if err := current.Force(); err != nil {
				return nil, err
			}
			current.AsReadOnly()
		}
	}

	id, err := m.smallestFreeIDLocked()
	if err != nil {
		return nil, err
	}

	seg, err := m.newSegment(id, m.path(id), m.initialSize)
	if err != nil {
		return nil, err
	}

	m.segments[id] = seg
	m.currentID = id
	return seg, nil
}

func (m *Manager) smallestFreeIDLocked() (uint16, error) {
	for id := uint16(1); id < MaxSegments; id++ {
		if _, used := m.segments[id]; !used {
			return id, nil
		}
	}
	return 0, apperrors.NewStorageError(nil, apperrors.ErrorCodeOutOfSegments, "segment id space exhausted").
		WithPath(m.dir)
}

// FreeSegment releases and unlinks a segment. The caller (the compactor,
// via the data array) must already have guaranteed the segment has zero
// live references.
func (m *Manager) FreeSegment(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.currentID {
		return apperrors.NewStorageError(nil, apperrors.ErrorCodeInternal, "refusing to free the current writable segment").
			WithSegmentID(id)
	}

	seg, ok := m.segments[id]
	if !ok {
		return nil
	}
	if err := seg.Free(); err != nil {
		return err
	}
	delete(m.segments, id)
	return os.Remove(m.path(id))
}

func (m *Manager) closeAll() {
	for _, seg := range m.segments {
		seg.Free()
	}
}

// Close forces and releases every tracked segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, seg := range m.segments {
		if seg.Mode() == ReadWrite {
			if err := seg.Force(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := seg.Free(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear discards every segment and its backing file, leaving the manager
// ready to allocate a fresh segment 1 on the next write.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, seg := range m.segments {
		seg.Free()
		if err := os.Remove(m.path(id)); err != nil && !os.IsNotExist(err) {
			return apperrors.ClassifyFileOpenError(err, m.path(id), segmentFileName(id))
		}
	}
	m.segments = make(map[uint16]Segment)
	m.currentID = 0

	_, err := m.nextSegmentLocked()
	return err
}
