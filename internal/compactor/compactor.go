// Package compactor implements Krati's cooperative segment compaction: a
// background pass that reclaims space held by overwritten or deleted
// records by copying the survivors of a sparse segment into a fresh one.
package compactor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krati-db/krati/internal/address"
	"github.com/krati-db/krati/internal/segment"
	apperrors "github.com/krati-db/krati/pkg/errors"
)

// DataArray is the narrow interface the compactor needs from the data
// array to redirect a surviving record's address after copying it.
type DataArray interface {
	SetCompactionAddress(index uint32, newAddress uint64, scn int64) error
}

// Addresses is the narrow interface the compactor needs to resolve an
// index's current address before copying its record, so a pass never
// copies a record that's already been redirected elsewhere.
type Addresses interface {
	Get(index uint32) (uint64, error)
}

// Segments is the narrow interface the compactor needs from the segment
// manager. AllocateSegment — not NextSegment — is deliberate: a compaction
// target must be a segment object the write path never touches, so the two
// never race on the same Segment's Append.
type Segments interface {
	All() []segment.Segment
	Get(id uint16) (segment.Segment, bool)
	AllocateSegment() (segment.Segment, error)
	FreeSegment(id uint16) error
}

// Watermarks exposes the store's HWM/LWM so the compactor can stamp
// compaction SCNs above HWM and defer freeing a source segment until LWM
// has caught up past the compaction's own SCNs.
type Watermarks interface {
	HWMark() int64
	LWMark() int64
}

// LiveSet tracks, per segment, which logical indices currently resolve
// into it and how many of its bytes are still live — the bookkeeping that
// lets a compaction pass pick a candidate and iterate its survivors
// without scanning the whole address array.
type LiveSet struct {
	mu      sync.Mutex
	live    map[uint16]map[uint32]struct{}
	bytes   map[uint16]int64
}

// NewLiveSet creates an empty tracker.
func NewLiveSet() *LiveSet {
	return &LiveSet{
		live:  make(map[uint16]map[uint32]struct{}),
		bytes: make(map[uint16]int64),
	}
}

// RecordWrite implements dataarray.LiveTracker: index now lives in segID.
func (ls *LiveSet) RecordWrite(segID uint16, index uint32, recordSize int64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	set := ls.live[segID]
	if set == nil {
		set = make(map[uint32]struct{})
		ls.live[segID] = set
	}
	set[index] = struct{}{}
	ls.bytes[segID] += recordSize
}

// RecordDeath implements dataarray.LiveTracker: index no longer lives in segID.
func (ls *LiveSet) RecordDeath(segID uint16, index uint32, recordSize int64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if set := ls.live[segID]; set != nil {
		delete(set, index)
		if len(set) == 0 {
			delete(ls.live, segID)
		}
	}
	ls.bytes[segID] -= recordSize
}

// LiveBytes reports the tracked live byte count for a segment.
func (ls *LiveSet) LiveBytes(segID uint16) int64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.bytes[segID]
}

// LiveIndexes returns a snapshot of the logical indices currently live in segID.
func (ls *LiveSet) LiveIndexes(segID uint16) []uint32 {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	set := ls.live[segID]
	out := make([]uint32, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	return out
}

// Forget drops all bookkeeping for a segment, once it has been freed.
func (ls *LiveSet) Forget(segID uint16) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.live, segID)
	delete(ls.bytes, segID)
}

// Compactor runs the background compaction loop.
type Compactor struct {
	segments  Segments
	data      DataArray
	addresses Addresses
	marks     Watermarks
	live      *LiveSet
	log       *zap.SugaredLogger

	compactFactor  float64
	compactTrigger float64

	pendingFree map[uint16]int64 // segID -> SCN that LWM must reach before it's freed
	mu          sync.Mutex
}

// New builds a Compactor over the given collaborators.
func New(segments Segments, data DataArray, addresses Addresses, marks Watermarks, live *LiveSet, compactFactor, compactTrigger float64, log *zap.SugaredLogger) *Compactor {
	return &Compactor{
		segments:       segments,
		data:           data,
		addresses:      addresses,
		marks:          marks,
		live:           live,
		compactFactor:  compactFactor,
		compactTrigger: compactTrigger,
		log:            log,
		pendingFree:    make(map[uint16]int64),
	}
}

// Run loops, compacting one eligible segment at a time, until ctx is
// cancelled. It is meant to be started as a single background goroutine by
// Store.Open.
func (c *Compactor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil && c.log != nil {
				c.log.Warnw("compaction pass failed", "error", err)
			}
		}
	}
}

// RunOnce releases any source segments whose compaction SCN is at or below
// LWM, then performs at most one compaction pass.
func (c *Compactor) RunOnce(ctx context.Context) error {
	c.releaseFreeable()

	candidate := c.pickCandidate()
	if candidate == nil {
		return nil
	}
	return c.compactSegment(ctx, candidate)
}

func (c *Compactor) releaseFreeable() {
	c.mu.Lock()
	lwm := c.marks.LWMark()
	var freeable []uint16
	for id, scn := range c.pendingFree {
		if lwm >= scn {
			freeable = append(freeable, id)
		}
	}
	for _, id := range freeable {
		delete(c.pendingFree, id)
	}
	c.mu.Unlock()

	for _, id := range freeable {
		if err := c.segments.FreeSegment(id); err != nil {
			if c.log != nil {
				c.log.Warnw("failed to free compacted segment", "segmentId", id, "error", err)
			}
			continue
		}
		c.live.Forget(id)
	}
}

// pickCandidate selects the read-only segment with the lowest live
// fraction among those below compactFactor and above compactTrigger load,
// per the storage specification's compaction-eligibility rule.
func (c *Compactor) pickCandidate() segment.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best segment.Segment
	var bestRatio float64

	for _, seg := range c.segments.All() {
		if seg.Mode() != segment.ReadOnly {
			continue
		}
		if _, pending := c.pendingFree[seg.ID()]; pending {
			continue
		}
		loadFactor := seg.LoadFactor()
		if loadFactor <= c.compactTrigger {
			continue
		}
		loadSize := seg.LoadSize()
		if loadSize == 0 {
			continue
		}
		ratio := float64(c.live.LiveBytes(seg.ID())) / float64(loadSize)
		if ratio >= c.compactFactor {
			continue
		}
		if best == nil || ratio < bestRatio {
			best, bestRatio = seg, ratio
		}
	}
	return best
}

// compactSegment copies every surviving record out of source into a fresh
// target segment, redirecting each index's address and stamping a fresh
// SCN (HWM+1 per copy) via SetCompactionAddress. The source segment is not
// freed immediately: it's queued until LWM has advanced past the highest
// SCN used during this pass, so an in-flight reader that resolved an
// address before the redirect can't be left pointing at a freed segment.
//
// target comes from AllocateSegment, never NextSegment: it must be a
// segment object the writer never calls Append on, or a concurrent
// Store.Set and this copy loop could race on the same segment's append
// cursor and silently misaddress one of the two records.
func (c *Compactor) compactSegment(ctx context.Context, source segment.Segment) error {
	indexes := c.live.LiveIndexes(source.ID())
	if len(indexes) == 0 {
		c.mu.Lock()
		c.pendingFree[source.ID()] = c.marks.LWMark()
		c.mu.Unlock()
		return nil
	}

	target, err := c.segments.AllocateSegment()
	if err != nil {
		return err
	}

	var maxSCN int64
	for _, index := range indexes {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		addr, err := c.readLiveAddress(source, index)
		if err != nil {
			return err
		}
		if addr == address.Zero {
			continue
		}
		a := address.Unpack(addr)
		if a.SegmentID != source.ID() {
			// Already redirected elsewhere since the snapshot was taken.
			continue
		}

		payload, err := source.ReadAt(int64(a.Offset))
		if err != nil {
			return apperrors.NewStorageError(err, apperrors.ErrorCodeIO, "compaction read from source segment failed").
				WithSegmentID(source.ID()).WithOffset(int64(a.Offset))
		}

		offset, err := target.Append(payload)
		if err != nil {
			return apperrors.NewStorageError(err, apperrors.ErrorCodeIO, "compaction write to target segment failed").
				WithSegmentID(target.ID())
		}

		newAddr := address.Pack(target.ID(), uint32(offset), uint16(len(payload)))
		scn := c.marks.HWMark() + 1
		if err := c.data.SetCompactionAddress(index, newAddr, scn); err != nil {
			return err
		}
		recordSize := int64(4 + len(payload))
		c.live.RecordWrite(target.ID(), index, recordSize)
		c.live.RecordDeath(source.ID(), index, recordSize)
		if scn > maxSCN {
			maxSCN = scn
		}
	}

	if err := target.Force(); err != nil {
		return err
	}
	target.AsReadOnly()

	c.mu.Lock()
	c.pendingFree[source.ID()] = maxSCN
	c.mu.Unlock()

	if c.log != nil {
		c.log.Infow("compacted segment", "source", source.ID(), "target", target.ID(), "records", len(indexes))
	}
	return nil
}

// readLiveAddress resolves index's current address, so a record already
// redirected away from source since the live-index snapshot was taken is
// skipped rather than copied twice.
func (c *Compactor) readLiveAddress(source segment.Segment, index uint32) (uint64, error) {
	return c.addresses.Get(index)
}
