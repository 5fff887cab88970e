package dataarray

import (
	"path/filepath"
	"testing"

	"github.com/krati-db/krati/internal/address"
	"github.com/krati-db/krati/internal/addrarray"
	"github.com/krati-db/krati/internal/segment"
	"github.com/krati-db/krati/pkg/logger"
	"github.com/krati-db/krati/pkg/options"
)

type fakeLive struct {
	liveBytes map[uint16]int64
}

func newFakeLive() *fakeLive { return &fakeLive{liveBytes: make(map[uint16]int64)} }

func (f *fakeLive) RecordWrite(segID uint16, index uint32, size int64) { f.liveBytes[segID] += size }
func (f *fakeLive) RecordDeath(segID uint16, index uint32, size int64) { f.liveBytes[segID] -= size }

func newTestArray(t *testing.T, capacity uint32) (*DataArray, *segment.Manager, *addrarray.AddressArray) {
	t.Helper()
	dir := t.TempDir()

	segs, err := segment.Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryMemory, logger.NewNop())
	if err != nil {
		t.Fatalf("segment.Open: %v", err)
	}
	t.Cleanup(func() { segs.Close() })

	addrs, err := addrarray.Open(dir, capacity, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("addrarray.Open: %v", err)
	}
	t.Cleanup(func() { addrs.Close() })

	return New(addrs, segs, newFakeLive(), logger.NewNop()), segs, addrs
}

func TestSetGetRoundTrip(t *testing.T) {
	da, _, _ := newTestArray(t, 8)

	if err := da.SetData(2, []byte("hello"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	got, err := da.GetData(2)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	da, _, _ := newTestArray(t, 8)

	got, err := da.GetData(5)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unset index, got %v", got)
	}
}

func TestDeleteClearsAddress(t *testing.T) {
	da, _, _ := newTestArray(t, 8)

	if err := da.SetData(0, []byte("x"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if err := da.Delete(0, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := da.GetData(0)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %v", got)
	}
}

func TestGetIntoCopiesPayload(t *testing.T) {
	da, _, _ := newTestArray(t, 8)

	if err := da.SetData(1, []byte("abcdef"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	buf := make([]byte, 6)
	n, err := da.GetInto(1, buf)
	if err != nil {
		t.Fatalf("GetInto: %v", err)
	}
	if n != 6 || string(buf) != "abcdef" {
		t.Fatalf("GetInto copied %q (%d bytes)", buf, n)
	}
}

func TestLastWriteWins(t *testing.T) {
	da, _, _ := newTestArray(t, 8)

	if err := da.SetData(0, []byte("first"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if err := da.SetData(0, []byte("second"), 2); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	got, err := da.GetData(0)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}

func TestSegmentRotationOnOverflow(t *testing.T) {
	dir := t.TempDir()

	// A 1 MB segment holds 15 maximum-length records, so the 16th rotates.
	segs, err := segment.Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryMemory, logger.NewNop())
	if err != nil {
		t.Fatalf("segment.Open: %v", err)
	}
	defer segs.Close()

	addrs, err := addrarray.Open(dir, 64, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("addrarray.Open: %v", err)
	}
	defer addrs.Close()

	da := New(addrs, segs, newFakeLive(), logger.NewNop())

	payload := make([]byte, address.MaxBlobLength)
	firstSeg := segs.Current().ID()
	for i := uint32(0); i < 16; i++ {
		if err := da.SetData(i, payload, int64(i)+1); err != nil {
			t.Fatalf("SetData(%d): %v", i, err)
		}
	}
	if segs.Current().ID() == firstSeg {
		t.Fatalf("expected segment rotation after filling the first segment")
	}

	for i := uint32(0); i < 16; i++ {
		got, err := da.GetData(i)
		if err != nil {
			t.Fatalf("GetData(%d): %v", i, err)
		}
		if len(got) != len(payload) {
			t.Fatalf("GetData(%d) length = %d, want %d", i, len(got), len(payload))
		}
	}
}

func TestSyncPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	segs, err := segment.Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryWriteBuffer, logger.NewNop())
	if err != nil {
		t.Fatalf("segment.Open: %v", err)
	}
	addrs, err := addrarray.Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("addrarray.Open: %v", err)
	}
	da := New(addrs, segs, newFakeLive(), logger.NewNop())

	if err := da.SetData(3, []byte("durable"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if err := da.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	segs.Close()
	addrs.Close()

	segs2, err := segment.Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryWriteBuffer, logger.NewNop())
	if err != nil {
		t.Fatalf("reopen segment.Open: %v", err)
	}
	defer segs2.Close()
	addrs2, err := addrarray.Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("reopen addrarray.Open: %v", err)
	}
	defer addrs2.Close()
	da2 := New(addrs2, segs2, newFakeLive(), logger.NewNop())

	got, err := da2.GetData(3)
	if err != nil {
		t.Fatalf("GetData after reopen: %v", err)
	}
	if string(got) != "durable" {
		t.Fatalf("got %q, want %q", got, "durable")
	}
}

func TestCheckedDataArrayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()

	segs, err := segment.Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryMemory, logger.NewNop())
	if err != nil {
		t.Fatalf("segment.Open: %v", err)
	}
	defer segs.Close()
	addrs, err := addrarray.Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("addrarray.Open: %v", err)
	}
	defer addrs.Close()

	cda := NewChecked(addrs, segs, newFakeLive(), logger.NewNop())
	if err := cda.SetData(0, []byte("payload"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	got, err := cda.GetData(0)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}

	// Append a corrupted copy of the record (payload byte flipped, original
	// checksum trailer kept) and redirect index 0 at it, to verify the
	// checksum guard fires without reaching into segment internals.
	seg := segs.Current()
	raw, err := seg.ReadAt(0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	raw[0] ^= 0xFF
	offset, err := seg.Append(raw)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	corruptAddr := address.Pack(seg.ID(), uint32(offset), uint16(len(raw)))
	if err := addrs.Set(0, corruptAddr, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := cda.GetData(0); err == nil {
		t.Fatal("expected checksum mismatch to be detected")
	}
}
