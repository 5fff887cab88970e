package compactor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/krati-db/krati/internal/address"
	"github.com/krati-db/krati/internal/addrarray"
	"github.com/krati-db/krati/internal/dataarray"
	"github.com/krati-db/krati/internal/segment"
	"github.com/krati-db/krati/pkg/logger"
	"github.com/krati-db/krati/pkg/options"
)

type watermarks struct {
	aa *addrarray.AddressArray
}

func (w watermarks) HWMark() int64 { return w.aa.HWMark() }
func (w watermarks) LWMark() int64 { return w.aa.LWMark() }

func setup(t *testing.T, capacity uint32) (*dataarray.DataArray, *segment.Manager, *addrarray.AddressArray, *LiveSet) {
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

	live := NewLiveSet()
	da := dataarray.New(addrs, segs, live, logger.NewNop())
	return da, segs, addrs, live
}

func TestCompactionPreservesContents(t *testing.T) {
	da, segs, addrs, live := setup(t, 16)

	// 15 maximum-length records fill a 1 MB segment; the 16th rotates.
	payload := make([]byte, address.MaxBlobLength)
	for i := uint32(0); i < 16; i++ {
		if err := da.SetData(i, payload, int64(i)+1); err != nil {
			t.Fatalf("SetData(%d): %v", i, err)
		}
	}
	firstSegID := uint16(1)

	// Overwrite half the records so the first segment's live fraction drops.
	for i := uint32(0); i < 8; i++ {
		if err := da.SetData(i, payload, int64(i)+100); err != nil {
			t.Fatalf("overwrite SetData(%d): %v", i, err)
		}
	}
	if err := da.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	c := New(segs, da, addrs, watermarks{addrs}, live, 0.9, 0.01, logger.NewNop())

	seg, ok := segs.Get(firstSegID)
	if !ok || seg.Mode() != segment.ReadOnly {
		t.Fatalf("expected segment %d sealed read-only after rotation", firstSegID)
	}

	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
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

func TestCompactionDefersFreeUntilLWMCatchesUp(t *testing.T) {
	da, segs, addrs, live := setup(t, 16)

	payload := make([]byte, address.MaxBlobLength)
	for i := uint32(0); i < 16; i++ {
		if err := da.SetData(i, payload, int64(i)+1); err != nil {
			t.Fatalf("SetData(%d): %v", i, err)
		}
	}
	for i := uint32(0); i < 15; i++ {
		if err := da.SetData(i, payload, int64(i)+100); err != nil {
			t.Fatalf("overwrite SetData(%d): %v", i, err)
		}
	}

	c := New(segs, da, addrs, watermarks{addrs}, live, 0.9, 0.01, logger.NewNop())
	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, ok := segs.Get(1); !ok {
		t.Fatal("expected source segment to still exist before LWM catches up")
	}

	if err := da.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	if _, ok := segs.Get(1); ok {
		t.Fatal("expected source segment freed once LWM caught up")
	}
}

func TestPickCandidateSkipsCurrentWritableSegment(t *testing.T) {
	da, segs, addrs, live := setup(t, 8)

	if err := da.SetData(0, []byte("x"), 1); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	c := New(segs, da, addrs, watermarks{addrs}, live, 0.9, 0.0, logger.NewNop())
	if candidate := c.pickCandidate(); candidate != nil {
		t.Fatalf("expected no candidate while the only segment is still writable, got %v", candidate.ID())
	}
}
