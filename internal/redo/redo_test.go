package redo

import (
	"path/filepath"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := Batch{
		Kind: KindNormal,
		Records: []Record{
			{Index: 1, NewAddress: 100, OldAddress: 0, SCN: 1},
			{Index: 2, NewAddress: 200, OldAddress: 50, SCN: 2},
		},
		MinSCN: 1,
		MaxSCN: 2,
	}
	raw := Encode(b)

	decoded, err := Decode("test.redo", raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Records) != 2 || decoded.Records[1].NewAddress != 200 {
		t.Fatalf("unexpected decoded batch: %+v", decoded)
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	b := Batch{Kind: KindNormal, Records: []Record{{Index: 1, NewAddress: 1, SCN: 1}}, MinSCN: 1, MaxSCN: 1}
	raw := Encode(b)
	raw[len(raw)-1] ^= 0xFF

	if _, err := Decode("test.redo", raw); err == nil {
		t.Fatal("expected CRC mismatch error")
	}
}

func TestFileNameRoundTrip(t *testing.T) {
	b := Batch{Kind: KindCompaction, MinSCN: 10, MaxSCN: 20}
	name := FileName(b)
	min, max, kind, ok := ParseFileName(name)
	if !ok || min != 10 || max != 20 || kind != KindCompaction {
		t.Fatalf("ParseFileName(%q) = %d,%d,%v,%v", name, min, max, kind, ok)
	}
}

type fakeApplier struct {
	applied map[uint32]uint64
	lwm     int64
}

func (f *fakeApplier) ApplyAddress(index uint32, newAddress uint64) error {
	f.applied[index] = newAddress
	return nil
}

func (f *fakeApplier) ForceWithWatermark(lwmScn int64) error {
	f.lwm = lwmScn
	return nil
}

func TestManagerRotatesAndApplies(t *testing.T) {
	dir := t.TempDir()
	applier := &fakeApplier{applied: make(map[uint32]uint64)}

	var lastApplied int64
	mgr, err := NewManager(dir, 2, 1, applier, func(scn int64) { lastApplied = scn }, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := mgr.Append(KindNormal, Record{Index: 1, NewAddress: 11, SCN: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mgr.Append(KindNormal, Record{Index: 2, NewAddress: 22, SCN: 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if applier.applied[1] != 11 || applier.applied[2] != 22 {
		t.Fatalf("expected batch applied after rotation+maxEntries trigger, got %+v", applier.applied)
	}
	if lastApplied != 2 {
		t.Fatalf("expected onApplied(2), got %d", lastApplied)
	}
	if mgr.PendingSealed() != 0 {
		t.Fatalf("expected no pending sealed batches, got %d", mgr.PendingSealed())
	}

	entries, _ := filepath.Glob(filepath.Join(dir, "*.redo"))
	if len(entries) != 0 {
		t.Fatalf("expected applied batch file removed, found %v", entries)
	}
}

func TestManagerSyncFlushesPartialBatch(t *testing.T) {
	dir := t.TempDir()
	applier := &fakeApplier{applied: make(map[uint32]uint64)}

	mgr, err := NewManager(dir, 100, 100, applier, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Append(KindNormal, Record{Index: 5, NewAddress: 50, SCN: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mgr.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if applier.applied[5] != 50 {
		t.Fatalf("expected Sync to apply partial batch, got %+v", applier.applied)
	}
}

func TestRecoverReadsSealedFiles(t *testing.T) {
	dir := t.TempDir()
	b := Batch{Kind: KindNormal, Records: []Record{{Index: 1, NewAddress: 1, SCN: 1}}, MinSCN: 1, MaxSCN: 1}
	if _, err := WriteBatchFile(dir, b); err != nil {
		t.Fatalf("WriteBatchFile: %v", err)
	}

	recovered, err := Recover(dir, 0, false, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("expected 1 recovered batch, got %d", len(recovered))
	}
}
