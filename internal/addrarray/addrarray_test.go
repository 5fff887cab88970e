package addrarray

import (
	"testing"

	"github.com/krati-db/krati/pkg/logger"
)

func TestSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	aa, err := Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer aa.Close()

	if err := aa.Set(3, 0xDEAD, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := aa.Get(3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 0xDEAD {
		t.Fatalf("got %x, want %x", got, 0xDEAD)
	}
	if aa.HWMark() != 1 {
		t.Fatalf("expected HWM=1, got %d", aa.HWMark())
	}
}

func TestGetOutOfRange(t *testing.T) {
	dir := t.TempDir()
	aa, err := Open(dir, 4, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer aa.Close()

	if _, err := aa.Get(10); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestSyncAdvancesLWMToHWM(t *testing.T) {
	dir := t.TempDir()
	aa, err := Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer aa.Close()

	if err := aa.Set(0, 100, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := aa.Set(1, 200, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := aa.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if aa.LWMark() != aa.HWMark() {
		t.Fatalf("expected LWM == HWM after Sync, got LWM=%d HWM=%d", aa.LWMark(), aa.HWMark())
	}
}

func TestRecoveryReplaysRedoEntries(t *testing.T) {
	dir := t.TempDir()
	// batchSize 1: every Set seals its batch into a redo file at once, while
	// maxEntries 5 keeps that file from being merged into indexes.dat.
	aa, err := Open(dir, 8, 1, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := aa.Set(2, 0xBEEF, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Simulate a crash: close without Sync, so the redo batch is still
	// sealed-unmerged on disk and indexes.dat still holds zero at index 2.
	if n := aa.entries.PendingSealed(); n != 1 {
		t.Fatalf("expected 1 sealed unmerged batch, got %d", n)
	}
	aa.Close()

	reopened, err := Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 0xBEEF {
		t.Fatalf("got %x, want %x", got, 0xBEEF)
	}
}

func TestClearResetsState(t *testing.T) {
	dir := t.TempDir()
	aa, err := Open(dir, 8, 10, 5, false, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer aa.Close()

	if err := aa.Set(0, 42, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := aa.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := aa.Get(0)
	if got != 0 {
		t.Fatalf("expected 0 after Clear, got %x", got)
	}
	if aa.HWMark() != 0 || aa.LWMark() != 0 {
		t.Fatalf("expected watermarks reset, got HWM=%d LWM=%d", aa.HWMark(), aa.LWMark())
	}
}
