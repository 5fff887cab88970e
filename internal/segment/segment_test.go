package segment

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/krati-db/krati/pkg/logger"
	"github.com/krati-db/krati/pkg/options"
)

func TestMemorySegmentAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewMemorySegment(1, filepath.Join(dir, "1.seg"), 4096)
	if err != nil {
		t.Fatalf("NewMemorySegment: %v", err)
	}
	defer seg.Free()

	off, err := seg.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected offset 0, got %d", off)
	}

	got, err := seg.ReadAt(off)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestFileSegmentForceAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.seg")

	seg, err := NewFileSegment(1, path, 4096)
	if err != nil {
		t.Fatalf("NewFileSegment: %v", err)
	}
	if _, err := seg.Append([]byte("abc")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := seg.Force(); err != nil {
		t.Fatalf("Force: %v", err)
	}
	if err := seg.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}

	reopened, err := NewFileSegment(1, path, 4096)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Free()

	pos, err := recoverAppendPosition(reopened)
	if err != nil {
		t.Fatalf("recoverAppendPosition: %v", err)
	}
	if pos != int64(lengthPrefixSize+3) {
		t.Fatalf("expected recovered position %d, got %d", lengthPrefixSize+3, pos)
	}
}

func TestSegmentOverflow(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewMemorySegment(1, filepath.Join(dir, "1.seg"), 8)
	if err != nil {
		t.Fatalf("NewMemorySegment: %v", err)
	}
	defer seg.Free()

	if _, err := seg.Append([]byte("0123456789")); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestSegmentReadOnly(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewMemorySegment(1, filepath.Join(dir, "1.seg"), 4096)
	if err != nil {
		t.Fatalf("NewMemorySegment: %v", err)
	}
	defer seg.Free()

	seg.AsReadOnly()
	if _, err := seg.Append([]byte("x")); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestManagerRotatesAndRecovers(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewNop()

	mgr, err := Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryWriteBuffer, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := mgr.Current()
	if first.ID() != 1 {
		t.Fatalf("expected first segment id 1, got %d", first.ID())
	}
	if _, err := first.Append([]byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := first.Force(); err != nil {
		t.Fatalf("Force: %v", err)
	}

	second, err := mgr.NextSegment()
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	if second.ID() != 2 {
		t.Fatalf("expected second segment id 2, got %d", second.ID())
	}
	if first.Mode() != ReadOnly {
		t.Fatalf("expected first segment sealed read-only after rotation")
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr2, err := Open(filepath.Join(dir, "segs"), 1, options.SegmentFactoryWriteBuffer, log)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer mgr2.Close()

	recoveredFirst, ok := mgr2.Get(1)
	if !ok {
		t.Fatal("expected segment 1 to survive recovery")
	}
	if recoveredFirst.Mode() != ReadOnly {
		t.Fatalf("expected segment 1 to resume as read-only")
	}
	data, err := recoveredFirst.ReadAt(0)
	if err != nil {
		t.Fatalf("ReadAt after recovery: %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("got %q, want %q", data, "payload")
	}
}
