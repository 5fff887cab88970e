package krati

import (
	"context"
	"testing"

	"github.com/krati-db/krati/pkg/options"
)

func TestOpenSetGetSyncClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx,
		options.WithDataDir(dir),
		options.WithCapacity(16),
		options.WithSegmentFileSizeMB(1),
		options.WithSegmentFactoryKind(options.SegmentFactoryMemory),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	if err := s.Set(ctx, 1, []byte("v1"), 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q, want %q", got, "v1")
	}

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if s.LWMark() != s.HWMark() {
		t.Fatalf("expected LWM == HWM after Sync, got LWM=%d HWM=%d", s.LWMark(), s.HWMark())
	}
}

func TestOpenRequiresCapacity(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, options.WithDataDir(t.TempDir())); err == nil {
		t.Fatal("expected Open to fail without Capacity set")
	}
}

func TestSaveHWMarkRejectsRewindByDefault(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx,
		options.WithDataDir(t.TempDir()),
		options.WithCapacity(4),
		options.WithSegmentFileSizeMB(1),
		options.WithSegmentFactoryKind(options.SegmentFactoryMemory),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	if err := s.SaveHWMark(ctx, 100); err != nil {
		t.Fatalf("SaveHWMark forward: %v", err)
	}
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := s.SaveHWMark(ctx, 5); err == nil {
		t.Fatal("expected rewind below LWM to fail without AllowWatermarkRewind")
	}
}
