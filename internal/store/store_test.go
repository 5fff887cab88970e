package store

import (
	"testing"

	"github.com/krati-db/krati/pkg/logger"
	"github.com/krati-db/krati/pkg/options"
)

func newTestOpts(t *testing.T, capacity uint32) options.Options {
	t.Helper()
	opts, err := options.New(
		options.WithDataDir(t.TempDir()),
		options.WithCapacity(capacity),
		options.WithSegmentFileSizeMB(1),
		options.WithSegmentFactoryKind(options.SegmentFactoryMemory),
	)
	if err != nil {
		t.Fatalf("options.New: %v", err)
	}
	return opts
}

func TestOpenSetGetClose(t *testing.T) {
	s, err := Open(newTestOpts(t, 8), logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Set(0, []byte("value"), 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("got %q, want %q", got, "value")
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	s, err := Open(newTestOpts(t, 8), logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get(0); err == nil {
		t.Fatal("expected error reading from a closed store")
	}
	if err := s.Set(0, []byte("x"), 1); err == nil {
		t.Fatal("expected error writing to a closed store")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(newTestOpts(t, 8), logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReopenRecoversData(t *testing.T) {
	opts := newTestOpts(t, 8)
	opts.SegmentFactoryKind = options.SegmentFactoryWriteBuffer

	s, err := Open(opts, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(4, []byte("persisted"), 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(opts, logger.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(4)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("got %q, want %q", got, "persisted")
	}
}

func TestClearResetsStore(t *testing.T) {
	s, err := Open(newTestOpts(t, 8), logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Set(0, []byte("x"), 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err := s.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after Clear, got %v", got)
	}
	if s.HWMark() != 0 || s.LWMark() != 0 {
		t.Fatalf("expected watermarks reset after Clear, got HWM=%d LWM=%d", s.HWMark(), s.LWMark())
	}
}

func TestCheckedModeRoundTrip(t *testing.T) {
	opts := newTestOpts(t, 8)
	opts.Checked = true

	s, err := Open(opts, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Set(0, []byte("checked-payload"), 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "checked-payload" {
		t.Fatalf("got %q, want %q", got, "checked-payload")
	}
}
