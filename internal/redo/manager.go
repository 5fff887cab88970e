package redo

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/krati-db/krati/pkg/errors"
	"github.com/krati-db/krati/pkg/filesys"
)

// IndexApplier is the narrow interface the entry manager needs from the
// address array to merge sealed batches into indexes.dat.
type IndexApplier interface {
	// ApplyAddress writes newAddress at the given logical index's slot.
	ApplyAddress(index uint32, newAddress uint64) error

	// ForceWithWatermark durably persists indexes.dat, stamping its header
	// with lwmScn as the new low water mark.
	ForceWithWatermark(lwmScn int64) error
}

type sealedFile struct {
	path  string
	batch Batch
}

// Manager maintains the bounded ring of in-progress redo batches described
// in the storage specification: per-kind in-memory batches that seal into
// files at batchSize, and a sealed queue that's merged into indexes.dat
// once it reaches maxEntries (or on an explicit Sync).
type Manager struct {
	mu         sync.Mutex
	dir        string
	batchSize  int
	maxEntries int
	applier    IndexApplier
	onApplied  func(maxSCN int64)
	log        *zap.SugaredLogger

	current map[Kind]*Batch
	sealed  []sealedFile
}

// NewManager creates an entry manager rooted at dir (the store's data
// directory — redo files live alongside indexes.dat, not inside segs/).
func NewManager(dir string, batchSize, maxEntries int, applier IndexApplier, onApplied func(maxSCN int64), log *zap.SugaredLogger) (*Manager, error) {
	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return nil, apperrors.ClassifyDirectoryCreationError(err, dir)
	}
	return &Manager{
		dir:        dir,
		batchSize:  batchSize,
		maxEntries: maxEntries,
		applier:    applier,
		onApplied:  onApplied,
		log:        log,
		current:    make(map[Kind]*Batch),
	}, nil
}

// Append adds a record to the current batch of the given kind, rotating to
// a sealed file at batchSize and triggering apply-and-prune at maxEntries.
// Single-writer contract: the caller serializes calls to Append.
func (m *Manager) Append(kind Kind, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.current[kind]
	if b == nil {
		b = &Batch{Kind: kind, MinSCN: rec.SCN}
		m.current[kind] = b
	}
	b.Records = append(b.Records, rec)
	b.MaxSCN = rec.SCN

	if len(b.Records) >= m.batchSize {
		if err := m.sealLocked(kind); err != nil {
			return err
		}
	}
	if len(m.sealed) >= m.maxEntries {
		return m.applyAndPruneLocked()
	}
	return nil
}

func (m *Manager) sealLocked(kind Kind) error {
	b := m.current[kind]
	if b == nil || len(b.Records) == 0 {
		return nil
	}
	path, err := WriteBatchFile(m.dir, *b)
	if err != nil {
		return err
	}
	m.sealed = append(m.sealed, sealedFile{path: path, batch: *b})
	delete(m.current, kind)
	return nil
}

// Sync seals every still-mutable batch (even partially filled) and merges
// every sealed batch into indexes.dat, regardless of maxEntries.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind := range m.current {
		if err := m.sealLocked(kind); err != nil {
			return err
		}
	}
	return m.applyAndPruneLocked()
}

func (m *Manager) applyAndPruneLocked() error {
	if len(m.sealed) == 0 {
		return nil
	}

	sort.SliceStable(m.sealed, func(i, j int) bool {
		return m.sealed[i].batch.MinSCN < m.sealed[j].batch.MinSCN
	})

	for _, sf := range m.sealed {
		for _, rec := range sf.batch.Records {
			if err := m.applier.ApplyAddress(rec.Index, rec.NewAddress); err != nil {
				return err
			}
		}
		if err := m.applier.ForceWithWatermark(sf.batch.MaxSCN); err != nil {
			return err
		}
		if err := os.Remove(sf.path); err != nil && !os.IsNotExist(err) {
			return apperrors.ClassifyFileOpenError(err, sf.path, filepath.Base(sf.path))
		}
		if m.onApplied != nil {
			m.onApplied(sf.batch.MaxSCN)
		}
		if m.log != nil {
			m.log.Debugw("applied redo batch", "file", filepath.Base(sf.path), "records", len(sf.batch.Records))
		}
	}

	m.sealed = nil
	return nil
}

// PendingSealed reports how many sealed-but-unapplied batch files exist.
func (m *Manager) PendingSealed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sealed)
}

// Clear discards every in-memory and on-disk batch, used by AddressArray.Clear.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = make(map[Kind]*Batch)
	for _, sf := range m.sealed {
		os.Remove(sf.path)
	}
	m.sealed = nil

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return apperrors.ClassifyDirectoryCreationError(err, m.dir)
	}
	for _, e := range entries {
		if _, _, _, ok := ParseFileName(e.Name()); ok {
			os.Remove(filepath.Join(m.dir, e.Name()))
		}
	}
	return nil
}

// RecoveredBatch pairs a decoded batch with the file it came from, for
// Recover's caller to fold into the sealed queue after replaying it.
type RecoveredBatch struct {
	Path  string
	Batch Batch
}

// Recover scans dir for *.redo files, validates and decodes each, and
// returns them sorted by ascending MinSCN. allowDiscard permits a corrupted
// file to be dropped with a warning instead of aborting recovery, but only
// if the file's entire SCN range lies above allowDiscardAboveSCN (i.e. above
// the durable low water mark) — data already merged into indexes.dat is
// never at risk from a dropped redo file below that point.
func Recover(dir string, allowDiscardAboveSCN int64, allowDiscard bool, log *zap.SugaredLogger) ([]RecoveredBatch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.ClassifyDirectoryCreationError(err, dir)
	}

	var out []RecoveredBatch
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		minScn, _, _, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, e.Name())
		batch, err := ReadBatchFile(path)
		if err != nil {
			if allowDiscard && minScn > allowDiscardAboveSCN {
				if log != nil {
					log.Warnw("discarding corrupted redo file above low water mark", "file", e.Name(), "error", err)
				}
				continue
			}
			return nil, err
		}
		out = append(out, RecoveredBatch{Path: path, Batch: batch})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Batch.MinSCN < out[j].Batch.MinSCN
	})
	return out, nil
}

// AdoptSealed seeds the manager's sealed queue with batches recovered from
// disk, so the next Sync/Append-triggered apply-and-prune picks them up.
func (m *Manager) AdoptSealed(recovered []RecoveredBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recovered {
		m.sealed = append(m.sealed, sealedFile{path: r.Path, batch: r.Batch})
	}
}
