// Package addrarray implements Krati's persistent address array: a
// fixed-length table of packed 64-bit addresses, backed by indexes.dat and
// a redo log of batched updates (internal/redo) for crash recovery.
//
// Reads (Get) are lock-free: the live table is a plain slice of
// atomic.Uint64, so a reader never blocks on the single writer. Writes
// (Set, SetCompactionAddress, Sync, SaveHWMark, Clear) follow the
// single-writer contract described in the storage specification — the
// caller is responsible for serializing them.
package addrarray

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/krati-db/krati/internal/redo"
	apperrors "github.com/krati-db/krati/pkg/errors"
)

const fileName = "indexes.dat"

var indexesMagic = [8]byte{'K', 'R', 'A', 'T', 'I', 'D', 'X', '1'}

const headerVersion uint32 = 1

// HeaderSize is magic(8) + version(4) + length(4) + lwmScn(8) + hwmScn(8).
const HeaderSize = 32

type fileHeader struct {
	version uint32
	length  uint32
	lwmScn  int64
	hwmScn  int64
}

// The indexes.dat header is bit-exact, little-endian; the body (packed
// addresses) and every other on-disk format in this store (.seg headers,
// redo entries) are big-endian, matching the rest of the codebase.
func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], indexesMagic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.version)
	binary.LittleEndian.PutUint32(buf[12:16], h.length)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.lwmScn))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.hwmScn))
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < HeaderSize || string(buf[0:8]) != string(indexesMagic[:]) {
		return fileHeader{}, apperrors.NewAddressError(nil, apperrors.ErrorCodeSegmentCorrupted, "indexes.dat magic mismatch")
	}
	return fileHeader{
		version: binary.LittleEndian.Uint32(buf[8:12]),
		length:  binary.LittleEndian.Uint32(buf[12:16]),
		lwmScn:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		hwmScn:  int64(binary.LittleEndian.Uint64(buf[24:32])),
	}, nil
}

// AddressArray is the in-memory/on-disk address table plus its entry manager.
type AddressArray struct {
	path     string
	capacity uint32

	table []atomic.Uint64

	hwm atomic.Int64
	lwm atomic.Int64

	fileMu sync.Mutex
	file   *os.File

	entries *redo.Manager
	log     *zap.SugaredLogger
}

// Open recovers (or creates) the address array rooted at dataDir.
func Open(dataDir string, capacity uint32, batchSize, maxEntries int, allowWatermarkRewind bool, log *zap.SugaredLogger) (*AddressArray, error) {
	path := filepath.Join(dataDir, fileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, apperrors.ClassifyFileOpenError(err, path, fileName)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.ClassifyFileOpenError(err, path, fileName)
	}

	aa := &AddressArray{
		path:     path,
		capacity: capacity,
		table:    make([]atomic.Uint64, capacity),
		file:     f,
		log:      log,
	}

	var hdr fileHeader
	totalSize := int64(HeaderSize) + int64(capacity)*8

	if info.Size() == 0 {
		hdr = fileHeader{version: headerVersion, length: capacity}
		if err := f.Truncate(totalSize); err != nil {
			f.Close()
			return nil, apperrors.ClassifySyncError(err, fileName, path, 0)
		}
		if _, err := f.WriteAt(encodeHeader(hdr), 0); err != nil {
			f.Close()
			return nil, apperrors.ClassifySyncError(err, fileName, path, 0)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, apperrors.ClassifySyncError(err, fileName, path, 0)
		}
	} else {
		hdrBuf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(hdrBuf, 0); err != nil {
			f.Close()
			return nil, apperrors.ClassifyFileOpenError(err, path, fileName)
		}
		hdr, err = decodeHeader(hdrBuf)
		if err != nil {
			f.Close()
			return nil, err
		}
		if hdr.length != capacity {
			f.Close()
			return nil, apperrors.NewCapacityMismatchError(hdr.length, capacity)
		}

		body := make([]byte, capacity*8)
		if _, err := f.ReadAt(body, HeaderSize); err != nil {
			f.Close()
			return nil, apperrors.ClassifyFileOpenError(err, path, fileName)
		}
		for i := uint32(0); i < capacity; i++ {
			aa.table[i].Store(binary.BigEndian.Uint64(body[i*8 : i*8+8]))
		}
	}

	aa.lwm.Store(hdr.lwmScn)
	aa.hwm.Store(hdr.hwmScn)

	recovered, err := redo.Recover(dataDir, hdr.lwmScn, allowWatermarkRewind, log)
	if err != nil {
		f.Close()
		return nil, err
	}

	maxRecoveredSCN := hdr.hwmScn
	for _, rb := range recovered {
		for _, rec := range rb.Batch.Records {
			if rec.SCN > hdr.lwmScn {
				aa.table[rec.Index].Store(rec.NewAddress)
			}
			if rec.SCN > maxRecoveredSCN {
				maxRecoveredSCN = rec.SCN
			}
		}
	}
	aa.hwm.Store(maxRecoveredSCN)

	entries, err := redo.NewManager(dataDir, batchSize, maxEntries, aa, aa.onApplied, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	entries.AdoptSealed(recovered)
	aa.entries = entries

	return aa, nil
}

func (aa *AddressArray) onApplied(scn int64) {
	for {
		cur := aa.lwm.Load()
		if scn <= cur || aa.lwm.CompareAndSwap(cur, scn) {
			return
		}
	}
}

// Capacity returns the array's fixed length.
func (aa *AddressArray) Capacity() uint32 { return aa.capacity }

// HWMark returns the high water mark.
func (aa *AddressArray) HWMark() int64 { return aa.hwm.Load() }

// LWMark returns the low water mark.
func (aa *AddressArray) LWMark() int64 { return aa.lwm.Load() }

// Get performs a lock-free read of the address stored at i.
func (aa *AddressArray) Get(i uint32) (uint64, error) {
	if i >= aa.capacity {
		return 0, apperrors.NewIndexOutOfRangeError(i, aa.capacity)
	}
	return aa.table[i].Load(), nil
}

// Set stores a new address at i under the given scn, appending a normal
// redo record. Single-writer contract.
func (aa *AddressArray) Set(i uint32, newAddress uint64, scn int64) error {
	if i >= aa.capacity {
		return apperrors.NewIndexOutOfRangeError(i, aa.capacity)
	}
	old := aa.table[i].Load()
	aa.table[i].Store(newAddress)
	aa.advanceHWM(scn)
	return aa.entries.Append(redo.KindNormal, redo.Record{Index: i, NewAddress: newAddress, OldAddress: old, SCN: scn})
}

// SetCompactionAddress stores a new address at i as a consequence of
// segment compaction, appending a compaction-flavoured redo record.
func (aa *AddressArray) SetCompactionAddress(i uint32, newAddress uint64, scn int64) error {
	if i >= aa.capacity {
		return apperrors.NewIndexOutOfRangeError(i, aa.capacity)
	}
	aa.table[i].Store(newAddress)
	aa.advanceHWM(scn)
	return aa.entries.Append(redo.KindCompaction, redo.Record{Index: i, NewAddress: newAddress, SCN: scn})
}

func (aa *AddressArray) advanceHWM(scn int64) {
	for {
		cur := aa.hwm.Load()
		if scn <= cur || aa.hwm.CompareAndSwap(cur, scn) {
			return
		}
	}
}

// Sync flushes every pending redo batch into indexes.dat and advances LWM to HWM.
func (aa *AddressArray) Sync() error {
	return aa.entries.Sync()
}

// SaveHWMark either advances HWM with a durability no-op (scn > HWM), or —
// only when allowWatermarkRewind was set at Open — retreats both
// watermarks to scn (scn < LWM), a testing/rollback hook.
func (aa *AddressArray) SaveHWMark(scn int64, allowWatermarkRewind bool) error {
	hwm := aa.hwm.Load()
	lwm := aa.lwm.Load()

	if scn > hwm {
		old := aa.table[0].Load()
		aa.advanceHWM(scn)
		return aa.entries.Append(redo.KindNormal, redo.Record{Index: 0, NewAddress: old, OldAddress: old, SCN: scn})
	}

	if scn > 0 && scn < lwm {
		if !allowWatermarkRewind {
			return apperrors.NewValidationError(nil, apperrors.ErrorCodeInvalidInput, "watermark rewind requires AllowWatermarkRewind").
				WithField("scn")
		}
		if err := aa.Sync(); err != nil {
			return err
		}
		aa.hwm.Store(scn)
		aa.lwm.Store(scn)
		return aa.ForceWithWatermark(scn)
	}

	return nil
}

// Clear zeros the in-memory array, discards the entry manager's state, and
// rewrites indexes.dat from scratch.
func (aa *AddressArray) Clear() error {
	for i := range aa.table {
		aa.table[i].Store(0)
	}
	aa.hwm.Store(0)
	aa.lwm.Store(0)

	if err := aa.entries.Clear(); err != nil {
		return err
	}

	aa.fileMu.Lock()
	defer aa.fileMu.Unlock()

	zeros := make([]byte, aa.capacity*8)
	if _, err := aa.file.WriteAt(zeros, HeaderSize); err != nil {
		return apperrors.ClassifySyncError(err, fileName, aa.path, HeaderSize)
	}
	hdr := fileHeader{version: headerVersion, length: aa.capacity}
	if _, err := aa.file.WriteAt(encodeHeader(hdr), 0); err != nil {
		return apperrors.ClassifySyncError(err, fileName, aa.path, 0)
	}
	return aa.file.Sync()
}

// Close releases the underlying indexes.dat file handle.
func (aa *AddressArray) Close() error {
	return aa.file.Close()
}

// ApplyAddress implements redo.IndexApplier: it writes newAddress directly
// into indexes.dat at the slot for index, independent of the live
// in-memory table (which Set/SetCompactionAddress already updated). This
// keeps the durable catch-up path from ever regressing a slot the writer
// has since moved past with a newer SCN.
func (aa *AddressArray) ApplyAddress(index uint32, newAddress uint64) error {
	aa.fileMu.Lock()
	defer aa.fileMu.Unlock()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], newAddress)
	if _, err := aa.file.WriteAt(buf[:], HeaderSize+int64(index)*8); err != nil {
		return apperrors.ClassifySyncError(err, fileName, aa.path, int64(index)*8)
	}
	return nil
}

// ForceWithWatermark implements redo.IndexApplier: it fsyncs indexes.dat
// after stamping its header with the new low water mark.
func (aa *AddressArray) ForceWithWatermark(lwmScn int64) error {
	aa.fileMu.Lock()
	defer aa.fileMu.Unlock()

	hdr := fileHeader{version: headerVersion, length: aa.capacity, lwmScn: lwmScn, hwmScn: aa.hwm.Load()}
	if _, err := aa.file.WriteAt(encodeHeader(hdr), 0); err != nil {
		return apperrors.ClassifySyncError(err, fileName, aa.path, 0)
	}
	return aa.file.Sync()
}
