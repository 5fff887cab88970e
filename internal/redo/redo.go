// Package redo implements Krati's write-ahead entry log: bounded batches of
// address-array mutations, persisted to uniquely-named files and replayed
// during recovery. Entries come in two flavours — normal (set/delete) and
// compaction (segment-copy address rewrite) — distinguished by a kind byte
// in the file header and file name.
package redo

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/krati-db/krati/pkg/errors"
)

// Kind distinguishes a normal redo batch (records old+new address, for
// compaction-reversal checks) from a compaction batch (records new address
// only; the old address is implicit — it's always the segment being drained).
type Kind uint8

const (
	KindNormal     Kind = 0
	KindCompaction Kind = 1
)

func (k Kind) String() string {
	if k == KindCompaction {
		return "compaction"
	}
	return "normal"
}

func parseKind(s string) (Kind, bool) {
	switch s {
	case "normal":
		return KindNormal, true
	case "compaction":
		return KindCompaction, true
	}
	return 0, false
}

// Record is one address-array mutation within a batch.
type Record struct {
	Index      uint32
	NewAddress uint64
	OldAddress uint64 // unused (zero) for KindCompaction
	SCN        int64
}

const (
	normalRecordSize     = 4 + 8 + 8 + 8 // index, newAddress, oldAddress, scn
	compactionRecordSize = 4 + 8 + 8     // index, newAddress, scn
)

func recordSize(k Kind) int {
	if k == KindCompaction {
		return compactionRecordSize
	}
	return normalRecordSize
}

// Batch is an ordered, SCN-stamped set of Records sharing one Kind.
type Batch struct {
	Kind    Kind
	Records []Record
	MinSCN  int64
	MaxSCN  int64
}

var redoMagic = [8]byte{'K', 'R', 'A', 'T', 'I', 'L', 'O', 'G'}

const formatVersion uint16 = 1

// headerSize is magic(8) + formatVersion(2) + kind(1) + count(4) + minScn(8) + maxScn(8).
const headerSize = 8 + 2 + 1 + 4 + 8 + 8

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes a batch to its on-disk byte representation, including
// the CRC32 trailer over the body.
func Encode(b Batch) []byte {
	recSize := recordSize(b.Kind)
	body := make([]byte, len(b.Records)*recSize)

	for i, rec := range b.Records {
		off := i * recSize
		binary.BigEndian.PutUint32(body[off:], rec.Index)
		binary.BigEndian.PutUint64(body[off+4:], rec.NewAddress)
		if b.Kind == KindCompaction {
			binary.BigEndian.PutUint64(body[off+12:], uint64(rec.SCN))
		} else {
			binary.BigEndian.PutUint64(body[off+12:], rec.OldAddress)
			binary.BigEndian.PutUint64(body[off+20:], uint64(rec.SCN))
		}
	}

	out := make([]byte, headerSize+len(body)+4)
	copy(out[0:8], redoMagic[:])
	binary.BigEndian.PutUint16(out[8:10], formatVersion)
	out[10] = byte(b.Kind)
	binary.BigEndian.PutUint32(out[11:15], uint32(len(b.Records)))
	binary.BigEndian.PutUint64(out[15:23], uint64(b.MinSCN))
	binary.BigEndian.PutUint64(out[23:31], uint64(b.MaxSCN))
	copy(out[headerSize:], body)

	crc := crc32.Checksum(body, crcTable)
	binary.BigEndian.PutUint32(out[headerSize+len(body):], crc)
	return out
}

// Decode parses and validates a redo batch file's raw bytes. fileName is
// used only to annotate errors.
func Decode(fileName string, raw []byte) (Batch, error) {
	if len(raw) < headerSize+4 {
		return Batch{}, apperrors.NewRedoError(nil, apperrors.ErrorCodeRedoCorrupted, "redo file shorter than header+trailer").
			WithFileName(fileName)
	}
	if string(raw[0:8]) != string(redoMagic[:]) {
		return Batch{}, apperrors.NewRedoError(nil, apperrors.ErrorCodeRedoCorrupted, "redo file magic mismatch").
			WithFileName(fileName)
	}
	version := binary.BigEndian.Uint16(raw[8:10])
	if version != formatVersion {
		return Batch{}, apperrors.NewRedoError(nil, apperrors.ErrorCodeRedoCorrupted, "redo file format version mismatch").
			WithFileName(fileName).WithDetail("want", formatVersion).WithDetail("got", version)
	}

	kind := Kind(raw[10])
	count := binary.BigEndian.Uint32(raw[11:15])
	minScn := int64(binary.BigEndian.Uint64(raw[15:23]))
	maxScn := int64(binary.BigEndian.Uint64(raw[23:31]))

	recSize := recordSize(kind)
	bodyLen := int(count) * recSize
	if len(raw) != headerSize+bodyLen+4 {
		return Batch{}, apperrors.NewRedoError(nil, apperrors.ErrorCodeRedoCorrupted, "redo file length disagrees with header count").
			WithFileName(fileName)
	}

	body := raw[headerSize : headerSize+bodyLen]
	wantCRC := binary.BigEndian.Uint32(raw[headerSize+bodyLen:])
	gotCRC := crc32.Checksum(body, crcTable)
	if wantCRC != gotCRC {
		return Batch{}, apperrors.NewCrcMismatchError(fileName, wantCRC, gotCRC)
	}

	records := make([]Record, count)
	prevSCN := int64(0)
	for i := 0; i < int(count); i++ {
		off := i * recSize
		rec := Record{
			Index:      binary.BigEndian.Uint32(body[off:]),
			NewAddress: binary.BigEndian.Uint64(body[off+4:]),
		}
		if kind == KindCompaction {
			rec.SCN = int64(binary.BigEndian.Uint64(body[off+12:]))
		} else {
			rec.OldAddress = binary.BigEndian.Uint64(body[off+12:])
			rec.SCN = int64(binary.BigEndian.Uint64(body[off+20:]))
		}
		if i > 0 && rec.SCN < prevSCN {
			return Batch{}, apperrors.NewNonMonotonicScnError(fileName, prevSCN, rec.SCN)
		}
		prevSCN = rec.SCN
		records[i] = rec
	}

	return Batch{Kind: kind, Records: records, MinSCN: minScn, MaxSCN: maxScn}, nil
}

// FileName returns the canonical on-disk name for a batch:
// entry_<minScn>_<maxScn>_<kind>.redo.
func FileName(b Batch) string {
	return fmt.Sprintf("entry_%d_%d_%s.redo", b.MinSCN, b.MaxSCN, b.Kind)
}

// ParseFileName extracts the minScn/maxScn/kind encoded in a redo file name.
func ParseFileName(name string) (minScn, maxScn int64, kind Kind, ok bool) {
	if !strings.HasSuffix(name, ".redo") || !strings.HasPrefix(name, "entry_") {
		return 0, 0, 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "entry_"), ".redo")
	parts := strings.Split(trimmed, "_")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	min, err1 := strconv.ParseInt(parts[0], 10, 64)
	max, err2 := strconv.ParseInt(parts[1], 10, 64)
	k, ok3 := parseKind(parts[2])
	if err1 != nil || err2 != nil || !ok3 {
		return 0, 0, 0, false
	}
	return min, max, k, true
}

// WriteBatchFile encodes and durably writes a batch to dir, returning the
// file's full path. The write goes to a temp file and is renamed into place
// so a crash mid-write never leaves a half-written file under the real name.
func WriteBatchFile(dir string, b Batch) (string, error) {
	finalPath := filepath.Join(dir, FileName(b))
	tmpPath := finalPath + ".tmp"

	data := Encode(b)
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", apperrors.ClassifyFileOpenError(err, tmpPath, filepath.Base(tmpPath))
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", apperrors.ClassifySyncError(err, filepath.Base(tmpPath), tmpPath, 0)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", apperrors.ClassifySyncError(err, filepath.Base(tmpPath), tmpPath, 0)
	}
	if err := f.Close(); err != nil {
		return "", apperrors.ClassifySyncError(err, filepath.Base(tmpPath), tmpPath, 0)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", apperrors.ClassifySyncError(err, filepath.Base(finalPath), finalPath, 0)
	}
	return finalPath, nil
}

// ReadBatchFile reads and decodes a batch file from disk.
func ReadBatchFile(path string) (Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, apperrors.ClassifyFileOpenError(err, path, filepath.Base(path))
	}
	return Decode(filepath.Base(path), raw)
}
