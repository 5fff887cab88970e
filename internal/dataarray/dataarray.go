// Package dataarray implements Krati's operational read/write surface: a
// logical index resolves through the address array to a (segment, offset,
// length) triple, and the segment manager supplies the actual bytes.
package dataarray

import (
	stdErrors "errors"
	"hash/adler32"
	"sync"

	"go.uber.org/zap"

	"github.com/krati-db/krati/internal/address"
	"github.com/krati-db/krati/internal/segment"
	apperrors "github.com/krati-db/krati/pkg/errors"
)

// Addresses is the narrow interface DataArray needs from the address array.
type Addresses interface {
	Get(i uint32) (uint64, error)
	Set(i uint32, newAddress uint64, scn int64) error
	SetCompactionAddress(i uint32, newAddress uint64, scn int64) error
	Sync() error
}

// Segments is the narrow interface DataArray needs from the segment manager.
type Segments interface {
	Current() segment.Segment
	Get(id uint16) (segment.Segment, bool)
	NextSegment() (segment.Segment, error)
}

// LiveTracker receives live-byte and live-index accounting updates as
// addresses are superseded or newly written, so the compactor can pick
// candidates and iterate their live records without an O(N) scan of the
// address array.
type LiveTracker interface {
	RecordWrite(segID uint16, index uint32, recordSize int64)
	RecordDeath(segID uint16, index uint32, recordSize int64)
}

// DataArray is the plain (non-checksummed) implementation of the data
// array contract.
type DataArray struct {
	addresses Addresses
	segments  Segments
	live      LiveTracker
	log       *zap.SugaredLogger

	mu sync.Mutex // serializes the rotate-and-retry append sequence
}

// New builds a DataArray over the given address array and segment manager.
func New(addresses Addresses, segments Segments, live LiveTracker, log *zap.SugaredLogger) *DataArray {
	return &DataArray{addresses: addresses, segments: segments, live: live, log: log}
}

// GetData resolves i's address and returns its payload, or nil if the
// address is zero ("no data").
func (d *DataArray) GetData(i uint32) ([]byte, error) {
	addr, err := d.addresses.Get(i)
	if err != nil {
		return nil, err
	}
	if addr == address.Zero {
		return nil, nil
	}
	a := address.Unpack(addr)

	seg, ok := d.segments.Get(a.SegmentID)
	if !ok {
		return nil, apperrors.NewStorageError(nil, apperrors.ErrorCodeSegmentCorrupted, "address refers to an unknown segment").
			WithSegmentID(a.SegmentID)
	}
	return seg.ReadAt(int64(a.Offset))
}

// GetInto resolves i's address and copies its payload into dst, returning
// the number of bytes copied.
func (d *DataArray) GetInto(i uint32, dst []byte) (int, error) {
	addr, err := d.addresses.Get(i)
	if err != nil {
		return 0, err
	}
	if addr == address.Zero {
		return 0, nil
	}
	a := address.Unpack(addr)

	seg, ok := d.segments.Get(a.SegmentID)
	if !ok {
		return 0, apperrors.NewStorageError(nil, apperrors.ErrorCodeSegmentCorrupted, "address refers to an unknown segment").
			WithSegmentID(a.SegmentID)
	}
	return seg.ReadInto(int64(a.Offset), dst)
}

// SetData appends payload to the current segment (rotating once on
// overflow), publishes the new address, and retires the old one's
// live-byte accounting.
func (d *DataArray) SetData(i uint32, payload []byte, scn int64) error {
	if len(payload) > address.MaxBlobLength {
		return apperrors.NewStorageError(nil, apperrors.ErrorCodeIO, "payload exceeds the address format's 16-bit length field").
			WithDetail("length", len(payload))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seg := d.segments.Current()
	offset, err := seg.Append(payload)
	if stdErrors.Is(err, segment.ErrOverflow) {
		seg, err = d.segments.NextSegment()
		if err != nil {
			return err
		}
		offset, err = seg.Append(payload)
		if err != nil {
			return apperrors.NewStorageError(err, apperrors.ErrorCodeIO, "payload too large for an empty segment").
				WithSegmentID(seg.ID())
		}
	} else if err != nil {
		return err
	}

	newAddr := address.Pack(seg.ID(), uint32(offset), uint16(len(payload)))
	recordSize := int64(4 + len(payload))

	oldAddr, err := d.addresses.Get(i)
	if err != nil {
		return err
	}
	if err := d.addresses.Set(i, newAddr, scn); err != nil {
		return err
	}

	if d.live != nil {
		d.live.RecordWrite(seg.ID(), i, recordSize)
		if oldAddr != address.Zero {
			old := address.Unpack(oldAddr)
			d.live.RecordDeath(old.SegmentID, i, int64(4+old.Length))
		}
	}
	return nil
}

// Delete marks i as holding no data, retiring the old address's live-byte accounting.
func (d *DataArray) Delete(i uint32, scn int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldAddr, err := d.addresses.Get(i)
	if err != nil {
		return err
	}
	if err := d.addresses.Set(i, address.Zero, scn); err != nil {
		return err
	}
	if d.live != nil && oldAddr != address.Zero {
		old := address.Unpack(oldAddr)
		d.live.RecordDeath(old.SegmentID, i, int64(4+old.Length))
	}
	return nil
}

// Sync forces the current segment, then syncs the address array (flushing
// redo batches and advancing LWM to HWM).
func (d *DataArray) Sync() error {
	if err := d.segments.Current().Force(); err != nil {
		return err
	}
	return d.addresses.Sync()
}

// Persist forces the current segment only, without advancing any watermark.
func (d *DataArray) Persist() error {
	return d.segments.Current().Force()
}

// SetCompactionAddress is used by the compactor to redirect i to a copied
// record in a target segment, via a compaction-flavoured redo entry.
func (d *DataArray) SetCompactionAddress(i uint32, newAddress uint64, scn int64) error {
	return d.addresses.SetCompactionAddress(i, newAddress, scn)
}

// CheckedDataArray wraps DataArray, appending/validating an Adler-32
// checksum on every payload.
type CheckedDataArray struct {
	*DataArray
}

// NewChecked builds a CheckedDataArray over the given collaborators.
func NewChecked(addresses Addresses, segments Segments, live LiveTracker, log *zap.SugaredLogger) *CheckedDataArray {
	return &CheckedDataArray{DataArray: New(addresses, segments, live, log)}
}

// GetData reads the record, validates its trailing Adler-32 checksum, and
// returns the payload with the checksum stripped.
func (c *CheckedDataArray) GetData(i uint32) ([]byte, error) {
	raw, err := c.DataArray.GetData(i)
	if err != nil || raw == nil {
		return raw, err
	}
	return stripChecksum(raw)
}

// GetInto reads and validates the record, copying only the payload (not
// the checksum trailer) into dst.
func (c *CheckedDataArray) GetInto(i uint32, dst []byte) (int, error) {
	addr, err := c.DataArray.addresses.Get(i)
	if err != nil {
		return 0, err
	}
	if addr == address.Zero {
		return 0, nil
	}
	a := address.Unpack(addr)
	seg, ok := c.DataArray.segments.Get(a.SegmentID)
	if !ok {
		return 0, apperrors.NewStorageError(nil, apperrors.ErrorCodeSegmentCorrupted, "address refers to an unknown segment").
			WithSegmentID(a.SegmentID)
	}
	raw, err := seg.ReadAt(int64(a.Offset))
	if err != nil {
		return 0, err
	}
	payload, err := stripChecksum(raw)
	if err != nil {
		return 0, err
	}
	return copy(dst, payload), nil
}

// SetData appends payload+checksum as a single record.
func (c *CheckedDataArray) SetData(i uint32, payload []byte, scn int64) error {
	return c.DataArray.SetData(i, appendChecksum(payload), scn)
}

func appendChecksum(payload []byte) []byte {
	sum := adler32.Checksum(payload)
	out := make([]byte, len(payload)+4)
	copy(out, payload)
	out[len(payload)] = byte(sum >> 24)
	out[len(payload)+1] = byte(sum >> 16)
	out[len(payload)+2] = byte(sum >> 8)
	out[len(payload)+3] = byte(sum)
	return out
}

func stripChecksum(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, apperrors.NewStorageError(nil, apperrors.ErrorCodeDataCorrupted, "checked record shorter than checksum trailer")
	}
	payload := raw[:len(raw)-4]
	want := uint32(raw[len(raw)-4])<<24 | uint32(raw[len(raw)-3])<<16 | uint32(raw[len(raw)-2])<<8 | uint32(raw[len(raw)-1])
	got := adler32.Checksum(payload)
	if want != got {
		return nil, apperrors.NewStorageError(nil, apperrors.ErrorCodeDataCorrupted, "adler32 checksum mismatch").
			WithDetail("want", want).WithDetail("got", got)
	}
	return payload, nil
}
