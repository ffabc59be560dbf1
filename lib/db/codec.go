package db

import (
	"bytes"
	"io"

	"github.com/calmh/xdr"
	"github.com/syncspirit/syncspirit/lib/model"
)

// fileRecord is the on-disk shape of one FileInfo: everything needed to
// reconstruct it without the live Path/BlockStore interning those fields
// normally borrow from the cluster it belongs to.
type fileRecord struct {
	UUID          string
	FolderUUID    string
	Name          string
	Flags         uint16
	Permissions   uint32
	ModifiedS     int64
	ModifiedNS    int32
	ModifiedBy    uint64
	Size          int64
	BlockSize     int32
	SymlinkTarget string
	Sequence      int64
	Counters      []counterRecord
	Blocks        []blockSlotRecord
}

type counterRecord struct {
	ID    uint64
	Value uint64
}

type blockSlotRecord struct {
	Hash      [32]byte
	Available bool
}

// EncodeXDR writes r's XDR encoding to w, returning the byte count.
func (r *fileRecord) EncodeXDR(w io.Writer) (int, error) {
	xw := xdr.NewWriter(w)
	return r.encodeXDR(xw)
}

// MarshalXDR returns r's XDR encoding.
func (r *fileRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.EncodeXDR(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *fileRecord) encodeXDR(xw *xdr.Writer) (int, error) {
	xw.WriteString(r.UUID)
	xw.WriteString(r.FolderUUID)
	xw.WriteString(r.Name)
	xw.WriteUint32(uint32(r.Flags))
	xw.WriteUint32(r.Permissions)
	xw.WriteUint64(uint64(r.ModifiedS))
	xw.WriteUint32(uint32(r.ModifiedNS))
	xw.WriteUint64(r.ModifiedBy)
	xw.WriteUint64(uint64(r.Size))
	xw.WriteUint32(uint32(r.BlockSize))
	xw.WriteString(r.SymlinkTarget)
	xw.WriteUint64(uint64(r.Sequence))

	xw.WriteUint32(uint32(len(r.Counters)))
	for _, c := range r.Counters {
		xw.WriteUint64(c.ID)
		xw.WriteUint64(c.Value)
	}

	xw.WriteUint32(uint32(len(r.Blocks)))
	for _, b := range r.Blocks {
		xw.WriteBytes(b.Hash[:])
		if b.Available {
			xw.WriteUint32(1)
		} else {
			xw.WriteUint32(0)
		}
	}
	return xw.Tot(), xw.Error()
}

// DecodeXDR reads r's fields from r's XDR encoding on rd.
func (r *fileRecord) DecodeXDR(rd io.Reader) error {
	xr := xdr.NewReader(rd)
	return r.decodeXDR(xr)
}

// UnmarshalXDR decodes bs into r.
func (r *fileRecord) UnmarshalXDR(bs []byte) error {
	return r.DecodeXDR(bytes.NewReader(bs))
}

func (r *fileRecord) decodeXDR(xr *xdr.Reader) error {
	r.UUID = xr.ReadString()
	r.FolderUUID = xr.ReadString()
	r.Name = xr.ReadString()
	r.Flags = uint16(xr.ReadUint32())
	r.Permissions = xr.ReadUint32()
	r.ModifiedS = int64(xr.ReadUint64())
	r.ModifiedNS = int32(xr.ReadUint32())
	r.ModifiedBy = xr.ReadUint64()
	r.Size = int64(xr.ReadUint64())
	r.BlockSize = int32(xr.ReadUint32())
	r.SymlinkTarget = xr.ReadString()
	r.Sequence = int64(xr.ReadUint64())

	n := xr.ReadUint32()
	r.Counters = make([]counterRecord, n)
	for i := range r.Counters {
		r.Counters[i] = counterRecord{ID: xr.ReadUint64(), Value: xr.ReadUint64()}
	}

	n = xr.ReadUint32()
	r.Blocks = make([]blockSlotRecord, n)
	for i := range r.Blocks {
		copy(r.Blocks[i].Hash[:], xr.ReadBytes())
		r.Blocks[i].Available = xr.ReadUint32() != 0
	}
	return xr.Error()
}

// toFileRecord flattens a live FileInfo into its persisted form. The
// Name field stores the path's string form; rehydration re-interns it
// through the destination cluster's PathCache.
func toFileRecord(f *model.FileInfo, flags uint16) *fileRecord {
	r := &fileRecord{
		UUID:          f.UUID,
		FolderUUID:    f.FolderUUID,
		Flags:         flags,
		Permissions:   f.Permissions,
		ModifiedS:     f.ModifiedS,
		ModifiedNS:    f.ModifiedNS,
		ModifiedBy:    uint64(f.ModifiedBy),
		Size:          f.Size,
		BlockSize:     f.BlockSize,
		SymlinkTarget: f.SymlinkTarget,
		Sequence:      f.Sequence,
	}
	if f.Name != nil {
		r.Name = f.Name.String()
	}
	for _, c := range f.Version.Counters() {
		r.Counters = append(r.Counters, counterRecord{ID: uint64(c.ID), Value: c.Value})
	}
	for _, b := range f.Blocks {
		r.Blocks = append(r.Blocks, blockSlotRecord{Hash: [32]byte(b.Hash), Available: b.Available})
	}
	return r
}

// folderRecord is the on-disk shape of a Folder's cluster-wide metadata.
type folderRecord struct {
	UUID               string
	ID                 string
	Label              string
	Path               string
	Type               int32
	PullOrder          int32
	RescanIntervalS    uint32
	Paused             bool
	ReadOnly           bool
	IgnorePermissions  bool
	IgnoreDelete       bool
	DisableTempIndexes bool
}

func (r *folderRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteString(r.UUID)
	xw.WriteString(r.ID)
	xw.WriteString(r.Label)
	xw.WriteString(r.Path)
	xw.WriteUint32(uint32(r.Type))
	xw.WriteUint32(uint32(r.PullOrder))
	xw.WriteUint32(r.RescanIntervalS)
	xw.WriteBytes(boolBytes(r.Paused, r.ReadOnly, r.IgnorePermissions, r.IgnoreDelete, r.DisableTempIndexes))
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *folderRecord) UnmarshalXDR(bs []byte) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	r.UUID = xr.ReadString()
	r.ID = xr.ReadString()
	r.Label = xr.ReadString()
	r.Path = xr.ReadString()
	r.Type = int32(xr.ReadUint32())
	r.PullOrder = int32(xr.ReadUint32())
	r.RescanIntervalS = xr.ReadUint32()
	flags := xr.ReadBytes()
	if len(flags) >= 5 {
		r.Paused = flags[0] != 0
		r.ReadOnly = flags[1] != 0
		r.IgnorePermissions = flags[2] != 0
		r.IgnoreDelete = flags[3] != 0
		r.DisableTempIndexes = flags[4] != 0
	}
	return xr.Error()
}

// DeviceRecord is the on-disk shape of a known device (local or remote):
// everything ClusterConfig needs to re-announce it after a restart.
type DeviceRecord struct {
	Name       string
	Introducer bool
}

func (r *DeviceRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteString(r.Name)
	xw.WriteBytes(boolBytes(r.Introducer))
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *DeviceRecord) UnmarshalXDR(bs []byte) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	r.Name = xr.ReadString()
	if flags := xr.ReadBytes(); len(flags) >= 1 {
		r.Introducer = flags[0] != 0
	}
	return xr.Error()
}

// folderInfoRecord is the on-disk shape of one device's replica
// bookkeeping for a folder: just enough to re-derive NeedsIndexInitiation
// and FileIterator's seen-sequence state without replaying every file.
type folderInfoRecord struct {
	Index       uint64
	MaxSequence int64
}

func (r *folderInfoRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteUint64(r.Index)
	xw.WriteUint64(uint64(r.MaxSequence))
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *folderInfoRecord) UnmarshalXDR(bs []byte) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	r.Index = xr.ReadUint64()
	r.MaxSequence = int64(xr.ReadUint64())
	return xr.Error()
}

// blockInfoRecord is the on-disk shape of one content-addressed block:
// the hash lives in the key, so only its size needs persisting.
type blockInfoRecord struct {
	Size int32
}

func (r *blockInfoRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteUint32(uint32(r.Size))
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *blockInfoRecord) UnmarshalXDR(bs []byte) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	r.Size = int32(xr.ReadUint32())
	return xr.Error()
}

// PendingFolderRecord is the on-disk shape of one device's unaccepted
// folder offer: a folder id named in that device's ClusterConfig that
// the local cluster has not joined.
type PendingFolderRecord struct {
	Label       string
	ReadOnly    bool
	Paused      bool
	IndexID     uint64
	MaxSequence int64
}

func (r *PendingFolderRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteString(r.Label)
	xw.WriteBytes(boolBytes(r.ReadOnly, r.Paused))
	xw.WriteUint64(r.IndexID)
	xw.WriteUint64(uint64(r.MaxSequence))
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *PendingFolderRecord) UnmarshalXDR(bs []byte) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	r.Label = xr.ReadString()
	if flags := xr.ReadBytes(); len(flags) >= 2 {
		r.ReadOnly = flags[0] != 0
		r.Paused = flags[1] != 0
	}
	r.IndexID = xr.ReadUint64()
	r.MaxSequence = int64(xr.ReadUint64())
	return xr.Error()
}

// unknownDeviceRecord is the on-disk shape of a device seen connecting
// (e.g. in a ClusterConfig's device list, or an inbound connection
// attempt) that is not yet configured as known or ignored.
type unknownDeviceRecord struct {
	Name string
}

func (r *unknownDeviceRecord) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteString(r.Name)
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *unknownDeviceRecord) UnmarshalXDR(bs []byte) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	r.Name = xr.ReadString()
	return xr.Error()
}

func boolBytes(bs ...bool) []byte {
	out := make([]byte, len(bs))
	for i, b := range bs {
		if b {
			out[i] = 1
		}
	}
	return out
}
