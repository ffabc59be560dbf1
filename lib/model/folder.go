package model

import (
	"fmt"
	"time"

	"github.com/syncspirit/syncspirit/lib/protocol"
)

// FolderType distinguishes how a folder participates in synchronization.
type FolderType int

const (
	FolderSendReceive FolderType = iota
	FolderSendOnly
	FolderReceiveOnly
)

// PullOrder selects the comparator FileIterator uses to rank pending
// pulls (see C9).
type PullOrder int

const (
	PullOrderRandom PullOrder = iota
	PullOrderAlphabetic
	PullOrderSmallestFirst
	PullOrderLargestFirst
	PullOrderOldestFirst
	PullOrderNewestFirst
)

// Folder is the cluster-wide, device-independent description of a shared
// directory: its label, type, and the per-device replicas (FolderInfo)
// that share it.
type Folder struct {
	UUID  string
	ID    string
	Label string
	Path  string

	Type               FolderType
	PullOrder          PullOrder
	RescanIntervalS    uint32
	Paused             bool
	Scheduled          bool
	ReadOnly           bool
	IgnorePermissions  bool
	IgnoreDelete       bool
	DisableTempIndexes bool

	FolderInfos map[protocol.DeviceID]*FolderInfo

	cluster *Cluster

	scanStart, scanFinish time.Time
	synchronizing         int32
	suspended             bool
}

// NewFolder constructs an empty folder shell; the caller populates the
// data fields and calls Add for each device replica.
func NewFolder(uuid, id, label string) *Folder {
	return &Folder{
		UUID:        uuid,
		ID:          id,
		Label:       label,
		FolderInfos: make(map[protocol.DeviceID]*FolderInfo),
	}
}

func (f *Folder) AssignCluster(c *Cluster) { f.cluster = c }

// Add registers a per-device replica under this folder.
func (f *Folder) Add(fi *FolderInfo) {
	f.FolderInfos[fi.Device] = fi
	fi.Folder = f
}

// IsSharedWith reports whether device holds a replica of this folder,
// returning that replica if so.
func (f *Folder) IsSharedWith(device protocol.DeviceID) (*FolderInfo, bool) {
	fi, ok := f.FolderInfos[device]
	return fi, ok
}

func (f *Folder) SetScanStart(t time.Time)  { f.scanStart = t }
func (f *Folder) SetScanFinish(t time.Time) { f.scanFinish = t }

// IsScanning reports whether a scan has started and either never finished
// or the most recent start is more recent than the most recent finish.
func (f *Folder) IsScanning() bool {
	if f.scanStart.IsZero() {
		return false
	}
	if f.scanFinish.IsZero() {
		return true
	}
	return f.scanStart.After(f.scanFinish)
}

func (f *Folder) IsSynchronizing() bool { return f.synchronizing > 0 }

// AdjustSynchronization applies delta to the in-flight synchronization
// counter; it must never go negative.
func (f *Folder) AdjustSynchronization(delta int32) {
	f.synchronizing += delta
	if f.synchronizing < 0 {
		panic("model: folder synchronization counter went negative")
	}
}

func (f *Folder) MarkSuspended(v bool) { f.suspended = v }
func (f *Folder) IsSuspended() bool    { return f.suspended }

// FolderInfo is one device's replica of a Folder: its index generation,
// high-water sequence number, and the FileInfo set at that replica.
type FolderInfo struct {
	UUID   string
	Device protocol.DeviceID
	Folder *Folder

	Index       uint64
	MaxSequence int64

	FileInfos map[string]*FileInfo // keyed by FileInfo.UUID
}

// NewFolderInfo constructs an empty per-device replica.
func NewFolderInfo(uuid string, device protocol.DeviceID, folder *Folder) *FolderInfo {
	return &FolderInfo{
		UUID:      uuid,
		Device:    device,
		Folder:    folder,
		FileInfos: make(map[string]*FileInfo),
	}
}

// Add inserts file into this replica. When incMaxSequence is true,
// MaxSequence advances to file's sequence if higher; otherwise the
// caller asserts file's sequence does not exceed the current high-water
// mark (a caller-side invariant violation panics, matching the original
// assert).
func (fi *FolderInfo) Add(file *FileInfo, incMaxSequence bool) {
	fi.FileInfos[file.UUID] = file
	if incMaxSequence {
		if file.Sequence > fi.MaxSequence {
			fi.MaxSequence = file.Sequence
		}
		return
	}
	if file.Sequence > fi.MaxSequence {
		panic(fmt.Sprintf("model: file sequence %d exceeds folder info max sequence %d", file.Sequence, fi.MaxSequence))
	}
}

// ByName returns the file with the given full path name within this
// replica, if any.
func (fi *FolderInfo) ByName(name string) (*FileInfo, bool) {
	for _, f := range fi.FileInfos {
		if f.Name.FullName() == name {
			return f, true
		}
	}
	return nil, false
}

// SetIndex replaces the replica's index generation. Per the protocol, a
// changed index invalidates every previously known file (the remote peer
// is restarting its view from scratch), so the file set is cleared.
func (fi *FolderInfo) SetIndex(value uint64) {
	if value != fi.Index {
		fi.Index = value
		fi.FileInfos = make(map[string]*FileInfo)
	}
}

// NeedsIndexInitiation reports whether this (local) replica must send a
// fresh Index message to remote, because the last one it sent there is
// stale or was never acknowledged with any sequence progress.
func (fi *FolderInfo) NeedsIndexInitiation(remote *FolderInfo) bool {
	return remote.Index != fi.Index || remote.MaxSequence == 0
}
