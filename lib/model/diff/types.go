package diff

import "github.com/syncspirit/syncspirit/lib/protocol"

// Every concrete diff carries plain data (ids, names, byte hashes)
// rather than live pointers into the cluster graph, so a diff can be
// constructed, logged, persisted and shipped to the updates streamer
// without holding the cluster lock.

// CreateFolder introduces a brand-new folder to the cluster. It always
// carries an UpsertFolderInfo child for the local device's own replica.
type CreateFolder struct {
	base
	UUID     string
	ID       string
	Label    string
	ReadOnly bool
}

// UpsertFolderInfo creates or re-indexes one device's replica of a
// folder. MaxSequence only ever raises the replica's high-water mark;
// it never lowers it below what local bookkeeping already knows.
type UpsertFolderInfo struct {
	base
	UUID        string
	Device      protocol.DeviceID
	FolderID    string
	Index       uint64
	MaxSequence int64
}

// PendingFolderDevice is one device entry of a RegisterPendingFolder
// offer, mirroring what that device's ClusterConfig claimed about its
// own replica.
type PendingFolderDevice struct {
	ID          protocol.DeviceID
	IndexID     uint64
	MaxSequence int64
}

// RegisterPendingFolder records a folder offered by a remote device that
// the local cluster does not yet know about, surfacing it to the
// operator (outside the excluded config/GUI layer) rather than creating
// it outright.
type RegisterPendingFolder struct {
	base
	ID       string
	Label    string
	ReadOnly bool
	Paused   bool
	Devices  []PendingFolderDevice
}

// UpsertRemoteView records what peer's ClusterConfig reported knowing
// about one (folder, device) replica -- its index generation and
// high-water sequence -- independent of whether the local cluster
// shares that folder with device directly.
type UpsertRemoteView struct {
	base
	Peer        protocol.DeviceID
	FolderID    string
	Device      protocol.DeviceID
	Index       uint64
	MaxSequence int64
}

// ShareFolder marks a folder as shared with a remote device, creating
// that device's (initially empty) replica.
type ShareFolder struct {
	base
	FolderID string
	Device   protocol.DeviceID
}

// NewFile inserts a file neither previously known at this replica. When
// IncSequence is set, the folder's sequence counter advances and the
// file is stamped with the new value (the local-scan creation path);
// otherwise the file already carries a sequence assigned by its origin
// device.
type NewFile struct {
	base
	FolderID    string
	Device      protocol.DeviceID
	FileUUID    string
	Name        string
	IncSequence bool
	BlockHashes [][32]byte
	BlockSizes  []int32
}

// LocalUpdate records a local filesystem change (new content, deletion,
// metadata-only change) to a file the local replica already has,
// producing a fresh Version counter for the local device.
type LocalUpdate struct {
	base
	FolderID string
	FileUUID string
	Deleted  bool
	Size     int64
}

// AdvanceAction is the resolver's decision for one (source replica,
// local replica) pair of the same file.
type AdvanceAction int

const (
	// AdvanceIgnore: local is already caught up or ahead; no action.
	AdvanceIgnore AdvanceAction = iota
	// AdvanceRemoteCopy: adopt source's metadata/blocks as-is, keeping
	// whatever local content already matches by hash.
	AdvanceRemoteCopy
	// AdvanceLocalUpdate: source's blocks are concurrently edited with
	// the local copy but the local copy wins the tie-break; re-announce
	// the local version.
	AdvanceLocalUpdate
	// AdvanceResolveRemoteWin: a genuine conflict; source wins the
	// tie-break, and the local copy is renamed to a conflict name before
	// source's metadata is adopted.
	AdvanceResolveRemoteWin
)

// Advance is the resolver's verdict applied to the cluster: either a
// no-op, an adoption of remote state, a re-announcement of local state,
// or a conflict resolution that first renames the losing local file.
type Advance struct {
	base
	FolderID          string
	SourceDevice      protocol.DeviceID
	FileUUID          string
	Action            AdvanceAction
	ConflictingName   string // set only for AdvanceResolveRemoteWin
	DisableBlockClean bool
}

// AppendBlock records that one block of a file, identified by index, is
// now known to have hash/size (learned from a remote Index/IndexUpdate
// message, before the block's bytes have been transferred).
type AppendBlock struct {
	base
	FolderID string
	FileUUID string
	Index    uint32
	Hash     [32]byte
	Size     int32
}

// CloneBlock records that a block's bytes were found to already be
// available locally (e.g. shared with another file) and so require no
// network transfer.
type CloneBlock struct {
	base
	FolderID string
	FileUUID string
	Index    uint32
}

// BlockAck records that a requested block's bytes arrived and were
// written to the local replica's partial file.
type BlockAck struct {
	base
	FolderID string
	FileUUID string
	Index    uint32
}

// BlockReject records that a requested block could not be fetched from
// any peer and the pull attempt must be retried or abandoned.
type BlockReject struct {
	base
	FolderID string
	FileUUID string
	Index    uint32
}

// FlushFile marks a file's pull complete: every block has arrived, and
// the partial file is ready to be promoted to its final path.
type FlushFile struct {
	base
	FolderID string
	FileUUID string
}

// CloseTransaction is a no-op marker diff used to batch a run of
// mutations for a single persistence commit.
type CloseTransaction struct {
	base
}
