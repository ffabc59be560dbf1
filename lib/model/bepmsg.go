package model

import "github.com/syncspirit/syncspirit/lib/protocol"

// The following are plain decoded-message DTOs: by the time a message
// reaches the model package, BEP framing, compression and encryption
// have already been peeled off by the (out-of-scope) transport layer.
// They intentionally do not round-trip through XDR/protobuf themselves.

// FileInfoMsg is one file entry as carried by an Index or IndexUpdate
// message.
type FileInfoMsg struct {
	Name          string
	Type          FileFlags
	Size          int64
	Permissions   uint32
	ModifiedS     int64
	ModifiedNS    int32
	ModifiedBy    protocol.ShortID
	Deleted       bool
	Invalid       bool
	NoPermissions bool
	SymlinkTarget string
	BlockSize     int32
	Sequence      int64
	Blocks        []BlockInfoMsg
	Version       Version
}

// BlockInfoMsg is one block descriptor within a FileInfoMsg.
type BlockInfoMsg struct {
	Offset int64
	Size   int32
	Hash   BlockHash
}

// DeviceMsg is one device entry within a FolderMsg, as carried by a
// ClusterConfig message.
type DeviceMsg struct {
	ID          protocol.DeviceID
	Name        string
	Introducer  bool
	IndexID     uint64
	MaxSequence int64
}

// FolderMsg is one folder entry within a ClusterConfig message.
type FolderMsg struct {
	ID       string
	Label    string
	ReadOnly bool
	Paused   bool
	Devices  []DeviceMsg
}

// ClusterConfigMsg mirrors the decoded ClusterConfig protocol message.
type ClusterConfigMsg struct {
	Folders []FolderMsg
}

// IndexMsg mirrors the decoded Index protocol message: a full
// replacement of one folder's file list as seen by the sending device.
type IndexMsg struct {
	Folder string
	Files  []FileInfoMsg
}

// IndexUpdateMsg mirrors the decoded IndexUpdate protocol message: an
// incremental amendment to a previously received Index.
type IndexUpdateMsg struct {
	Folder string
	Files  []FileInfoMsg
}
