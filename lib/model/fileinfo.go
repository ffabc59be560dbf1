package model

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/syncspirit/syncspirit/lib/protocol"
)

// FileFlags packs the file's type and transient/local state, mirroring
// the original design's bitfield layout so persisted records stay
// byte-compatible across the Go port and any future reader of the
// original schema.
type FileFlags uint16

const (
	FlagTypeFile FileFlags = 1 << iota
	FlagTypeDir
	FlagTypeLink
	FlagDeleted
	FlagInvalid
	FlagNoPermissions
	FlagSynchronizing
	FlagUnreachable
	FlagUnlocking
	FlagLocal
)

const fileTypeMask = FlagTypeFile | FlagTypeDir | FlagTypeLink

// persistedFlagsMask covers the bits Update() copies from the remote
// record (0-5 in the original numbering); bits 6-9 (synchronizing,
// unreachable, unlocking, local) are locally owned and preserved.
const persistedFlagsMask = FlagTypeFile | FlagTypeDir | FlagTypeLink | FlagDeleted | FlagInvalid | FlagNoPermissions

// FileBlockSlot is one position in a FileInfo's block vector: a handle
// into the BlockStore plus a locally-owned availability bit. This is the
// plain-struct stand-in the design notes call for in place of pointer
// tagging.
type FileBlockSlot struct {
	Hash      BlockHash
	Available bool
}

// FileInfo holds one file's metadata within a FolderInfo (a per-device
// folder replica). It shares its Block handles (by hash, refcounted) with
// the cluster-wide BlockStore and holds a non-owning reference to its
// shared Path.
type FileInfo struct {
	UUID       string
	FolderUUID string // owning FolderInfo's UUID (weak reference)
	Name       *Path

	flags       FileFlags
	Permissions uint32
	ModifiedS   int64
	ModifiedNS  int32
	ModifiedBy  protocol.ShortID
	Size        int64
	BlockSize   int32

	SymlinkTarget string
	Version       Version
	Sequence      int64

	Blocks []FileBlockSlot
}

// NewFileInfo constructs a file within folderUUID at the shared path
// name, with version bumped for device (the "new UUID + protocol
// message" creation variant from the component design).
func NewFileInfo(uuid, folderUUID string, name *Path, typ FileFlags, device protocol.ShortID) *FileInfo {
	fi := &FileInfo{
		UUID:       uuid,
		FolderUUID: folderUUID,
		Name:       name,
		flags:      typ & fileTypeMask,
		ModifiedBy: device,
	}
	fi.Version.Update(device)
	return fi
}

func (f *FileInfo) IsFile() bool      { return f.flags&FlagTypeFile != 0 }
func (f *FileInfo) IsDir() bool       { return f.flags&FlagTypeDir != 0 }
func (f *FileInfo) IsLink() bool      { return f.flags&FlagTypeLink != 0 }
func (f *FileInfo) IsDeleted() bool   { return f.flags&FlagDeleted != 0 }
func (f *FileInfo) IsInvalid() bool   { return f.flags&FlagInvalid != 0 }
func (f *FileInfo) IsUnreachable() bool { return f.flags&FlagUnreachable != 0 }

// IsLocal reports whether this replica has been locally scanned at least
// once (f_local in the original), as distinct from is-locally-available.
func (f *FileInfo) IsLocal() bool         { return f.flags&FlagLocal != 0 }
func (f *FileInfo) IsSynchronizing() bool { return f.flags&FlagSynchronizing != 0 }
func (f *FileInfo) IsUnlocking() bool     { return f.flags&FlagUnlocking != 0 }

func (f *FileInfo) MarkUnreachable(v bool) {
	if v {
		f.flags |= FlagUnreachable
	} else {
		f.flags &^= FlagUnreachable
	}
}

func (f *FileInfo) MarkLocal(v bool) {
	if v {
		f.flags |= FlagLocal
	} else {
		f.flags &^= FlagLocal
	}
}

// AssignBlock places block at index, which must currently be empty. It
// bumps the block's refcount via Link and grows the slot vector as
// needed.
func (f *FileInfo) AssignBlock(store *BlockStore, block *Block, index int) error {
	for len(f.Blocks) <= index {
		f.Blocks = append(f.Blocks, FileBlockSlot{})
	}
	if f.Blocks[index] != (FileBlockSlot{}) {
		return fmt.Errorf("model: block slot %d of %s already assigned", index, f.UUID)
	}
	f.Blocks[index] = FileBlockSlot{Hash: block.Hash()}
	block.Link(f.UUID, index)
	return nil
}

// MarkLocalAvailable sets the availability bit for index and recomputes
// whether the whole file is now locally available.
func (f *FileInfo) MarkLocalAvailable(store *BlockStore, index int) {
	if index < 0 || index >= len(f.Blocks) {
		return
	}
	f.Blocks[index].Available = true
	if b := store.ByHash(f.Blocks[index].Hash); b != nil {
		b.MarkLocalAvailable(f.UUID)
	}
}

// RemoveBlocks detaches every block slot, unlinking from the store and
// releasing one refcount per removed back-reference; blocks that reach a
// zero refcount are deleted from the store.
func (f *FileInfo) RemoveBlocks(store *BlockStore) {
	for i := range f.Blocks {
		hash := f.Blocks[i].Hash
		if hash == (BlockHash{}) {
			continue
		}
		b := store.ByHash(hash)
		if b == nil {
			continue
		}
		b.Unlink(f.UUID)
		if b.UseCount() == 0 {
			store.Remove(b)
		}
	}
	f.Blocks = nil
}

// IsLocallyAvailable reports true iff the file is not a regular file
// (directories/symlinks carry no blocks), or every block slot is marked
// available, or the block list is empty (e.g. a deleted file).
func (f *FileInfo) IsLocallyAvailable() bool {
	if !f.IsFile() || len(f.Blocks) == 0 {
		return true
	}
	for _, s := range f.Blocks {
		if !s.Available {
			return false
		}
	}
	return true
}

// IsPartlyAvailable reports whether at least one block is locally
// available, without requiring completeness.
func (f *FileInfo) IsPartlyAvailable() bool {
	for _, s := range f.Blocks {
		if s.Available {
			return true
		}
	}
	return false
}

// Update replaces this file's metadata and block set from other, which
// must describe the same logical file (same UUID, same type). Blocks
// that were already locally available and whose hash also appears in
// other's block list are re-marked available on the new slots --
// preserving the property tested by invariant 7.
func (f *FileInfo) Update(store *BlockStore, other *FileInfo) error {
	if f.flags&fileTypeMask != other.flags&fileTypeMask {
		return fmt.Errorf("model: Update type mismatch for %s", f.UUID)
	}
	if f.Name != other.Name {
		return fmt.Errorf("model: Update path mismatch for %s", f.UUID)
	}

	preserved := make(map[BlockHash]struct{})
	for _, s := range f.Blocks {
		if s.Available {
			preserved[s.Hash] = struct{}{}
		}
	}

	f.RemoveBlocks(store)

	f.Permissions = other.Permissions
	f.ModifiedS = other.ModifiedS
	f.ModifiedNS = other.ModifiedNS
	f.ModifiedBy = other.ModifiedBy
	f.Size = other.Size
	f.BlockSize = other.BlockSize
	f.SymlinkTarget = other.SymlinkTarget
	f.Version = other.Version
	f.Sequence = other.Sequence
	f.flags = (f.flags &^ persistedFlagsMask) | (other.flags & persistedFlagsMask)

	for i, slot := range other.Blocks {
		b := store.ByHash(slot.Hash)
		if b == nil {
			b = NewBlock(slot.Hash, 0)
			store.Put(b, false)
		}
		if err := f.AssignBlock(store, b, i); err != nil {
			return err
		}
		if _, ok := preserved[slot.Hash]; ok {
			f.MarkLocalAvailable(store, i)
		}
	}
	return nil
}

// MakeConflictingName builds stem.sync-conflict-YYYYMMDD-HHMMSS-<short>.ext
// from the file's modified time (local zone) and the best counter's
// device-short-id.
func (f *FileInfo) MakeConflictingName() string {
	ext := path.Ext(f.Name.OwnName())
	stem := strings.TrimSuffix(f.Name.OwnName(), ext)
	t := time.Unix(f.ModifiedS, 0).Local()
	best, _ := f.Version.Best()
	short := best.ID.String()
	return fmt.Sprintf("%s.sync-conflict-%s-%s%s", stem, t.Format("20060102-150405"), short, ext)
}

// Guard is the RAII-shaped synchronization-lock acquisition: Release
// (typically deferred) clears the synchronizing flag and releases the
// cluster-wide per-path lock.
type Guard struct {
	file    *FileInfo
	release func()
}

// Release unlocks the file and the underlying path lock. Safe to call at
// most once; a zero-value Guard's Release is a no-op.
func (g Guard) Release() {
	if g.file == nil {
		return
	}
	g.file.flags &^= FlagSynchronizing
	if g.release != nil {
		g.release()
	}
}

// Lock acquires the synchronizing lock and the cluster's per-path lock,
// returning false if the file is already being synchronized.
func (f *FileInfo) Lock(cluster *Cluster) (Guard, bool) {
	if f.IsSynchronizing() {
		return Guard{}, false
	}
	release, ok := cluster.LockPath(f.Name.FullName())
	if !ok {
		return Guard{}, false
	}
	f.flags |= FlagSynchronizing
	return Guard{file: f, release: release}, true
}
