package model

import (
	"sort"

	"github.com/syncspirit/syncspirit/lib/model/diff"
	"github.com/syncspirit/syncspirit/lib/protocol"
)

// FileIterator hands out the next file that should be pulled from peer,
// one folder at a time in round-robin order, ranked within each folder
// by that folder's PullOrder. It is the download pipeline's sole
// producer of work items; RemoteCopy/ResolveRemoteWin verdicts from
// Resolve feed the queue, Ignore verdicts are dropped.
type FileIterator struct {
	cluster *Cluster
	peer    protocol.DeviceID

	folderIndex int
	folders     []*fileIterFolder
}

type fileIterFolder struct {
	peerFolder   *FolderInfo
	queue        []*FileInfo
	seenIndex    uint64
	seenSequence int64
	canReceive   bool
}

// FileIterResult is one unit of pull work: the remote file description
// and the resolver action that justified pulling it.
type FileIterResult struct {
	File   *FileInfo
	Action diff.AdvanceAction
}

// NewFileIterator builds an iterator over every folder shared between
// the cluster's local device and peer.
func NewFileIterator(cluster *Cluster, peer protocol.DeviceID) *FileIterator {
	it := &FileIterator{cluster: cluster, peer: peer}
	cluster.Folders.Range(func(_ string, f *Folder) bool {
		peerFolder, ok := f.IsSharedWith(peer)
		if !ok {
			return true
		}
		if _, ok := f.IsSharedWith(cluster.Device); !ok {
			return true
		}
		it.prepareFolder(f, peerFolder)
		return true
	})
	return it
}

func canReceive(f *Folder) bool { return f.Type != FolderSendOnly }

func (it *FileIterator) prepareFolder(folder *Folder, peerFolder *FolderInfo) *fileIterFolder {
	state := &fileIterFolder{peerFolder: peerFolder, canReceive: canReceive(folder)}
	if state.canReceive {
		for _, f := range peerFolder.FileInfos {
			if Resolve(it.cluster, folder, it.peer, f) != diff.AdvanceIgnore {
				state.queue = append(state.queue, f)
			}
		}
		sortQueue(state.queue, folder.PullOrder)
		state.seenIndex = peerFolder.Index
		state.seenSequence = peerFolder.MaxSequence
	}
	it.folders = append(it.folders, state)
	return state
}

// sortQueue ranks q by order, in place. PullOrderRandom is a no-op:
// its ranking is the order files were appended to the queue, not a
// re-sort, so callers that enqueue in insertion order get exactly that.
func sortQueue(q []*FileInfo, order PullOrder) {
	if order == PullOrderRandom {
		return
	}
	sort.SliceStable(q, func(i, j int) bool {
		return lessFile(q[i], q[j], order)
	})
}

// lessFile mirrors the original comparator: files with no blocks (empty
// or fully-ignorable) sort first, then by the folder's pull order, with
// a lexicographic name tiebreak. PullOrderRandom never reaches here --
// sortQueue skips sorting entirely for it.
func lessFile(l, r *FileInfo, order PullOrder) bool {
	le := len(l.Blocks) == 0
	re := len(r.Blocks) == 0
	if le != re {
		return le
	}

	switch order {
	case PullOrderNewestFirst:
		if l.ModifiedS != r.ModifiedS {
			return l.ModifiedS > r.ModifiedS
		}
	case PullOrderOldestFirst:
		if l.ModifiedS != r.ModifiedS {
			return l.ModifiedS < r.ModifiedS
		}
	case PullOrderSmallestFirst:
		if l.Size != r.Size {
			return l.Size < r.Size
		}
	case PullOrderLargestFirst:
		if l.Size != r.Size {
			return l.Size > r.Size
		}
	}
	return l.Name.FullName() < r.Name.FullName()
}

// Next returns the highest-priority pullable file from the
// round-robin-next folder that has one, skipping files currently locked
// by another in-flight synchronization. Returns ok=false when no folder
// has any eligible work.
func (it *FileIterator) Next() (FileIterResult, bool) {
	count := len(it.folders)
	for scans := 0; scans < count; scans++ {
		state := it.folders[it.folderIndex]
		folder := state.peerFolder.Folder

		doScan := !folder.Paused && !folder.Scheduled && !folder.IsSuspended() && len(state.queue) > 0
		if doScan {
			for i := 0; i < len(state.queue); i++ {
				file := state.queue[i]
				if _, locked := it.cluster.locks.Load(file.Name.FullName()); locked {
					continue
				}
				state.queue = append(state.queue[:i], state.queue[i+1:]...)
				action := Resolve(it.cluster, folder, state.peerFolder.Device, file)
				if action != diff.AdvanceIgnore {
					return FileIterResult{File: file, Action: action}, true
				}
				i--
			}
		}
		it.folderIndex = (it.folderIndex + 1) % count
	}
	return FileIterResult{}, false
}

// OnUpsertFolderInfo re-derives a folder's queue after its FolderInfo
// changed (new index generation, sequence progress).
func (it *FileIterator) OnUpsertFolderInfo(peerFolder *FolderInfo) {
	folder := peerFolder.Folder
	for _, state := range it.folders {
		if state.peerFolder.Folder == folder && state.canReceive {
			it.populate(state)
			return
		}
	}
	it.prepareFolder(folder, peerFolder)
}

func (it *FileIterator) populate(state *fileIterFolder) {
	peerFolder := state.peerFolder
	if peerFolder.Index != state.seenIndex {
		state.seenSequence = 0
		state.queue = nil
	}
	folder := peerFolder.Folder
	for _, f := range peerFolder.FileInfos {
		if f.Sequence <= state.seenSequence {
			continue
		}
		if Resolve(it.cluster, folder, peerFolder.Device, f) != diff.AdvanceIgnore {
			state.queue = append(state.queue, f)
		}
	}
	state.seenSequence = peerFolder.MaxSequence
	state.seenIndex = peerFolder.Index
	sortQueue(state.queue, folder.PullOrder)
}

// OnUpsertFolder re-derives every peer replica of folder after its
// settings (pull order, folder type) changed.
func (it *FileIterator) OnUpsertFolder(folder *Folder) {
	for _, state := range it.folders {
		if state.peerFolder.Folder != folder {
			continue
		}
		wantReceive := canReceive(folder)
		switch {
		case wantReceive && !state.canReceive:
			state.seenSequence = 0
			it.populate(state)
		case wantReceive:
			sortQueue(state.queue, folder.PullOrder)
		default:
			state.queue = nil
		}
		state.canReceive = wantReceive
	}
}

// OnRemove drops peerFolder's queue entirely, e.g. when the folder is
// unshared with this peer.
func (it *FileIterator) OnRemove(peerFolder *FolderInfo) {
	for i, state := range it.folders {
		if state.peerFolder == peerFolder {
			it.folders = append(it.folders[:i], it.folders[i+1:]...)
			it.folderIndex = 0
			return
		}
	}
}

// Recheck re-evaluates a single remote file (e.g. after a local scan
// resolved its conflict) and enqueues it if it is newly pullable.
func (it *FileIterator) Recheck(remoteFolder *FolderInfo, remote *FileInfo) {
	for _, state := range it.folders {
		if state.peerFolder != remoteFolder {
			continue
		}
		if !state.canReceive {
			return
		}
		folder := state.peerFolder.Folder
		if Resolve(it.cluster, folder, state.peerFolder.Device, remote) != diff.AdvanceIgnore {
			state.queue = append(state.queue, remote)
			sortQueue(state.queue, folder.PullOrder)
		}
		return
	}
}
