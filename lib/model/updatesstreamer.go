package model

import (
	"sort"

	"github.com/syncspirit/syncspirit/lib/protocol"
)

// UpdatesStreamer produces the sequence of locally-held files that still
// need to be announced (via Index/IndexUpdate) to one peer. It tracks,
// per local folder shared with that peer, the highest sequence number
// already believed seen by the peer, and walks forward from there in
// sequence order.
//
// A "streaming" batch buffers a contiguous run of not-yet-seen files for
// one folder so Next can hand them out one at a time without
// re-scanning the whole folder on every call; OnUpsert appends newly
// produced files directly into that batch while it is active.
type UpdatesStreamer struct {
	cluster *Cluster
	peer    protocol.DeviceID

	seen      map[*FolderInfo]int64
	streaming *streamingBatch
}

type streamingBatch struct {
	folderInfo *FolderInfo
	unseen     []*FileInfo // ascending by Sequence
}

// Update is one file to announce, alongside the local replica it came
// from and whether this is the peer's very first glimpse of that
// replica (seenSequence was zero before this call).
type Update struct {
	File       *FileInfo
	FolderInfo *FolderInfo
	Initial    bool
}

// NewUpdatesStreamer builds a streamer for peer over cluster's current
// folder set.
func NewUpdatesStreamer(cluster *Cluster, peer protocol.DeviceID) *UpdatesStreamer {
	s := &UpdatesStreamer{cluster: cluster, peer: peer, seen: make(map[*FolderInfo]int64)}
	s.refresh()
	return s
}

// refresh rebuilds the set of local folder replicas this streamer tracks
// for peer: every folder not of type send-only that is shared with peer.
// Send-only folders are skipped; receive-only folders are tracked like
// send-receive ones. Folders that drop
// out of that set lose their seen-sequence bookkeeping; folders that
// join it start from sequence zero, i.e. a full catch-up stream.
func (s *UpdatesStreamer) refresh() {
	prevSeen := s.seen
	s.seen = make(map[*FolderInfo]int64)

	s.cluster.Folders.Range(func(_ string, folder *Folder) bool {
		if folder.Type == FolderSendOnly {
			return true
		}
		if _, ok := folder.IsSharedWith(s.peer); !ok {
			return true
		}
		localFolder, ok := folder.IsSharedWith(s.cluster.Device)
		if !ok {
			return true
		}
		s.seen[localFolder] = prevSeen[localFolder]
		return true
	})

	if s.streaming != nil {
		if _, stillTracked := s.seen[s.streaming.folderInfo]; !stillTracked {
			s.streaming = nil
		}
	}
}

// OnRemoteRefresh re-derives the tracked folder set, e.g. after the peer
// shares or unshares a folder.
func (s *UpdatesStreamer) OnRemoteRefresh() { s.refresh() }

// OnUpsert notifies the streamer that file (a replica owned by the local
// device, identified by fi) changed. If fi is not tracked the call is a
// no-op; returns true if the change was absorbed into the active
// streaming batch for fi.
func (s *UpdatesStreamer) OnUpsert(file *FileInfo, fi *FolderInfo) bool {
	if _, tracked := s.seen[fi]; !tracked {
		return false
	}
	if s.streaming == nil {
		return false
	}
	if s.streaming.folderInfo != fi {
		return false
	}
	s.streaming.unseen = insertBySequence(s.streaming.unseen, file)
	return true
}

func insertBySequence(files []*FileInfo, f *FileInfo) []*FileInfo {
	i := 0
	for i < len(files) && files[i].Sequence < f.Sequence {
		i++
	}
	files = append(files, nil)
	copy(files[i+1:], files[i:])
	files[i] = f
	return files
}

// Next returns the next file to announce to the peer, or ok=false if
// every tracked folder is fully caught up.
func (s *UpdatesStreamer) Next() (Update, bool) {
	if s.streaming != nil {
		if len(s.streaming.unseen) > 0 {
			file := s.streaming.unseen[0]
			s.streaming.unseen = s.streaming.unseen[1:]
			fi := s.streaming.folderInfo
			initial := s.seen[fi] == 0
			s.seen[fi] = file.Sequence
			if len(s.streaming.unseen) == 0 {
				s.streaming = nil
			}
			return Update{File: file, FolderInfo: fi, Initial: initial}, true
		}
		s.streaming = nil
	}

	for fi, seenSeq := range s.seen {
		if seenSeq >= fi.MaxSequence {
			continue
		}
		pending := filesAfterSequence(fi, seenSeq)
		if len(pending) == 0 {
			continue
		}
		initial := seenSeq == 0
		file := pending[0]
		s.seen[fi] = file.Sequence
		if len(pending) > 1 {
			s.streaming = &streamingBatch{folderInfo: fi, unseen: pending[1:]}
		}
		return Update{File: file, FolderInfo: fi, Initial: initial}, true
	}
	return Update{}, false
}

func filesAfterSequence(fi *FolderInfo, seen int64) []*FileInfo {
	var out []*FileInfo
	for _, f := range fi.FileInfos {
		if f.Sequence > seen {
			out = append(out, f)
		}
	}
	sortBySequence(out)
	return out
}

func sortBySequence(files []*FileInfo) {
	sort.Slice(files, func(i, j int) bool { return files[i].Sequence < files[j].Sequence })
}
