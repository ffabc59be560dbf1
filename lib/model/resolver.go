package model

import (
	"strings"

	"github.com/syncspirit/syncspirit/lib/model/diff"
	"github.com/syncspirit/syncspirit/lib/protocol"
)

// Resolve decides what, if anything, should happen to the local replica
// of folder given a remote device's view of one file (remote). remote is
// a transient FileInfo built from the incoming message, not yet part of
// any FolderInfo.FileInfos set.
//
// The decision is deterministic and depends only on version-vector
// containment plus, for genuine concurrent edits, modified-time and then
// device-id tie-breaking -- so every device in the cluster reaches the
// same verdict independently, without needing to negotiate.
func Resolve(cluster *Cluster, folder *Folder, source protocol.DeviceID, remote *FileInfo) diff.AdvanceAction {
	local, hasLocalReplica := folder.IsSharedWith(cluster.Device)
	var localFile *FileInfo
	if hasLocalReplica {
		localFile, _ = local.ByName(remote.Name.FullName())
	}

	action := resolveOne(cluster, folder, source, remote, localFile)
	if action != diff.AdvanceResolveRemoteWin {
		return action
	}

	if strings.Contains(remote.Name.OwnName(), ".sync-conflict-") {
		return diff.AdvanceIgnore
	}
	if localFile != nil && hasLocalReplica {
		if _, exists := local.ByName(localFile.MakeConflictingName()); exists {
			return diff.AdvanceIgnore
		}
	}
	return action
}

func resolveOne(cluster *Cluster, folder *Folder, source protocol.DeviceID, remote, local *FileInfo) diff.AdvanceAction {
	if remote.IsUnreachable() || remote.IsInvalid() {
		return diff.AdvanceIgnore
	}

	// A third party's concurrently-held copy that the source has not yet
	// caught up to veto's this advance: better to wait for the source to
	// observe that copy first than race ahead of it.
	for device, fi := range folder.FolderInfos {
		if device == source || device == cluster.Device {
			continue
		}
		other, ok := fi.ByName(remote.Name.FullName())
		if !ok {
			continue
		}
		if !remote.Version.Contains(other.Version) {
			return diff.AdvanceIgnore
		}
	}

	if local == nil {
		return diff.AdvanceRemoteCopy
	}
	// Not yet scanned locally; re-evaluate once the local scanner catches
	// up (out of scope here, but the flag is carried for that purpose).
	if !local.IsLocal() {
		return diff.AdvanceIgnore
	}
	if remote.IsDeleted() && local.IsDeleted() {
		return diff.AdvanceIgnore
	}

	rBest, _ := remote.Version.Best()
	lBest, _ := local.Version.Best()

	if rBest.ID == lBest.ID {
		switch {
		case lBest.Value > rBest.Value:
			return diff.AdvanceIgnore
		case lBest.Value < rBest.Value:
			return diff.AdvanceRemoteCopy
		default:
			return diff.AdvanceIgnore
		}
	}

	rSuperior := remote.Version.Contains(local.Version)
	lSuperior := local.Version.Contains(remote.Version)
	concurrent := !rSuperior && !lSuperior

	if concurrent {
		if remote.IsDeleted() {
			return diff.AdvanceIgnore
		}
		if local.IsDeleted() {
			return diff.AdvanceRemoteCopy
		}
	}
	if rSuperior {
		return diff.AdvanceRemoteCopy
	}
	if lSuperior {
		return diff.AdvanceIgnore
	}

	if remote.ModifiedS > local.ModifiedS {
		return diff.AdvanceResolveRemoteWin
	}
	if local.ModifiedS > remote.ModifiedS {
		return diff.AdvanceIgnore
	}
	if rBest.ID >= lBest.ID {
		return diff.AdvanceResolveRemoteWin
	}
	return diff.AdvanceIgnore
}
