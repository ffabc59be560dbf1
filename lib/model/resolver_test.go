package model

import (
	"testing"

	"github.com/syncspirit/syncspirit/lib/model/diff"
	"github.com/syncspirit/syncspirit/lib/protocol"
)

type resolverFixture struct {
	cluster *Cluster
	folder  *Folder
	pc      *PathCache
	local   *FolderInfo
	remote  *FolderInfo
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	localDev := deviceFor(t, "local")
	remoteDev := deviceFor(t, "remote")

	c := NewCluster(localDev, 1, 10)
	f := NewFolder("f-uuid", "folder1", "Folder")
	f.AssignCluster(c)
	c.Folders.Store(f.ID, f)

	local := NewFolderInfo("local-fi", localDev, f)
	remote := NewFolderInfo("remote-fi", remoteDev, f)
	f.Add(local)
	f.Add(remote)

	return &resolverFixture{cluster: c, folder: f, pc: c.PathCache, local: local, remote: remote}
}

func (r *resolverFixture) newFile(fi *FolderInfo, device protocol.DeviceID, name string) *FileInfo {
	p := r.pc.Intern(name)
	return NewFileInfo(fi.UUID+"-"+name, fi.UUID, p, FlagTypeFile, device.Short())
}

func TestResolveUnreachableOrInvalidIsIgnored(t *testing.T) {
	fx := newResolverFixture(t)
	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")
	remote.MarkUnreachable(true)

	if got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote); got != diff.AdvanceIgnore {
		t.Fatalf("expected AdvanceIgnore for an unreachable remote file, got %v", got)
	}
}

func TestResolveNoLocalReplicaIsRemoteCopy(t *testing.T) {
	fx := newResolverFixture(t)
	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceRemoteCopy {
		t.Fatalf("expected AdvanceRemoteCopy when no local replica has the file, got %v", got)
	}
}

func TestResolveLocalNotYetScannedIsIgnored(t *testing.T) {
	fx := newResolverFixture(t)
	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")

	local := fx.newFile(fx.local, fx.local.Device, "a.txt")
	fx.local.Add(local, true)
	// local.IsLocal() is false: never locally scanned.

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceIgnore {
		t.Fatalf("expected AdvanceIgnore while the local copy is unscanned, got %v", got)
	}
}

func TestResolveBothDeletedIsIgnored(t *testing.T) {
	fx := newResolverFixture(t)
	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")
	remote.flags |= FlagDeleted

	local := fx.newFile(fx.local, fx.local.Device, "a.txt")
	local.MarkLocal(true)
	local.flags |= FlagDeleted
	fx.local.Add(local, true)

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceIgnore {
		t.Fatalf("expected AdvanceIgnore when both copies are deleted, got %v", got)
	}
}

// versionOf builds a deterministic version vector directly from its
// counters, bypassing the wall-clock-seeded Update path so tests can
// pin exact values.
func versionOf(counters ...Counter) Version {
	best := 0
	for i := range counters {
		if counters[i].Value > counters[best].Value {
			best = i
		}
	}
	return Version{counters: counters, bestIndex: best}
}

func TestResolveSameBestDeviceHigherCounterWins(t *testing.T) {
	fx := newResolverFixture(t)
	sharedID := fx.local.Device.Short()

	local := fx.newFile(fx.local, fx.local.Device, "a.txt")
	local.MarkLocal(true)
	local.Version = versionOf(Counter{ID: sharedID, Value: 10})
	fx.local.Add(local, true)

	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")
	remote.Version = versionOf(Counter{ID: sharedID, Value: 20})

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceRemoteCopy {
		t.Fatalf("expected AdvanceRemoteCopy when remote's counter for the shared best device is higher, got %v", got)
	}

	local.Version = versionOf(Counter{ID: sharedID, Value: 30})
	got = Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceIgnore {
		t.Fatalf("expected AdvanceIgnore when local's counter for the shared best device is higher, got %v", got)
	}
}

func TestResolveRemoteSuperiorVersionIsRemoteCopy(t *testing.T) {
	fx := newResolverFixture(t)
	localID := fx.local.Device.Short()
	remoteID := fx.remote.Device.Short()

	local := fx.newFile(fx.local, fx.local.Device, "a.txt")
	local.MarkLocal(true)
	local.Version = versionOf(Counter{ID: localID, Value: 5})
	fx.local.Add(local, true)

	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")
	// remote's best counter (remoteID) differs from local's (localID), but
	// remote also carries a caught-up-or-ahead counter for localID, so it
	// dominates local outright rather than merely sharing a best device.
	remote.Version = versionOf(Counter{ID: localID, Value: 5}, Counter{ID: remoteID, Value: 10})

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceRemoteCopy {
		t.Fatalf("expected AdvanceRemoteCopy when remote's version strictly dominates local's, got %v", got)
	}
}

func TestResolveConcurrentEditFallsBackToModifiedTime(t *testing.T) {
	fx := newResolverFixture(t)

	local := fx.newFile(fx.local, fx.local.Device, "a.txt")
	local.MarkLocal(true)
	local.Version.Update(fx.local.Device.Short())
	local.ModifiedS = 100
	fx.local.Add(local, true)

	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")
	remote.Version.Update(fx.remote.Device.Short())
	remote.ModifiedS = 200

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceResolveRemoteWin {
		t.Fatalf("expected AdvanceResolveRemoteWin when remote is strictly newer in a concurrent edit, got %v", got)
	}

	remote.ModifiedS = 50
	got = Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceIgnore {
		t.Fatalf("expected AdvanceIgnore when local is strictly newer in a concurrent edit, got %v", got)
	}
}

func TestResolveThirdPartyVeto(t *testing.T) {
	fx := newResolverFixture(t)
	thirdDev := deviceFor(t, "third")
	third := NewFolderInfo("third-fi", thirdDev, fx.folder)
	fx.folder.Add(third)

	remote := fx.newFile(fx.remote, fx.remote.Device, "a.txt")

	thirdFile := fx.newFile(third, thirdDev, "a.txt")
	thirdFile.Version.Update(thirdDev.Short())
	third.Add(thirdFile, true)
	// remote does not contain third's version: veto.

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceIgnore {
		t.Fatalf("expected AdvanceIgnore when a third party holds a version remote hasn't caught up to, got %v", got)
	}
}

func TestResolveSuppressesAlreadyConflictNamedFiles(t *testing.T) {
	fx := newResolverFixture(t)

	remote := fx.newFile(fx.remote, fx.remote.Device, "a.sync-conflict-20250101-120000-ABCDEFG.txt")
	remote.ModifiedS = 500

	local := fx.newFile(fx.local, fx.local.Device, "a.sync-conflict-20250101-120000-ABCDEFG.txt")
	local.MarkLocal(true)
	local.Version.Update(fx.local.Device.Short())
	local.ModifiedS = 100
	fx.local.Add(local, true)

	remote.Version.Update(fx.remote.Device.Short())

	got := Resolve(fx.cluster, fx.folder, fx.remote.Device, remote)
	if got != diff.AdvanceIgnore {
		t.Fatalf("expected a conflict-named remote file to never itself trigger another conflict rename, got %v", got)
	}
}
