package model

import (
	"testing"

	"github.com/syncspirit/syncspirit/lib/model/diff"
)

func TestClusterNextUUIDIsDeterministicForAFixedSeed(t *testing.T) {
	dev := deviceFor(t, "local")
	c1 := NewCluster(dev, 42, 10)
	c2 := NewCluster(dev, 42, 10)

	for i := 0; i < 5; i++ {
		a, b := c1.NextUUID(), c2.NextUUID()
		if a != b {
			t.Fatalf("expected identically-seeded clusters to draw the same UUID stream, got %q != %q", a, b)
		}
	}
}

func TestClusterLockPath(t *testing.T) {
	c := NewCluster(deviceFor(t, "local"), 1, 10)

	release, ok := c.LockPath("a/b.txt")
	if !ok {
		t.Fatal("expected the first lock attempt to succeed")
	}
	if _, ok := c.LockPath("a/b.txt"); ok {
		t.Fatal("expected a second lock attempt on the same path to fail")
	}
	release()
	if _, ok := c.LockPath("a/b.txt"); !ok {
		t.Fatal("expected the path to be lockable again after release")
	}
}

func TestClusterMarkTainted(t *testing.T) {
	c := NewCluster(deviceFor(t, "local"), 1, 10)
	if c.IsTainted() {
		t.Fatal("expected a fresh cluster not to be tainted")
	}
	c.MarkTainted()
	if !c.IsTainted() {
		t.Fatal("expected cluster to be tainted after MarkTainted")
	}
}

func TestClusterModifyWriteRequestsPanicsOnNegative(t *testing.T) {
	c := NewCluster(deviceFor(t, "local"), 1, 10)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when write-request budget goes negative")
		}
	}()
	c.ModifyWriteRequests(-11)
}

func TestClusterGenerateListsOnlySharedFolders(t *testing.T) {
	localDev := deviceFor(t, "local")
	remoteDev := deviceFor(t, "remote")
	c := NewCluster(localDev, 1, 10)

	shared := NewFolder("f1-uuid", "f1", "Shared")
	shared.AssignCluster(c)
	shared.Add(NewFolderInfo("shared-local", localDev, shared))
	shared.Add(NewFolderInfo("shared-remote", remoteDev, shared))
	c.Folders.Store(shared.ID, shared)

	private := NewFolder("f2-uuid", "f2", "Private")
	private.AssignCluster(c)
	private.Add(NewFolderInfo("private-local", localDev, private))
	c.Folders.Store(private.ID, private)

	out := c.Generate(remoteDev)
	if len(out.Folders) != 1 {
		t.Fatalf("expected exactly one folder shared with remoteDev, got %d", len(out.Folders))
	}
	if out.Folders[0].ID != "f1" {
		t.Fatalf("expected the shared folder to be f1, got %q", out.Folders[0].ID)
	}
}

func TestClusterProcessClusterConfigQueuesUnknownFolders(t *testing.T) {
	c := NewCluster(deviceFor(t, "local"), 1, 10)
	remoteDev := deviceFor(t, "remote")

	msg := ClusterConfigMsg{Folders: []FolderMsg{{ID: "new-folder", Label: "New"}}}
	out, err := c.ProcessClusterConfig(msg, remoteDev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected ProcessClusterConfig to return one diff, got %d", len(out))
	}
	if _, ok := c.PendingFolders.Load("new-folder"); ok {
		t.Fatal("expected ProcessClusterConfig not to mutate the cluster directly")
	}
	for _, d := range out {
		if err := c.ApplyDiff(d); err != nil {
			t.Fatalf("unexpected error applying diff: %v", err)
		}
	}
	if _, ok := c.PendingFolders.Load("new-folder"); !ok {
		t.Fatal("expected an unknown folder to be queued as pending once its diff is applied")
	}
}

func TestClusterProcessClusterConfigUpsertsSharedFolderPeerInfo(t *testing.T) {
	localDev := deviceFor(t, "local")
	remoteDev := deviceFor(t, "remote")
	c := NewCluster(localDev, 1, 10)

	f := NewFolder("f1-uuid", "f1", "Folder")
	f.AssignCluster(c)
	f.Add(NewFolderInfo("local-fi", localDev, f))
	c.Folders.Store(f.ID, f)

	msg := ClusterConfigMsg{Folders: []FolderMsg{{
		ID: "f1",
		Devices: []DeviceMsg{
			{ID: remoteDev, IndexID: 7, MaxSequence: 42},
		},
	}}}
	out, err := c.ProcessClusterConfig(msg, remoteDev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawUpsert bool
	for _, d := range out {
		if u, ok := d.(*diff.UpsertFolderInfo); ok {
			sawUpsert = true
			if u.Index != 7 || u.MaxSequence != 42 || u.Device != remoteDev {
				t.Fatalf("unexpected UpsertFolderInfo diff: %+v", u)
			}
		}
		if err := c.ApplyDiff(d); err != nil {
			t.Fatalf("unexpected error applying diff: %v", err)
		}
	}
	if !sawUpsert {
		t.Fatal("expected a step-1 UpsertFolderInfo diff for a folder the local device shares")
	}
	remoteFI, ok := f.IsSharedWith(remoteDev)
	if !ok || remoteFI.Index != 7 || remoteFI.MaxSequence != 42 {
		t.Fatalf("expected remote replica index/max-sequence to be upserted, got %+v, %v", remoteFI, ok)
	}
}

func TestClusterProcessClusterConfigRecordsRemoteViewForEveryListedDevice(t *testing.T) {
	localDev := deviceFor(t, "local")
	remoteDev := deviceFor(t, "remote")
	thirdDev := deviceFor(t, "third")
	c := NewCluster(localDev, 1, 10)

	f := NewFolder("f1-uuid", "f1", "Folder")
	f.AssignCluster(c)
	f.Add(NewFolderInfo("local-fi", localDev, f))
	c.Folders.Store(f.ID, f)

	msg := ClusterConfigMsg{Folders: []FolderMsg{{
		ID: "f1",
		Devices: []DeviceMsg{
			{ID: remoteDev, IndexID: 7, MaxSequence: 42},
			{ID: thirdDev, IndexID: 9, MaxSequence: 3},
		},
	}}}
	out, err := c.ProcessClusterConfig(msg, remoteDev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range out {
		if err := c.ApplyDiff(d); err != nil {
			t.Fatalf("unexpected error applying diff: %v", err)
		}
	}

	entry, ok := c.RemoteViews.Load(RemoteViewKey{Peer: remoteDev, FolderID: "f1", Device: thirdDev})
	if !ok || entry.Index != 9 || entry.MaxSequence != 3 {
		t.Fatalf("expected a remote-view entry for the third device peer described, got %+v, %v", entry, ok)
	}
	selfEntry, ok := c.RemoteViews.Load(RemoteViewKey{Peer: remoteDev, FolderID: "f1", Device: remoteDev})
	if !ok || selfEntry.Index != 7 || selfEntry.MaxSequence != 42 {
		t.Fatalf("expected a remote-view entry for the peer's own replica too, got %+v, %v", selfEntry, ok)
	}
}

func TestClusterProcessIndexProducesNewFileForUnseenFile(t *testing.T) {
	localDev := deviceFor(t, "local")
	remoteDev := deviceFor(t, "remote")
	c := NewCluster(localDev, 1, 10)

	f := NewFolder("f1-uuid", "f1", "Folder")
	f.AssignCluster(c)
	f.Add(NewFolderInfo("local-fi", localDev, f))
	f.Add(NewFolderInfo("remote-fi", remoteDev, f))
	c.Folders.Store(f.ID, f)

	msg := IndexMsg{Folder: "f1", Files: []FileInfoMsg{{Name: "a.txt", Type: FlagTypeFile}}}
	out, err := c.ProcessIndex(msg, remoteDev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one diff, got %d", len(out))
	}
	nf, ok := out[0].(*diff.NewFile)
	if !ok {
		t.Fatalf("expected a *diff.NewFile, got %T", out[0])
	}
	if nf.Name != "a.txt" || nf.FolderID != "f1" {
		t.Fatalf("unexpected NewFile diff: %+v", nf)
	}
}

func TestClusterProcessIndexUnknownFolderErrors(t *testing.T) {
	c := NewCluster(deviceFor(t, "local"), 1, 10)
	_, err := c.ProcessIndex(IndexMsg{Folder: "nope"}, deviceFor(t, "remote"))
	if err == nil {
		t.Fatal("expected an error for an index referencing an unknown folder")
	}
}

func TestClusterApplyDiffCreateFolderAndShareAndNewFile(t *testing.T) {
	localDev := deviceFor(t, "local")
	remoteDev := deviceFor(t, "remote")
	c := NewCluster(localDev, 1, 10)

	create := &diff.CreateFolder{UUID: "f1-uuid", ID: "f1", Label: "Folder"}
	if err := c.ApplyDiff(create); err != nil {
		t.Fatalf("unexpected error applying CreateFolder: %v", err)
	}
	f, ok := c.Folders.Load("f1")
	if !ok {
		t.Fatal("expected folder f1 to exist after CreateFolder")
	}

	share := &diff.ShareFolder{FolderID: "f1", Device: remoteDev}
	if err := c.ApplyDiff(share); err != nil {
		t.Fatalf("unexpected error applying ShareFolder: %v", err)
	}
	if _, ok := f.IsSharedWith(remoteDev); !ok {
		t.Fatal("expected folder to be shared with remoteDev after ShareFolder")
	}

	upsert := &diff.UpsertFolderInfo{UUID: "local-fi", Device: localDev, FolderID: "f1", Index: 1}
	if err := c.ApplyDiff(upsert); err != nil {
		t.Fatalf("unexpected error applying UpsertFolderInfo: %v", err)
	}
	localFI, ok := f.IsSharedWith(localDev)
	if !ok || localFI.Index != 1 {
		t.Fatalf("expected local replica with index 1, got %+v, %v", localFI, ok)
	}

	nf := &diff.NewFile{
		FolderID: "f1", Device: remoteDev, FileUUID: "file1", Name: "a.txt",
		IncSequence: false,
		BlockHashes: [][32]byte{{1, 2, 3}},
		BlockSizes:  []int32{128},
	}
	if err := c.ApplyDiff(nf); err != nil {
		t.Fatalf("unexpected error applying NewFile: %v", err)
	}
	remoteFI, _ := f.IsSharedWith(remoteDev)
	file, ok := remoteFI.ByName("a.txt")
	if !ok {
		t.Fatal("expected the new file to be present in the remote replica")
	}
	if len(file.Blocks) != 1 || c.Blocks.Len() != 1 {
		t.Fatalf("expected one block assigned and stored, got %d file blocks, %d store blocks", len(file.Blocks), c.Blocks.Len())
	}
}

func TestClusterApplyDiffCloseTransactionIsNoOp(t *testing.T) {
	c := NewCluster(deviceFor(t, "local"), 1, 10)
	if err := c.ApplyDiff(&diff.CloseTransaction{}); err != nil {
		t.Fatalf("expected CloseTransaction to be a no-op, got %v", err)
	}
}

func TestClusterApplyFlushFileMarksBlocksAvailable(t *testing.T) {
	localDev := deviceFor(t, "local")
	c := NewCluster(localDev, 1, 10)
	f := NewFolder("f1-uuid", "f1", "Folder")
	f.AssignCluster(c)
	fi := NewFolderInfo("local-fi", localDev, f)
	f.Add(fi)
	c.Folders.Store(f.ID, f)

	name := c.PathCache.Intern("a.txt")
	file := NewFileInfo("file1", fi.UUID, name, FlagTypeFile, localDev.Short())
	block := NewBlock(BlockHash{9}, 64)
	c.Blocks.Put(block, false)
	if err := file.AssignBlock(c.Blocks, block, 0); err != nil {
		t.Fatalf("unexpected error assigning block: %v", err)
	}
	fi.Add(file, true)

	if err := c.ApplyDiff(&diff.FlushFile{FolderID: "f1", FileUUID: "file1"}); err != nil {
		t.Fatalf("unexpected error applying FlushFile: %v", err)
	}
	if !file.IsLocallyAvailable() {
		t.Fatal("expected file to be locally available after FlushFile")
	}
}
