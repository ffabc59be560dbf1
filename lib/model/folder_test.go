package model

import (
	"testing"
	"time"

	"github.com/syncspirit/syncspirit/lib/protocol"
)

func deviceFor(t *testing.T, seed string) protocol.DeviceID {
	t.Helper()
	return protocol.NewDeviceID([]byte(seed))
}

func tAt(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func TestFolderAddAndIsSharedWith(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	dev := deviceFor(t, "device-a")

	if _, ok := f.IsSharedWith(dev); ok {
		t.Fatal("expected folder not shared with dev before Add")
	}

	fi := NewFolderInfo("fi-uuid", dev, f)
	f.Add(fi)

	got, ok := f.IsSharedWith(dev)
	if !ok || got != fi {
		t.Fatalf("expected IsSharedWith to return the added FolderInfo, got %v, %v", got, ok)
	}
	if fi.Folder != f {
		t.Fatal("expected Add to back-reference the owning folder")
	}
}

func TestFolderIsScanning(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	if f.IsScanning() {
		t.Fatal("expected a fresh folder not to be scanning")
	}

	f.SetScanStart(tAt(100))
	if !f.IsScanning() {
		t.Fatal("expected scanning after SetScanStart with no finish yet")
	}

	f.SetScanFinish(tAt(200))
	if f.IsScanning() {
		t.Fatal("expected not scanning once finish is after start")
	}

	f.SetScanStart(tAt(300))
	if !f.IsScanning() {
		t.Fatal("expected scanning again once a new start is after the last finish")
	}
}

func TestFolderSynchronizationCounter(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	if f.IsSynchronizing() {
		t.Fatal("expected not synchronizing initially")
	}
	f.AdjustSynchronization(1)
	if !f.IsSynchronizing() {
		t.Fatal("expected synchronizing after increment")
	}
	f.AdjustSynchronization(-1)
	if f.IsSynchronizing() {
		t.Fatal("expected not synchronizing after matching decrement")
	}
}

func TestFolderSynchronizationCounterPanicsOnNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when synchronization counter goes negative")
		}
	}()
	f := NewFolder("f-uuid", "folder1", "My Folder")
	f.AdjustSynchronization(-1)
}

func TestFolderInfoAddAndByName(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	dev := deviceFor(t, "device-a")
	fi := NewFolderInfo("fi-uuid", dev, f)

	pc := NewPathCache(16)
	name := pc.Intern("docs/readme.txt")
	file := NewFileInfo("file-uuid", fi.UUID, name, FlagTypeFile, dev.Short())
	file.Sequence = 1

	fi.Add(file, true)
	if fi.MaxSequence != 1 {
		t.Fatalf("expected MaxSequence to advance to 1, got %d", fi.MaxSequence)
	}

	got, ok := fi.ByName("docs/readme.txt")
	if !ok || got != file {
		t.Fatalf("expected ByName to find the added file, got %v, %v", got, ok)
	}

	if _, ok := fi.ByName("missing.txt"); ok {
		t.Fatal("expected ByName to report false for an unknown name")
	}
}

func TestFolderInfoAddPanicsWhenSequenceExceedsMaxWithoutIncrement(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	dev := deviceFor(t, "device-a")
	fi := NewFolderInfo("fi-uuid", dev, f)

	pc := NewPathCache(16)
	name := pc.Intern("a.txt")
	file := NewFileInfo("file-uuid", fi.UUID, name, FlagTypeFile, dev.Short())
	file.Sequence = 5

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when adding a file whose sequence exceeds the current max without incMaxSequence")
		}
	}()
	fi.Add(file, false)
}

func TestFolderInfoSetIndexClearsFilesOnChange(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	dev := deviceFor(t, "device-a")
	fi := NewFolderInfo("fi-uuid", dev, f)

	pc := NewPathCache(16)
	name := pc.Intern("a.txt")
	file := NewFileInfo("file-uuid", fi.UUID, name, FlagTypeFile, dev.Short())
	fi.Add(file, true)

	fi.SetIndex(0)
	if len(fi.FileInfos) != 1 {
		t.Fatal("expected setting the same index to be a no-op")
	}

	fi.SetIndex(2)
	if len(fi.FileInfos) != 0 {
		t.Fatal("expected changing the index to clear the file set")
	}
}

func TestFolderInfoNeedsIndexInitiation(t *testing.T) {
	f := NewFolder("f-uuid", "folder1", "My Folder")
	devA := deviceFor(t, "device-a")
	devB := deviceFor(t, "device-b")
	local := NewFolderInfo("local", devA, f)
	remote := NewFolderInfo("remote", devB, f)

	if !local.NeedsIndexInitiation(remote) {
		t.Fatal("expected initiation needed when remote has never reported progress")
	}

	remote.Index = local.Index
	remote.MaxSequence = 1
	if local.NeedsIndexInitiation(remote) {
		t.Fatal("expected no initiation needed once indexes match and remote has progress")
	}

	remote.Index = local.Index + 1
	if !local.NeedsIndexInitiation(remote) {
		t.Fatal("expected initiation needed after an index mismatch")
	}
}
