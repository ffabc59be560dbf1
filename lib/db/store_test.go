package db

import (
	"testing"

	"github.com/syncspirit/syncspirit/lib/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ldb := newMemLevelDB(t)
	k, err := newKeyer(ldb)
	if err != nil {
		t.Fatal(err)
	}
	return &Store{ldb: ldb, keyer: k}
}

func TestStorePutGetDeleteDevice(t *testing.T) {
	s := newTestStore(t)
	id := protocol.DeviceID{1, 2, 3}

	if _, found, err := s.GetDevice(id); err != nil || found {
		t.Fatalf("expected no device before Put, found=%v, err=%v", found, err)
	}

	if err := s.PutDevice(id, &DeviceRecord{Name: "laptop", Introducer: true}); err != nil {
		t.Fatal(err)
	}
	rec, found, err := s.GetDevice(id)
	if err != nil || !found {
		t.Fatalf("expected the device to be found, err=%v", err)
	}
	if rec.Name != "laptop" || !rec.Introducer {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := s.DeleteDevice(id); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetDevice(id); found {
		t.Fatal("expected the device to be gone after Delete")
	}
}

func TestStoreForEachDevice(t *testing.T) {
	s := newTestStore(t)
	a := protocol.DeviceID{1}
	b := protocol.DeviceID{2}
	if err := s.PutDevice(a, &DeviceRecord{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDevice(b, &DeviceRecord{Name: "b"}); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	if err := s.ForEachDevice(func(id protocol.DeviceID, rec *DeviceRecord) bool {
		seen[rec.Name] = true
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both devices to be visited, got %v", seen)
	}
}

func TestStorePutGetFolderInfo(t *testing.T) {
	s := newTestStore(t)
	dev := protocol.DeviceID{9}

	if err := s.PutFolderInfo("f1", dev, &folderInfoRecord{Index: 7, MaxSequence: 42}); err != nil {
		t.Fatal(err)
	}
	rec, found, err := s.GetFolderInfo("f1", dev)
	if err != nil || !found {
		t.Fatalf("expected the folder info to be found, err=%v", err)
	}
	if rec.Index != 7 || rec.MaxSequence != 42 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := s.DeleteFolderInfo("f1", dev); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetFolderInfo("f1", dev); found {
		t.Fatal("expected the folder info to be gone after Delete")
	}
}

func TestStoreIgnoredDeviceAndFolder(t *testing.T) {
	s := newTestStore(t)
	dev := protocol.DeviceID{5}

	if ok, err := s.IsIgnoredDevice(dev); err != nil || ok {
		t.Fatalf("expected the device not to be ignored yet, ok=%v, err=%v", ok, err)
	}
	if err := s.PutIgnoredDevice(dev); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.IsIgnoredDevice(dev); err != nil || !ok {
		t.Fatalf("expected the device to be ignored, ok=%v, err=%v", ok, err)
	}
	if err := s.DeleteIgnoredDevice(dev); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsIgnoredDevice(dev); ok {
		t.Fatal("expected the device to no longer be ignored")
	}

	if err := s.PutIgnoredFolder("f1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.IsIgnoredFolder("f1"); err != nil || !ok {
		t.Fatalf("expected the folder to be ignored, ok=%v, err=%v", ok, err)
	}
	if err := s.DeleteIgnoredFolder("f1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsIgnoredFolder("f1"); ok {
		t.Fatal("expected the folder to no longer be ignored")
	}
}

func TestStorePendingFolderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	dev := protocol.DeviceID{3}

	rec := &PendingFolderRecord{Label: "Photos", IndexID: 1, MaxSequence: 5}
	if err := s.PutPendingFolder("f1", dev, rec); err != nil {
		t.Fatal(err)
	}

	var seen []string
	if err := s.ForEachPendingFolder(func(folder string, device protocol.DeviceID, rec *PendingFolderRecord) bool {
		seen = append(seen, folder)
		if rec.Label != "Photos" {
			t.Fatalf("unexpected label: %q", rec.Label)
		}
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != "f1" {
		t.Fatalf("expected exactly the f1 offer, got %v", seen)
	}

	if err := s.DeletePendingFolder("f1", dev); err != nil {
		t.Fatal(err)
	}
	seen = nil
	if err := s.ForEachPendingFolder(func(folder string, device protocol.DeviceID, rec *PendingFolderRecord) bool {
		seen = append(seen, folder)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 0 {
		t.Fatalf("expected no pending offers after Delete, got %v", seen)
	}
}

func TestStoreUnknownDeviceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	dev := protocol.DeviceID{7}

	if err := s.PutUnknownDevice(dev, &unknownDeviceRecord{Name: "phone"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUnknownDevice(dev); err != nil {
		t.Fatal(err)
	}
}

func TestStoreBlockInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	var hash [32]byte
	hash[0] = 0xAB

	if _, found, err := s.GetBlockInfo(hash); err != nil || found {
		t.Fatalf("expected no block info before Put, found=%v, err=%v", found, err)
	}
	if err := s.PutBlockInfo(hash, &blockInfoRecord{Size: 1024}); err != nil {
		t.Fatal(err)
	}
	rec, found, err := s.GetBlockInfo(hash)
	if err != nil || !found {
		t.Fatalf("expected the block info to be found, err=%v", err)
	}
	if rec.Size != 1024 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := s.DeleteBlockInfo(hash); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetBlockInfo(hash); found {
		t.Fatal("expected the block info to be gone after Delete")
	}
}
