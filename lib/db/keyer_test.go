package db

import (
	"bytes"
	"testing"
)

func TestDeviceFileKey(t *testing.T) {
	ldb := newMemLevelDB(t)
	k, err := newKeyer(ldb)
	if err != nil {
		t.Fatal(err)
	}

	fld := []byte("folder6789012345678901234567890123456789012345678901234567890123")
	dev := []byte("device67890123456789012345678901")
	name := []byte("name")

	key, err := k.GenerateDeviceFileKey(nil, fld, dev, name)
	if err != nil {
		t.Fatal(err)
	}

	fld2, ok := k.FolderFromDeviceFileKey(key)
	if !ok {
		t.Fatal("unexpectedly not found")
	}
	if !bytes.Equal(fld2, fld) {
		t.Errorf("wrong folder %q != %q", fld2, fld)
	}

	dev2, ok := k.DeviceFromDeviceFileKey(key)
	if !ok {
		t.Fatal("unexpectedly not found")
	}
	if !bytes.Equal(dev2, dev) {
		t.Errorf("wrong device %q != %q", dev2, dev)
	}

	name2 := k.NameFromDeviceFileKey(key)
	if !bytes.Equal(name2, name) {
		t.Errorf("wrong name %q != %q", name2, name)
	}
}

func TestGlobalVersionKey(t *testing.T) {
	ldb := newMemLevelDB(t)
	k, err := newKeyer(ldb)
	if err != nil {
		t.Fatal(err)
	}

	fld := []byte("folder6789012345678901234567890123456789012345678901234567890123")
	name := []byte("name")

	key, err := k.GenerateGlobalVersionKey(nil, fld, name)
	if err != nil {
		t.Fatal(err)
	}

	name2 := k.NameFromGlobalVersionKey(key)
	if !bytes.Equal(name2, name) {
		t.Errorf("wrong name %q != %q", name2, name)
	}
}

func TestSequenceKey(t *testing.T) {
	ldb := newMemLevelDB(t)
	k, err := newKeyer(ldb)
	if err != nil {
		t.Fatal(err)
	}

	fld := []byte("folder")
	key, err := k.GenerateSequenceKey(nil, fld, 1234)
	if err != nil {
		t.Fatal(err)
	}
	if got := k.SequenceFromSequenceKey(key); got != 1234 {
		t.Errorf("wrong sequence %d != 1234", got)
	}
}

func TestKeyerReuseBuffer(t *testing.T) {
	ldb := newMemLevelDB(t)
	k, err := newKeyer(ldb)
	if err != nil {
		t.Fatal(err)
	}

	var buf []byte
	buf, err = k.GenerateDeviceFileKey(buf, []byte("f1"), []byte("d1"), []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	buf, err = k.GenerateDeviceFileKey(buf, []byte("f1"), []byte("d1"), []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if name := k.NameFromDeviceFileKey(buf); string(name) != "b" {
		t.Errorf("expected reused-buffer key to encode %q, got %q", "b", name)
	}
}
