package db

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// keyer builds and tears down the composite keys used for every entity
// family that is scoped to a (folder, device) pair or a folder alone.
// Folder ids and device ids are interned through smallIndex so that the
// far more numerous device-file and global-version keys stay a handful
// of bytes instead of embedding full folder/device strings every time.
type keyer struct {
	folders *smallIndex
	devices *smallIndex
}

func newKeyer(ldb *leveldb.DB) (*keyer, error) {
	folders, err := newSmallIndex(ldb, prefixFolderIdx)
	if err != nil {
		return nil, fmt.Errorf("db: folder index: %w", err)
	}
	devices, err := newSmallIndex(ldb, prefixDeviceIdx)
	if err != nil {
		return nil, fmt.Errorf("db: device index: %w", err)
	}
	return &keyer{folders: folders, devices: devices}, nil
}

// GenerateDeviceFileKey returns the key for one device's copy of one
// named file within folder, appending to base if it has spare capacity.
// Layout: prefix | folderID(4) | deviceID(4) | name.
func (k *keyer) GenerateDeviceFileKey(base []byte, folder, device, name []byte) ([]byte, error) {
	fID, err := k.folders.ID(folder)
	if err != nil {
		return nil, err
	}
	dID, err := k.devices.ID(device)
	if err != nil {
		return nil, err
	}
	key := resize(base, 1+4+4+len(name))
	key[0] = byte(prefixFileInfo)
	binary.BigEndian.PutUint32(key[1:5], fID)
	binary.BigEndian.PutUint32(key[5:9], dID)
	copy(key[9:], name)
	return key, nil
}

// FolderFromDeviceFileKey returns the folder id bytes embedded in key.
func (k *keyer) FolderFromDeviceFileKey(key []byte) ([]byte, bool) {
	if len(key) < 9 {
		return nil, false
	}
	return k.folders.Val(binary.BigEndian.Uint32(key[1:5]))
}

// DeviceFromDeviceFileKey returns the device id bytes embedded in key.
func (k *keyer) DeviceFromDeviceFileKey(key []byte) ([]byte, bool) {
	if len(key) < 9 {
		return nil, false
	}
	return k.devices.Val(binary.BigEndian.Uint32(key[5:9]))
}

// NameFromDeviceFileKey returns the file name suffix of key.
func (k *keyer) NameFromDeviceFileKey(key []byte) []byte {
	if len(key) < 9 {
		return nil
	}
	return key[9:]
}

// GenerateGlobalVersionKey returns the key tracking, for one name within
// folder, the set of devices holding any version of it and which is
// globally newest. Layout: prefix | folderID(4) | name.
func (k *keyer) GenerateGlobalVersionKey(base []byte, folder, name []byte) ([]byte, error) {
	fID, err := k.folders.ID(folder)
	if err != nil {
		return nil, err
	}
	key := resize(base, 1+4+len(name))
	key[0] = byte(prefixGlobalVersion)
	binary.BigEndian.PutUint32(key[1:5], fID)
	copy(key[5:], name)
	return key, nil
}

// NameFromGlobalVersionKey returns the file name suffix of key.
func (k *keyer) NameFromGlobalVersionKey(key []byte) []byte {
	if len(key) < 5 {
		return nil
	}
	return key[5:]
}

// GenerateSequenceKey returns the key under which the file at sequence
// number seq within folder is indexed, for sequence-ordered index scans.
// Layout: prefix | folderID(4) | seq(8, big-endian so lexicographic byte
// order matches numeric order).
func (k *keyer) GenerateSequenceKey(base []byte, folder []byte, seq int64) ([]byte, error) {
	fID, err := k.folders.ID(folder)
	if err != nil {
		return nil, err
	}
	key := resize(base, 1+4+8)
	key[0] = byte(prefixSequence)
	binary.BigEndian.PutUint32(key[1:5], fID)
	binary.BigEndian.PutUint64(key[5:13], uint64(seq))
	return key, nil
}

// SequenceFromSequenceKey returns the sequence number encoded in key.
func (k *keyer) SequenceFromSequenceKey(key []byte) int64 {
	if len(key) < 13 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[5:13]))
}

func resize(base []byte, n int) []byte {
	if cap(base) >= n {
		return base[:n]
	}
	return make([]byte, n)
}
