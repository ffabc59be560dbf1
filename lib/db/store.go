package db

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/syncspirit/syncspirit/lib/model"
	"github.com/syncspirit/syncspirit/lib/protocol"
)

// Store is the on-disk home of the cluster graph: a goleveldb database
// plus the folder/device interning keyer, opened at a fixed schema
// version and migrated forward to the current one on open.
type Store struct {
	ldb   *leveldb.DB
	keyer *keyer
}

// Open opens (creating if necessary) the database at path and runs any
// pending migrations.
func Open(path string) (*Store, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	k, err := newKeyer(ldb)
	if err != nil {
		ldb.Close()
		return nil, err
	}
	s := &Store{ldb: ldb, keyer: k}
	if err := migrate(s); err != nil {
		ldb.Close()
		return nil, fmt.Errorf("db: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.ldb.Close() }

func miscKey(name string) []byte {
	return append([]byte{byte(prefixMisc)}, []byte(name)...)
}

// getUint64 returns the misc-keyed value stored under name, or (0,
// false) if it has never been set.
func (s *Store) getUint64(name string) (uint64, bool, error) {
	v, err := s.ldb.Get(miscKey(name), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("db: malformed misc value for %q", name)
	}
	var u uint64
	for _, b := range v {
		u = u<<8 | uint64(b)
	}
	return u, true, nil
}

func (s *Store) putUint64(name string, val uint64) error {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(val)
		val >>= 8
	}
	return s.ldb.Put(miscKey(name), buf, nil)
}

// PutFile persists file, keyed under (folder, device, file.Name).
func (s *Store) PutFile(folder, device string, file *model.FileInfo, flags uint16) error {
	key, err := s.keyer.GenerateDeviceFileKey(nil, []byte(folder), []byte(device), []byte(file.Name.String()))
	if err != nil {
		return err
	}
	rec := toFileRecord(file, flags)
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	return s.ldb.Put(key, val, nil)
}

// GetFile returns the persisted record for (folder, device, name).
func (s *Store) GetFile(folder, device, name string) (*fileRecord, bool, error) {
	key, err := s.keyer.GenerateDeviceFileKey(nil, []byte(folder), []byte(device), []byte(name))
	if err != nil {
		return nil, false, err
	}
	val, err := s.ldb.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := &fileRecord{}
	if err := rec.UnmarshalXDR(val); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// DeleteFile removes the persisted record for (folder, device, name).
func (s *Store) DeleteFile(folder, device, name string) error {
	key, err := s.keyer.GenerateDeviceFileKey(nil, []byte(folder), []byte(device), []byte(name))
	if err != nil {
		return err
	}
	return s.ldb.Delete(key, nil)
}

// ForEachFile calls fn for every persisted file record belonging to
// (folder, device), in name order, stopping early if fn returns false.
func (s *Store) ForEachFile(folder, device string, fn func(name string, rec *fileRecord) bool) error {
	prefixKey, err := s.keyer.GenerateDeviceFileKey(nil, []byte(folder), []byte(device), nil)
	if err != nil {
		return err
	}
	it := s.ldb.NewIterator(util.BytesPrefix(prefixKey), nil)
	defer it.Release()
	for it.Next() {
		rec := &fileRecord{}
		if err := rec.UnmarshalXDR(it.Value()); err != nil {
			return err
		}
		name := s.keyer.NameFromDeviceFileKey(it.Key())
		if !fn(string(name), rec) {
			break
		}
	}
	return it.Error()
}

// PutFolder persists a folder's cluster-wide metadata.
func (s *Store) PutFolder(rec *folderRecord) error {
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	key := append([]byte{byte(prefixFolder)}, []byte(rec.ID)...)
	return s.ldb.Put(key, val, nil)
}

// GetFolder returns the persisted metadata for folder id.
func (s *Store) GetFolder(id string) (*folderRecord, bool, error) {
	key := append([]byte{byte(prefixFolder)}, []byte(id)...)
	val, err := s.ldb.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := &folderRecord{}
	if err := rec.UnmarshalXDR(val); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func deviceKey(id protocol.DeviceID) []byte {
	return append([]byte{byte(prefixDevice)}, id[:]...)
}

// PutDevice persists a known device's bookkeeping.
func (s *Store) PutDevice(id protocol.DeviceID, rec *DeviceRecord) error {
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	return s.ldb.Put(deviceKey(id), val, nil)
}

// GetDevice returns the persisted record for device id.
func (s *Store) GetDevice(id protocol.DeviceID) (*DeviceRecord, bool, error) {
	val, err := s.ldb.Get(deviceKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := &DeviceRecord{}
	if err := rec.UnmarshalXDR(val); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// DeleteDevice removes the persisted record for device id.
func (s *Store) DeleteDevice(id protocol.DeviceID) error {
	return s.ldb.Delete(deviceKey(id), nil)
}

// ForEachDevice calls fn for every persisted device record, stopping
// early if fn returns false.
func (s *Store) ForEachDevice(fn func(id protocol.DeviceID, rec *DeviceRecord) bool) error {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{byte(prefixDevice)}), nil)
	defer it.Release()
	for it.Next() {
		var id protocol.DeviceID
		copy(id[:], it.Key()[1:])
		rec := &DeviceRecord{}
		if err := rec.UnmarshalXDR(it.Value()); err != nil {
			return err
		}
		if !fn(id, rec) {
			break
		}
	}
	return it.Error()
}

// folderInfoKey lays the fixed-width device id before the variable-width
// folder id, so a (device, *) range scan is a plain prefix match.
func folderInfoKey(folder, device []byte) []byte {
	key := make([]byte, 1+32+len(folder))
	key[0] = byte(prefixFolderInfo)
	copy(key[1:33], device)
	copy(key[33:], folder)
	return key
}

// PutFolderInfo persists one device's replica bookkeeping for folder.
func (s *Store) PutFolderInfo(folder string, device protocol.DeviceID, rec *folderInfoRecord) error {
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	return s.ldb.Put(folderInfoKey([]byte(folder), device[:]), val, nil)
}

// GetFolderInfo returns the persisted replica bookkeeping for (folder,
// device).
func (s *Store) GetFolderInfo(folder string, device protocol.DeviceID) (*folderInfoRecord, bool, error) {
	val, err := s.ldb.Get(folderInfoKey([]byte(folder), device[:]), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := &folderInfoRecord{}
	if err := rec.UnmarshalXDR(val); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// DeleteFolderInfo removes the persisted replica bookkeeping for
// (folder, device).
func (s *Store) DeleteFolderInfo(folder string, device protocol.DeviceID) error {
	return s.ldb.Delete(folderInfoKey([]byte(folder), device[:]), nil)
}

func ignoredDeviceKey(id protocol.DeviceID) []byte {
	return append([]byte{byte(prefixIgnoredDevice)}, id[:]...)
}

// PutIgnoredDevice marks device as ignored: its connections are refused
// without the bookkeeping overhead of a full device record.
func (s *Store) PutIgnoredDevice(id protocol.DeviceID) error {
	return s.ldb.Put(ignoredDeviceKey(id), nil, nil)
}

// IsIgnoredDevice reports whether device was previously marked ignored.
func (s *Store) IsIgnoredDevice(id protocol.DeviceID) (bool, error) {
	ok, err := s.ldb.Has(ignoredDeviceKey(id), nil)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// DeleteIgnoredDevice un-ignores device.
func (s *Store) DeleteIgnoredDevice(id protocol.DeviceID) error {
	return s.ldb.Delete(ignoredDeviceKey(id), nil)
}

func ignoredFolderKey(id string) []byte {
	return append([]byte{byte(prefixIgnoredFolder)}, []byte(id)...)
}

// PutIgnoredFolder marks folder id as ignored: offers of it are dropped
// without being surfaced as pending.
func (s *Store) PutIgnoredFolder(id string) error {
	return s.ldb.Put(ignoredFolderKey(id), nil, nil)
}

// IsIgnoredFolder reports whether folder id was previously marked
// ignored.
func (s *Store) IsIgnoredFolder(id string) (bool, error) {
	ok, err := s.ldb.Has(ignoredFolderKey(id), nil)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// DeleteIgnoredFolder un-ignores folder id.
func (s *Store) DeleteIgnoredFolder(id string) error {
	return s.ldb.Delete(ignoredFolderKey(id), nil)
}

// unknownFolderKey lays the fixed-width offering device before the
// variable-width folder id, mirroring folderInfoKey.
func unknownFolderKey(folder, device []byte) []byte {
	key := make([]byte, 1+32+len(folder))
	key[0] = byte(prefixUnknownFolder)
	copy(key[1:33], device)
	copy(key[33:], folder)
	return key
}

// PutPendingFolder persists folder as offered by device but not yet
// joined, the durable counterpart of Cluster.PendingFolders.
func (s *Store) PutPendingFolder(folder string, device protocol.DeviceID, rec *PendingFolderRecord) error {
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	return s.ldb.Put(unknownFolderKey([]byte(folder), device[:]), val, nil)
}

// DeletePendingFolder forgets folder's offer from device, e.g. once it
// is joined or explicitly dismissed.
func (s *Store) DeletePendingFolder(folder string, device protocol.DeviceID) error {
	return s.ldb.Delete(unknownFolderKey([]byte(folder), device[:]), nil)
}

// ForEachPendingFolder calls fn for every persisted pending-folder
// offer, stopping early if fn returns false.
func (s *Store) ForEachPendingFolder(fn func(folder string, device protocol.DeviceID, rec *PendingFolderRecord) bool) error {
	it := s.ldb.NewIterator(util.BytesPrefix([]byte{byte(prefixUnknownFolder)}), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) < 33 {
			continue
		}
		var device protocol.DeviceID
		copy(device[:], key[1:33])
		folder := string(key[33:])
		rec := &PendingFolderRecord{}
		if err := rec.UnmarshalXDR(it.Value()); err != nil {
			return err
		}
		if !fn(folder, device, rec) {
			break
		}
	}
	return it.Error()
}

func unknownDeviceKey(id protocol.DeviceID) []byte {
	return append([]byte{byte(prefixUnknownDevice)}, id[:]...)
}

// PutUnknownDevice records a device seen connecting that is neither
// known nor ignored, so the operator can later decide to add or ignore
// it (per the excluded config/GUI layer, this is bookkeeping only).
func (s *Store) PutUnknownDevice(id protocol.DeviceID, rec *unknownDeviceRecord) error {
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	return s.ldb.Put(unknownDeviceKey(id), val, nil)
}

// DeleteUnknownDevice forgets a previously seen unknown device, e.g.
// once it is added or ignored.
func (s *Store) DeleteUnknownDevice(id protocol.DeviceID) error {
	return s.ldb.Delete(unknownDeviceKey(id), nil)
}

func blockInfoKey(hash [32]byte) []byte {
	return append([]byte{byte(prefixBlockInfo)}, hash[:]...)
}

// PutBlockInfo persists the size of the content-addressed block hash.
func (s *Store) PutBlockInfo(hash [32]byte, rec *blockInfoRecord) error {
	val, err := rec.MarshalXDR()
	if err != nil {
		return err
	}
	return s.ldb.Put(blockInfoKey(hash), val, nil)
}

// GetBlockInfo returns the persisted size for hash.
func (s *Store) GetBlockInfo(hash [32]byte) (*blockInfoRecord, bool, error) {
	val, err := s.ldb.Get(blockInfoKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec := &blockInfoRecord{}
	if err := rec.UnmarshalXDR(val); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// DeleteBlockInfo removes the persisted record for hash, e.g. once no
// file references it anymore.
func (s *Store) DeleteBlockInfo(hash [32]byte) error {
	return s.ldb.Delete(blockInfoKey(hash), nil)
}
