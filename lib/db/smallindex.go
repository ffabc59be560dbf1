package db

import (
	"encoding/binary"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// smallIndex interns variable-length byte strings (folder ids, device
// ids) into small fixed-width uint32s, so the far more numerous
// file-info, global-version and sequence keys that embed them stay
// compact. Ids are
// assigned by a strictly increasing counter and are never reused, even
// after the string they named is deleted -- a stale id embedded in an
// already-written key must never be silently reassigned to a different
// string.
type smallIndex struct {
	mu     sync.Mutex
	db     *leveldb.DB
	prefix prefix

	byValue map[string]uint32
	byID    map[uint32][]byte
	next    uint32
}

func newSmallIndex(ldb *leveldb.DB, p prefix) (*smallIndex, error) {
	si := &smallIndex{
		db:      ldb,
		prefix:  p,
		byValue: make(map[string]uint32),
		byID:    make(map[uint32][]byte),
	}
	it := ldb.NewIterator(util.BytesPrefix([]byte{byte(p)}), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		id := binary.BigEndian.Uint32(key[1:])
		value := append([]byte(nil), it.Value()...)
		si.byValue[string(value)] = id
		si.byID[id] = value
		if id >= si.next {
			si.next = id + 1
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return si, nil
}

func (si *smallIndex) key(id uint32) []byte {
	key := make([]byte, 5)
	key[0] = byte(si.prefix)
	binary.BigEndian.PutUint32(key[1:], id)
	return key
}

// ID returns the id for val, assigning and persisting a fresh one if val
// has not been seen before.
func (si *smallIndex) ID(val []byte) (uint32, error) {
	si.mu.Lock()
	defer si.mu.Unlock()

	if id, ok := si.byValue[string(val)]; ok {
		return id, nil
	}
	id := si.next
	si.next++
	stored := append([]byte(nil), val...)
	if err := si.db.Put(si.key(id), stored, nil); err != nil {
		si.next--
		return 0, err
	}
	si.byValue[string(val)] = id
	si.byID[id] = stored
	return id, nil
}

// Val returns the byte string previously interned under id.
func (si *smallIndex) Val(id uint32) ([]byte, bool) {
	si.mu.Lock()
	defer si.mu.Unlock()
	v, ok := si.byID[id]
	return v, ok
}

// Delete forgets val's interned id without reclaiming it: the next call
// to ID for any (including this) value always allocates a new, larger
// id.
func (si *smallIndex) Delete(val []byte) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	id, ok := si.byValue[string(val)]
	if !ok {
		return nil
	}
	delete(si.byValue, string(val))
	delete(si.byID, id)
	return si.db.Delete(si.key(id), nil)
}
