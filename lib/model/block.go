package model

import (
	"encoding/binary"

	"github.com/greatroar/blobloom"
)

const (
	blockLockMask    uint32 = 1 << 31
	blockSingleMask  uint32 = 1 << 30
	blockCounterMask uint32 = ^(blockLockMask | blockSingleMask)
)

// BlockHash is the content address of a Block: the SHA-256 of its bytes.
type BlockHash [32]byte

// FileBlock identifies one (file, index) position that references a
// Block. File is the owning FileInfo's UUID.
type FileBlock struct {
	File  string
	Index int
}

// Block is a content-addressed chunk of file data. Its back-reference set
// uses a single-position fast path (tagged union in the original design;
// here, a slice that is nil in single mode) to avoid an allocation for
// the overwhelmingly common case of one referencing file.
type Block struct {
	hash    BlockHash
	size    int32
	single  FileBlock
	multi   []FileBlock
	counter uint32 // bit31 lock, bit30 single-mode, bits0-29 refcount
}

// NewBlock returns a Block for hash with no back-references yet.
func NewBlock(hash BlockHash, size int32) *Block {
	return &Block{hash: hash, size: size}
}

func (b *Block) Hash() BlockHash { return b.hash }
func (b *Block) Size() int32     { return b.size }

func (b *Block) isSingle() bool   { return b.counter&blockSingleMask != 0 }
func (b *Block) setSingle(v bool) {
	if v {
		b.counter |= blockSingleMask
	} else {
		b.counter &^= blockSingleMask
	}
}

// UseCount returns the number of (file, index) positions referencing this
// block.
func (b *Block) UseCount() uint32 { return b.counter & blockCounterMask }

func (b *Block) incRef() { b.counter = (b.counter &^ blockCounterMask) | ((b.UseCount() + 1) & blockCounterMask) }
func (b *Block) decRef() {
	b.counter = (b.counter &^ blockCounterMask) | ((b.UseCount() - 1) & blockCounterMask)
}

func (b *Block) IsLocked() bool { return b.counter&blockLockMask != 0 }
func (b *Block) Lock()          { b.counter |= blockLockMask }
func (b *Block) Unlock()        { b.counter &^= blockLockMask }

// Link records that file.index now references this block: from zero
// positions it becomes single-mode; from single-mode it promotes to
// multi-mode (retaining the first position); from multi-mode it appends.
// Link also increments the refcount by one; FileInfo's AssignBlock calls
// Link and does not bump the refcount separately.
func (b *Block) Link(file string, index int) {
	fb := FileBlock{File: file, Index: index}
	switch {
	case b.UseCount() == 0:
		b.single = fb
		b.setSingle(true)
	case b.isSingle():
		b.multi = []FileBlock{b.single, fb}
		b.setSingle(false)
	default:
		b.multi = append(b.multi, fb)
	}
	b.incRef()
}

// Unlink removes all positions belonging to file, decrements the refcount
// once per removed position, and returns the indices that were removed;
// callers do not release the refcount themselves. If exactly one position
// remains afterwards, the block collapses back to single-mode.
func (b *Block) Unlink(file string) []int {
	var removed []int
	if b.isSingle() {
		if b.single.File == file {
			removed = append(removed, b.single.Index)
			b.single = FileBlock{}
			b.setSingle(false)
			b.decRef()
		}
		return removed
	}
	kept := b.multi[:0]
	for _, fb := range b.multi {
		if fb.File == file {
			removed = append(removed, fb.Index)
			continue
		}
		kept = append(kept, fb)
	}
	b.multi = kept
	if len(b.multi) == 1 {
		b.single = b.multi[0]
		b.multi = nil
		b.setSingle(true)
	}
	for range removed {
		b.decRef()
	}
	return removed
}

// MarkLocalAvailable is a notification hook; availability itself is
// tracked on the FileInfo's block slot (see FileInfo.MarkLocalAvailable),
// not on the Block, since the same Block can be locally available for
// one file and still pending for another replica of the same content.
func (b *Block) MarkLocalAvailable(file string) {}

// LocalFile returns an arbitrary back-reference, used by the chunk
// transfer path to find a local source to copy bytes from instead of
// downloading from the network.
func (b *Block) LocalFile() (FileBlock, bool) {
	if b.UseCount() == 0 {
		return FileBlock{}, false
	}
	if b.isSingle() {
		return b.single, true
	}
	return b.multi[0], true
}

// BlockStore is the cluster-wide, content-addressed pool of blocks. It is
// the unique owner of Block values; FileInfo only holds reference-counted
// handles (hashes) into it.
type BlockStore struct {
	byHash map[BlockHash]*Block
	bloom  *blobloom.Filter
}

// NewBlockStore returns an empty store sized for an expected number of
// distinct blocks.
func NewBlockStore(expectedBlocks int) *BlockStore {
	if expectedBlocks < 1024 {
		expectedBlocks = 1024
	}
	return &BlockStore{
		byHash: make(map[BlockHash]*Block),
		bloom:  blobloom.NewOptimized(blobloom.Config{Capacity: uint64(expectedBlocks), FPRate: 0.01}),
	}
}

// bloomHash reduces a block's content hash to the uint64 blobloom wants,
// matching the original design's own use of the hash's leading bytes
// (SHA-256 output is already uniformly distributed, so truncation costs
// nothing).
func bloomHash(hash BlockHash) uint64 {
	return binary.BigEndian.Uint64(hash[:8])
}

// ByHash returns the block for hash, or nil. A bloom filter negative
// short-circuits the map lookup; a positive always falls through to the
// real lookup, so false positives only cost a wasted map probe.
func (s *BlockStore) ByHash(hash BlockHash) *Block {
	if !s.bloom.Has(bloomHash(hash)) {
		return nil
	}
	return s.byHash[hash]
}

// Put inserts block if absent (hash is the unique index), or replaces the
// existing entry when replace is true. Returns true if the store was
// modified.
func (s *BlockStore) Put(block *Block, replace bool) bool {
	if _, ok := s.byHash[block.hash]; ok && !replace {
		return false
	}
	s.byHash[block.hash] = block
	s.bloom.Add(bloomHash(block.hash))
	return true
}

// Remove erases block from the store by hash.
func (s *BlockStore) Remove(block *Block) {
	delete(s.byHash, block.hash)
	// The bloom filter is never shrunk -- it is a pure pre-check and a
	// stale positive only costs a map miss, never a correctness issue.
}

// Len returns the number of distinct blocks held.
func (s *BlockStore) Len() int { return len(s.byHash) }
