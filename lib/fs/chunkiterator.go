// Package fs drives the local side of a block transfer: reading chunks
// from a partially-downloaded file in block-sized pieces and verifying
// each chunk's hash against the FileInfo it belongs to. Network I/O,
// local directory scanning and hashing themselves live outside this
// package's scope; PartialFileReader is the seam.
package fs

import (
	"fmt"

	"github.com/syncspirit/syncspirit/lib/model"
)

// PartialFileReader is the minimal capability ChunkIterator needs from
// whatever holds the in-progress local copy of a file: random-access
// reads by byte range, plus the bookkeeping to locate or discard it.
type PartialFileReader interface {
	ReadAt(offset, size int64) ([]byte, error)
	Path() string
	Remove() error
}

// Chunk is one block-sized slice of file content read from the backend,
// tagged with its position in the file's block list.
type Chunk struct {
	Data  []byte
	Index int
}

// ChunkIterator walks a file's blocks in order, handing each one's bytes
// to the caller for hashing and network transfer, and tracks which
// blocks have since been confirmed present (by hash) in the backend --
// letting the download pipeline skip re-fetching blocks a partial file
// already has correct.
type ChunkIterator struct {
	file    *model.FileInfo
	backend PartialFileReader

	lastQueuedBlock int
	unhashedBlocks  int
	validBlocks     []bool
	validBlocksCount uint32
	abandoned       bool
}

// NewChunkIterator starts iteration over file's blocks, backed by the
// given partial-file handle.
func NewChunkIterator(file *model.FileInfo, backend PartialFileReader) *ChunkIterator {
	n := len(file.Blocks)
	return &ChunkIterator{
		file:           file,
		backend:        backend,
		unhashedBlocks: n,
		validBlocks:    make([]bool, n),
	}
}

// HasMoreChunks reports whether Read has more blocks left to hand out.
func (c *ChunkIterator) HasMoreChunks() bool {
	return !c.abandoned && c.lastQueuedBlock < len(c.file.Blocks)
}

// IsComplete reports whether every block has been accounted for by
// AckHashing (successfully or not).
func (c *ChunkIterator) IsComplete() bool { return c.unhashedBlocks == 0 }

// HasValidBlocks reports whether at least one block has been confirmed
// present in the backend via AckBlock.
func (c *ChunkIterator) HasValidBlocks() bool { return c.validBlocksCount > 0 }

// ValidBlocks returns the per-index confirmed-present map. The caller
// must not mutate it.
func (c *ChunkIterator) ValidBlocks() []bool { return c.validBlocks }

// Read returns the next block's bytes from the backend, sized to the
// file's block size except for the final (possibly short) block.
func (c *ChunkIterator) Read() (Chunk, error) {
	if c.abandoned {
		return Chunk{}, fmt.Errorf("fs: chunk iterator for %s already abandoned", c.file.UUID)
	}
	i := c.lastQueuedBlock
	blockSize := int64(c.file.BlockSize)
	fileSize := c.file.Size
	next := blockSize
	if (int64(i)+1)*blockSize > fileSize {
		next = fileSize - int64(i)*blockSize
	}
	data, err := c.backend.ReadAt(int64(i)*blockSize, next)
	if err != nil {
		c.abandoned = true
		return Chunk{}, err
	}
	c.lastQueuedBlock++
	return Chunk{Data: data, Index: i}, nil
}

// AckHashing records that one block finished its hashing pass, whatever
// the outcome.
func (c *ChunkIterator) AckHashing() {
	if c.unhashedBlocks > 0 {
		c.unhashedBlocks--
	}
}

// AckBlock marks blockIndex valid if hash matches the file's recorded
// hash for that position; otherwise it is silently left unconfirmed, to
// be re-fetched from a peer.
func (c *ChunkIterator) AckBlock(hash model.BlockHash, blockIndex int) {
	if blockIndex < 0 || blockIndex >= len(c.file.Blocks) {
		return
	}
	if c.file.Blocks[blockIndex].Hash != hash {
		return
	}
	if !c.validBlocks[blockIndex] {
		c.validBlocks[blockIndex] = true
		c.validBlocksCount++
	}
}

func (c *ChunkIterator) File() *model.FileInfo { return c.file }
func (c *ChunkIterator) Path() string          { return c.backend.Path() }
func (c *ChunkIterator) Remove() error         { return c.backend.Remove() }
