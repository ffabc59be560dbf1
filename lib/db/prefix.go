// Package db is the persistence layer: a goleveldb key-value store
// holding the cluster graph, an XDR entity codec, and the schema
// migrations that keep an on-disk database readable across releases.
package db

// prefix is the one-byte discriminator that starts every key, selecting
// which entity family the rest of the key belongs to.
type prefix byte

const (
	prefixMisc          prefix = 0x01
	prefixDevice        prefix = 0x10
	prefixFolder        prefix = 0x11
	prefixFolderInfo    prefix = 0x12
	prefixFileInfo      prefix = 0x13
	prefixIgnoredDevice prefix = 0x14
	prefixIgnoredFolder prefix = 0x15
	prefixUnknownFolder prefix = 0x16
	prefixBlockInfo     prefix = 0x17
	prefixUnknownDevice prefix = 0x18
	prefixSequence      prefix = 0x19
	prefixGlobalVersion prefix = 0x1a
	prefixFolderIdx     prefix = 0x1b // smallIndex: folder id string -> uint32
	prefixDeviceIdx     prefix = 0x1c // smallIndex: device id bytes -> uint32
)
