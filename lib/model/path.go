package model

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"
)

// Path canonicalizes a slash-delimited full name into a shared object with
// parent/own-name views. Paths are write-once: the cache returns the same
// *Path for repeated lookups of the same (normalized) full name.
type Path struct {
	name   string
	pieces []int // byte offset of the start of each path component
}

func newPath(fullName string) *Path {
	p := &Path{name: fullName}
	start := 0
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			start = i + 1
		} else if i == start {
			p.pieces = append(p.pieces, start)
		}
	}
	if fullName == "" {
		p.pieces = nil
	}
	return p
}

// FullName returns the original slash-delimited name.
func (p *Path) FullName() string { return p.name }

// OwnName returns the last path component.
func (p *Path) OwnName() string {
	if len(p.pieces) == 0 {
		return p.name
	}
	return p.name[p.pieces[len(p.pieces)-1]:]
}

// ParentName returns the name with the last component removed (no
// trailing slash). Returns "" for a single-component path.
func (p *Path) ParentName() string {
	if len(p.pieces) < 2 {
		return ""
	}
	last := p.pieces[len(p.pieces)-1]
	return p.name[:last-1]
}

// Components returns the path's slash-delimited pieces in order.
func (p *Path) Components() []string {
	if len(p.pieces) == 0 {
		if p.name == "" {
			return nil
		}
		return []string{p.name}
	}
	out := make([]string, len(p.pieces))
	for i, start := range p.pieces {
		end := len(p.name)
		if i+1 < len(p.pieces) {
			end = p.pieces[i+1] - 1
		}
		out[i] = p.name[start:end]
	}
	return out
}

// Contains reports whether other names a descendant of (or is equal to) p.
func (p *Path) Contains(other *Path) bool {
	if p.name == other.name {
		return true
	}
	return strings.HasPrefix(other.name, p.name+"/")
}

// PathCache is the sole owner of Path objects. Identical (NFC-normalized)
// names share one *Path, kept alive for as long as its reference count
// is positive; Release removes an entry the moment its count reaches
// zero, so the backing LRU's capacity bound only ever has to absorb
// whatever working set of distinct names is actually in flight at once
// (entries with a live reference are never subject to LRU eviction,
// because they are never still sitting in the cache unreferenced).
type PathCache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *pathEntry]
	normBuf norm.Form
}

type pathEntry struct {
	path *Path
	refs int
}

// NewPathCache returns a cache bounded to size entries.
func NewPathCache(size int) *PathCache {
	c := &PathCache{normBuf: norm.NFC}
	l, _ := lru.New[string, *pathEntry](size)
	c.lru = l
	return c
}

// Intern returns the shared Path for fullName, normalizing to NFC first,
// and increments its reference count.
func (c *PathCache) Intern(fullName string) *Path {
	normalized := c.normBuf.String(fullName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Get(normalized); ok {
		e.refs++
		return e.path
	}
	e := &pathEntry{path: newPath(normalized), refs: 1}
	c.lru.Add(normalized, e)
	return e.path
}

// Release decrements the reference count for fullName, removing the
// entry once it reaches zero.
func (c *PathCache) Release(fullName string) {
	normalized := c.normBuf.String(fullName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Get(normalized); ok {
		e.refs--
		if e.refs <= 0 {
			c.lru.Remove(normalized)
		}
	}
}

// Len returns the number of distinct paths currently cached.
func (c *PathCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
