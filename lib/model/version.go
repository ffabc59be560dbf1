// Package model implements the in-memory cluster graph: devices, folders,
// folder replicas, files, content-addressed blocks, and the algorithms
// (version reconciliation, resolver, iterators) that drive synchronization.
package model

import (
	"time"

	"github.com/syncspirit/syncspirit/lib/protocol"
)

// Counter is one device's monotone position within a Version.
type Counter struct {
	ID    protocol.ShortID
	Value uint64
}

// Version is an ordered set of per-device counters with a cached "best"
// (maximum-value) index, used to detect containment and concurrency
// between two replicas of the same file. The zero value is a valid empty
// vector: bestIndex is only meaningful once counters is non-empty, so no
// explicit unset sentinel is needed.
type Version struct {
	counters  []Counter
	bestIndex int
}

// NewVersion returns an empty version vector, equivalent to the zero
// value.
func NewVersion() Version {
	return Version{}
}

// VersionOf returns a version vector with a single counter already bumped
// for the given device, as produced when a file is first created locally.
func VersionOf(device protocol.ShortID) Version {
	v := NewVersion()
	v.Update(device)
	return v
}

// Update bumps the counter for device to max(best.Value+1, now) and makes
// it the new best counter. best.Value is strictly monotone across calls
// on the same vector (invariant 3 in the testable properties).
func (v *Version) Update(device protocol.ShortID) {
	now := uint64(time.Now().Unix())
	val := now
	if len(v.counters) > 0 {
		if b := v.counters[v.bestIndex].Value + 1; b > val {
			val = b
		}
	}
	for i := range v.counters {
		if v.counters[i].ID == device {
			v.counters[i].Value = val
			v.bestIndex = i
			return
		}
	}
	v.counters = append(v.counters, Counter{ID: device, Value: val})
	v.bestIndex = len(v.counters) - 1
}

// Best returns the counter with the maximum value. Calling Best on a
// zero-value Version (no counters) returns the zero Counter and false.
func (v Version) Best() (Counter, bool) {
	if len(v.counters) == 0 {
		return Counter{}, false
	}
	return v.counters[v.bestIndex], true
}

// Counters returns the vector's counters in insertion order. The slice
// must not be mutated by the caller.
func (v Version) Counters() []Counter {
	return v.counters
}

// Counter returns the counter at index i.
func (v Version) Counter(i int) Counter {
	return v.counters[i]
}

// Len is the number of counters in the vector.
func (v Version) Len() int {
	return len(v.counters)
}

// Contains reports whether v dominates other: v has a counter for
// other.Best().ID with a value >= other.Best().Value.
func (v Version) Contains(other Version) bool {
	best, ok := other.Best()
	if !ok {
		return true
	}
	for _, c := range v.counters {
		if c.ID == best.ID {
			return c.Value >= best.Value
		}
	}
	return false
}

// IdenticalTo reports whether v and other carry the same multiset of
// counters in the same order.
func (v Version) IdenticalTo(other Version) bool {
	if len(v.counters) != len(other.counters) {
		return false
	}
	for i := range v.counters {
		if v.counters[i] != other.counters[i] {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither vector contains the other.
func (v Version) Concurrent(other Version) bool {
	return !v.Contains(other) && !other.Contains(v)
}
