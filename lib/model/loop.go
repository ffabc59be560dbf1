package model

import (
	"context"
	"fmt"

	"github.com/syncspirit/syncspirit/lib/model/diff"
)

// Loop is the single goroutine that owns a Cluster's mutable state:
// FolderInfo.FileInfos and friends are plain maps, safe to range and
// mutate only because exactly one goroutine ever touches them. Worker
// goroutines -- a connection's read pump, a supervised UpdatesService --
// never touch those fields directly; they submit a diff to apply or a
// closure to run and wait for the loop to get to it in turn, the same
// way the teacher's per-folder services hand mutations to a single
// runner instead of taking a lock.
type Loop struct {
	cluster *Cluster
	diffs   chan diffRequest
	funcs   chan func()
}

type diffRequest struct {
	d    diff.Diff
	done chan error
}

// NewLoop returns a Loop that will own cluster once Serve is running.
func NewLoop(cluster *Cluster) *Loop {
	return &Loop{
		cluster: cluster,
		diffs:   make(chan diffRequest),
		funcs:   make(chan func()),
	}
}

// Serve implements suture.Service: it is the only goroutine that ever
// calls Cluster.ApplyDiff or runs a submitted closure, until ctx is
// cancelled.
func (l *Loop) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-l.diffs:
			err := l.cluster.ApplyDiff(req.d)
			if req.done != nil {
				req.done <- err
			}
		case fn := <-l.funcs:
			fn()
		}
	}
}

func (l *Loop) String() string { return fmt.Sprintf("model.Loop@%p", l) }

// Apply submits d to the loop goroutine and blocks until it has been
// applied (or ctx is cancelled first).
func (l *Loop) Apply(ctx context.Context, d diff.Diff) error {
	done := make(chan error, 1)
	select {
	case l.diffs <- diffRequest{d: d, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop goroutine and blocks until it returns. It is
// the seam a worker goroutine uses for a read that must not race with a
// concurrent ApplyDiff -- e.g. walking FolderInfo.FileInfos through an
// UpdatesStreamer.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	signal := make(chan struct{})
	wrapped := func() {
		fn()
		close(signal)
	}
	select {
	case l.funcs <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
