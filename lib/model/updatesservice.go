package model

import (
	"context"
	"time"
)

// UpdatesService drains an UpdatesStreamer into out until the streamer
// runs dry, then polls at idle intervals for newly produced updates.
// Every call into the streamer runs on loop's goroutine, since the
// streamer walks FolderInfo.FileInfos -- a plain map mutated directly by
// the same goroutine that applies diffs -- and must never be read
// concurrently with that mutation. Run it under a suture.Supervisor
// alongside loop, the connection and persistence services so a panic
// here restarts just this goroutine.
type UpdatesService struct {
	loop     *Loop
	streamer *UpdatesStreamer
	out      chan<- Update
	idle     time.Duration
}

// NewUpdatesService returns a service that pushes every Update from
// streamer to out, using idle as the poll interval once the streamer is
// caught up. streamer's FolderInfo accesses are run on loop.
func NewUpdatesService(loop *Loop, streamer *UpdatesStreamer, out chan<- Update, idle time.Duration) *UpdatesService {
	return &UpdatesService{loop: loop, streamer: streamer, out: out, idle: idle}
}

// Serve implements suture.Service.
func (s *UpdatesService) Serve(ctx context.Context) error {
	timer := time.NewTimer(s.idle)
	defer timer.Stop()
	for {
		var update Update
		var ok bool
		if err := s.loop.Do(ctx, func() { update, ok = s.streamer.Next() }); err != nil {
			return err
		}
		if !ok {
			timer.Reset(s.idle)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.out <- update:
		}
	}
}
