package model

import (
	"context"
	"fmt"
	"time"

	"github.com/syncspirit/syncspirit/lib/model/diff"
	"github.com/syncspirit/syncspirit/lib/protocol"
	"github.com/thejerf/suture/v4"
)

// PeerServices supervises the outbound index-streaming goroutine for every
// peer currently attached to a cluster, restarting an individual peer's
// service on panic without taking down the others -- the same isolation
// the teacher gives its per-folder services in lib/model/model.go. It
// also owns and runs the cluster's Loop, since every UpdatesService it
// starts must read FolderInfo/streamer state on that one goroutine.
type PeerServices struct {
	cluster    *Cluster
	loop       *Loop
	supervisor *suture.Supervisor
	idle       time.Duration

	tokens map[protocol.DeviceID]suture.ServiceToken
}

// NewPeerServices builds an empty supervisor bound to cluster. idle is the
// poll interval UpdatesService uses once a peer's streamer has caught up.
func NewPeerServices(cluster *Cluster, idle time.Duration) *PeerServices {
	supervisor := suture.New("peer-services", suture.Spec{})
	loop := NewLoop(cluster)
	supervisor.Add(loop)
	return &PeerServices{
		cluster:    cluster,
		loop:       loop,
		supervisor: supervisor,
		idle:       idle,
		tokens:     make(map[protocol.DeviceID]suture.ServiceToken),
	}
}

// Apply submits d to the cluster's loop goroutine, for callers outside
// the supervised per-peer services (e.g. a connection handling a decoded
// ClusterConfig or Index message) that need to mutate the same cluster
// without racing the streaming goroutines Serve runs.
func (p *PeerServices) Apply(ctx context.Context, d diff.Diff) error {
	return p.loop.Apply(ctx, d)
}

// AddPeer starts streaming local index updates to peer over out. Calling
// AddPeer again for a peer already present first removes its prior service.
func (p *PeerServices) AddPeer(peer protocol.DeviceID, out chan<- Update) {
	p.RemovePeer(peer)
	streamer := NewUpdatesStreamer(p.cluster, peer)
	svc := NewUpdatesService(p.loop, streamer, out, p.idle)
	p.tokens[peer] = p.supervisor.Add(svc)
}

// RemovePeer stops and discards peer's streaming service, if any.
func (p *PeerServices) RemovePeer(peer protocol.DeviceID) {
	token, ok := p.tokens[peer]
	if !ok {
		return
	}
	delete(p.tokens, peer)
	if err := p.supervisor.Remove(token); err != nil {
		// Already gone (e.g. it errored out on its own); nothing to do.
		_ = err
	}
}

// Serve runs every added peer service until ctx is cancelled.
func (p *PeerServices) Serve(ctx context.Context) error {
	return p.supervisor.Serve(ctx)
}

func (p *PeerServices) String() string {
	return fmt.Sprintf("model.PeerServices@%p", p)
}
