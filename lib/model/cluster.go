package model

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/syncspirit/syncspirit/lib/model/diff"
	"github.com/syncspirit/syncspirit/lib/protocol"
)

var (
	clusterTaintedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "syncspirit_cluster_tainted_total",
		Help: "Number of times a cluster was marked tainted after an unrecoverable apply failure.",
	})
	clusterWriteRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "syncspirit_cluster_write_requests",
		Help: "Current in-flight persistence write-request budget.",
	})
)

func init() {
	prometheus.MustRegister(clusterTaintedTotal, clusterWriteRequests)
}

// randReader adapts a math/rand.Rand into an io.Reader so google/uuid can
// draw from a deterministically seeded source -- used so two clusters
// built from the same seed produce identical UUID streams, which the
// test suite relies on for reproducible fixtures.
type randReader struct{ r *rand.Rand }

func (rr randReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

// Cluster is the top-level in-memory aggregate: the local device, every
// known remote device, every folder and its per-device replicas, the
// content-addressed block pool, and the bookkeeping (path cache, path
// lock registry, write-request budget, taint latch) shared across all of
// them. A single goroutine (see UpdatesStreamer / the diff-applying
// supervisor) owns mutation; concurrent registries let readers (the
// status API, metrics scrape) observe without blocking that goroutine.
type Cluster struct {
	Device protocol.DeviceID

	Devices         *xsync.MapOf[protocol.DeviceID, struct{}]
	Folders         *xsync.MapOf[string, *Folder]
	PendingFolders  *xsync.MapOf[string, *FolderMsg]
	IgnoredDevices  *xsync.MapOf[protocol.DeviceID, struct{}]
	IgnoredFolders  *xsync.MapOf[string, struct{}]

	// RemoteViews tracks, for every (peer, folder, device) triple learned
	// from an incoming ClusterConfig, what that peer claims to know about
	// device's replica -- not necessarily a replica the local device
	// shares directly, since an introducer's ClusterConfig lists every
	// device it knows on a folder, not just itself.
	RemoteViews *xsync.MapOf[RemoteViewKey, RemoteViewEntry]

	Blocks    *BlockStore
	PathCache *PathCache

	locks *xsync.MapOf[string, struct{}]

	rng *rand.Rand

	tainted       bool
	writeRequests int32
}

// RemoteViewKey identifies one (reporting peer, folder, described
// device) triple within Cluster.RemoteViews.
type RemoteViewKey struct {
	Peer     protocol.DeviceID
	FolderID string
	Device   protocol.DeviceID
}

// RemoteViewEntry is what a peer's ClusterConfig most recently claimed
// about one device's replica of one folder.
type RemoteViewEntry struct {
	Index       uint64
	MaxSequence int64
}

// NewCluster returns a cluster for the local device, seeded for
// deterministic UUID/uint64 generation (pass a fixed seed in tests, or a
// value derived from crypto/rand.Read in production), with an initial
// persistence write-request budget.
func NewCluster(device protocol.DeviceID, seed int64, writeRequests int32) *Cluster {
	return &Cluster{
		Device:         device,
		Devices:        xsync.NewMapOf[protocol.DeviceID, struct{}](),
		Folders:        xsync.NewMapOf[string, *Folder](),
		PendingFolders: xsync.NewMapOf[string, *FolderMsg](),
		IgnoredDevices: xsync.NewMapOf[protocol.DeviceID, struct{}](),
		IgnoredFolders: xsync.NewMapOf[string, struct{}](),
		RemoteViews:    xsync.NewMapOf[RemoteViewKey, RemoteViewEntry](),
		Blocks:         NewBlockStore(4096),
		PathCache:      NewPathCache(8192),
		locks:          xsync.NewMapOf[string, struct{}](),
		rng:            rand.New(rand.NewSource(seed)),
		writeRequests:  writeRequests,
	}
}

// NextUUID returns a fresh random (v4) UUID string, drawn from the
// cluster's seeded source.
func (c *Cluster) NextUUID() string {
	id, err := uuid.NewRandomFromReader(randReader{c.rng})
	if err != nil {
		panic("model: seeded uuid generation failed: " + err.Error())
	}
	return id.String()
}

// NextUint64 returns a fresh pseudo-random uint64 from the cluster's
// seeded source, used for index-generation identifiers.
func (c *Cluster) NextUint64() uint64 { return c.rng.Uint64() }

func (c *Cluster) IsTainted() bool { return c.tainted }

// MarkTainted latches the cluster into a permanently degraded state
// after an unrecoverable diff-apply failure; callers should stop
// accepting further mutations and surface the condition for a restart.
func (c *Cluster) MarkTainted() {
	if !c.tainted {
		clusterTaintedTotal.Inc()
	}
	c.tainted = true
}

func (c *Cluster) WriteRequests() int32 { return c.writeRequests }

// ModifyWriteRequests adjusts the persistence write-request budget by
// delta; it must never go negative.
func (c *Cluster) ModifyWriteRequests(delta int32) {
	c.writeRequests += delta
	if c.writeRequests < 0 {
		panic("model: cluster write-request budget went negative")
	}
	clusterWriteRequests.Set(float64(c.writeRequests))
}

// LockPath acquires the cluster-wide lock for path, used to serialize
// concurrent synchronization attempts against the same file. Returns
// false if already locked.
func (c *Cluster) LockPath(path string) (release func(), ok bool) {
	if _, loaded := c.locks.LoadOrStore(path, struct{}{}); loaded {
		return nil, false
	}
	return func() { c.locks.Delete(path) }, true
}

// Generate builds the ClusterConfig to send to target: one Folder entry
// per folder shared with target, each carrying every device's replica
// bookkeeping (matches folder_t::generate in the design this was ported
// from).
func (c *Cluster) Generate(target protocol.DeviceID) ClusterConfigMsg {
	var out ClusterConfigMsg
	c.Folders.Range(func(_ string, f *Folder) bool {
		if _, ok := f.IsSharedWith(target); !ok {
			return true
		}
		fm := FolderMsg{ID: f.ID, Label: f.Label, ReadOnly: f.ReadOnly, Paused: f.Paused}
		for dev, fi := range f.FolderInfos {
			fm.Devices = append(fm.Devices, DeviceMsg{
				ID:          dev,
				IndexID:     fi.Index,
				MaxSequence: fi.MaxSequence,
			})
		}
		out.Folders = append(out.Folders, fm)
		return true
	})
	return out
}

// ProcessClusterConfig turns an incoming ClusterConfig message from peer
// into a diff tree, mirroring cluster_t::process in the design this was
// ported from:
//
//  1. for every folder the local device already shares, upsert peer's
//     own replica bookkeeping (index generation, high-water sequence);
//  2. any folder msg names that the local cluster does not yet know
//     about becomes a pending folder offer, surfaced to the operator
//     (per the excluded config/GUI layer) rather than created outright;
//  3. for every device msg lists on a folder -- including devices other
//     than peer itself, as introduced by that folder's introducer --
//     record what peer claims to know about that device's replica.
func (c *Cluster) ProcessClusterConfig(msg ClusterConfigMsg, peer protocol.DeviceID) ([]diff.Diff, error) {
	var out []diff.Diff
	for _, fm := range msg.Folders {
		folder, known := c.Folders.Load(fm.ID)
		if !known {
			out = append(out, registerPendingFolderDiff(fm))
			continue
		}

		if _, sharedLocally := folder.IsSharedWith(c.Device); sharedLocally {
			for _, dm := range fm.Devices {
				if dm.ID != peer {
					continue
				}
				out = append(out, &diff.UpsertFolderInfo{
					UUID:        c.NextUUID(),
					Device:      dm.ID,
					FolderID:    fm.ID,
					Index:       dm.IndexID,
					MaxSequence: dm.MaxSequence,
				})
			}
		}

		for _, dm := range fm.Devices {
			out = append(out, &diff.UpsertRemoteView{
				Peer:        peer,
				FolderID:    fm.ID,
				Device:      dm.ID,
				Index:       dm.IndexID,
				MaxSequence: dm.MaxSequence,
			})
		}
	}
	return out, nil
}

func registerPendingFolderDiff(fm FolderMsg) *diff.RegisterPendingFolder {
	devices := make([]diff.PendingFolderDevice, len(fm.Devices))
	for i, dm := range fm.Devices {
		devices[i] = diff.PendingFolderDevice{ID: dm.ID, IndexID: dm.IndexID, MaxSequence: dm.MaxSequence}
	}
	return &diff.RegisterPendingFolder{
		ID:       fm.ID,
		Label:    fm.Label,
		ReadOnly: fm.ReadOnly,
		Paused:   fm.Paused,
		Devices:  devices,
	}
}

// ProcessIndex turns a full Index message for one folder into a diff
// tree: every file in msg becomes a NewFile (when unseen at the sending
// device's replica) or feeds into the resolver via an Advance diff
// (when a local replica of the same file already exists). The resolver
// itself (C8) produces the Advance action; this method only shapes the
// per-file NewFile/Advance split.
func (c *Cluster) ProcessIndex(msg IndexMsg, peer protocol.DeviceID) ([]diff.Diff, error) {
	folder, ok := c.Folders.Load(msg.Folder)
	if !ok {
		return nil, fmt.Errorf("model: index for unknown folder %q", msg.Folder)
	}
	peerInfo, ok := folder.IsSharedWith(peer)
	if !ok {
		return nil, fmt.Errorf("model: index from device not sharing folder %q", msg.Folder)
	}

	var out []diff.Diff
	for _, fm := range msg.Files {
		existing, exists := peerInfo.ByName(fm.Name)
		if !exists {
			out = append(out, newFileDiff(folder.ID, peer, fm))
			continue
		}
		action := Resolve(c, folder, peer, existing)
		a := &diff.Advance{
			FolderID:     folder.ID,
			SourceDevice: peer,
			FileUUID:     existing.UUID,
			Action:       action,
		}
		if action == diff.AdvanceResolveRemoteWin {
			if local, ok := folder.IsSharedWith(c.Device); ok {
				if localFile, ok := local.ByName(fm.Name); ok {
					a.ConflictingName = localFile.MakeConflictingName()
				}
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// ProcessIndexUpdate is the incremental counterpart of ProcessIndex; its
// file-level shaping is identical, the distinction (full replace vs.
// incremental amendment) only matters to the persistence layer that
// decides whether to clear the replica's file set first.
func (c *Cluster) ProcessIndexUpdate(msg IndexUpdateMsg, peer protocol.DeviceID) ([]diff.Diff, error) {
	return c.ProcessIndex(IndexMsg{Folder: msg.Folder, Files: msg.Files}, peer)
}

func newFileDiff(folderID string, device protocol.DeviceID, fm FileInfoMsg) *diff.NewFile {
	hashes := make([][32]byte, len(fm.Blocks))
	sizes := make([]int32, len(fm.Blocks))
	for i, b := range fm.Blocks {
		hashes[i] = b.Hash
		sizes[i] = b.Size
	}
	return &diff.NewFile{
		FolderID:    folderID,
		Device:      device,
		Name:        fm.Name,
		IncSequence: false,
		BlockHashes: hashes,
		BlockSizes:  sizes,
	}
}

// ApplyDiff walks d depth-first, mutating the cluster for each node in
// turn. An error on any node aborts the walk and latches the cluster
// tainted, since a partially-applied diff leaves the cluster graph in an
// indeterminate state no further diff can safely build on. Once the
// cluster is tainted, ApplyDiff rejects every further diff with an error
// and applies none of it.
func (c *Cluster) ApplyDiff(d diff.Diff) error {
	if c.tainted {
		return fmt.Errorf("model: cluster is tainted, diff rejected")
	}
	if err := diff.Walk(d, c.applyOne); err != nil {
		c.MarkTainted()
		return err
	}
	return nil
}

func (c *Cluster) applyOne(d diff.Diff) error {
	switch t := d.(type) {
	case *diff.CreateFolder:
		return c.applyCreateFolder(t)
	case *diff.UpsertFolderInfo:
		return c.applyUpsertFolderInfo(t)
	case *diff.RegisterPendingFolder:
		return c.applyRegisterPendingFolder(t)
	case *diff.UpsertRemoteView:
		return c.applyUpsertRemoteView(t)
	case *diff.ShareFolder:
		return c.applyShareFolder(t)
	case *diff.NewFile:
		return c.applyNewFile(t)
	case *diff.LocalUpdate:
		return c.applyLocalUpdate(t)
	case *diff.Advance:
		return c.applyAdvance(t)
	case *diff.FlushFile:
		return c.applyFlushFile(t)
	case *diff.CloseTransaction:
		return nil
	default:
		return fmt.Errorf("model: no applier registered for diff type %T", d)
	}
}

func (c *Cluster) applyCreateFolder(d *diff.CreateFolder) error {
	if _, exists := c.Folders.Load(d.ID); exists {
		return fmt.Errorf("model: folder %q already exists", d.ID)
	}
	f := NewFolder(d.UUID, d.ID, d.Label)
	f.ReadOnly = d.ReadOnly
	f.AssignCluster(c)
	c.Folders.Store(d.ID, f)
	return nil
}

func (c *Cluster) applyUpsertFolderInfo(d *diff.UpsertFolderInfo) error {
	f, ok := c.Folders.Load(d.FolderID)
	if !ok {
		return fmt.Errorf("model: upsert folder info for unknown folder %q", d.FolderID)
	}
	fi, ok := f.IsSharedWith(d.Device)
	if !ok {
		fi = NewFolderInfo(d.UUID, d.Device, f)
		f.Add(fi)
	}
	fi.SetIndex(d.Index)
	if d.MaxSequence > fi.MaxSequence {
		fi.MaxSequence = d.MaxSequence
	}
	return nil
}

// applyRegisterPendingFolder stores d as a pending folder offer, the
// sole mutation ProcessClusterConfig performs for a folder unknown to
// the local cluster.
func (c *Cluster) applyRegisterPendingFolder(d *diff.RegisterPendingFolder) error {
	fm := &FolderMsg{ID: d.ID, Label: d.Label, ReadOnly: d.ReadOnly, Paused: d.Paused}
	for _, dm := range d.Devices {
		fm.Devices = append(fm.Devices, DeviceMsg{ID: dm.ID, IndexID: dm.IndexID, MaxSequence: dm.MaxSequence})
	}
	c.PendingFolders.Store(d.ID, fm)
	return nil
}

// applyUpsertRemoteView records what d.Peer's ClusterConfig claimed
// about d.Device's replica of d.FolderID.
func (c *Cluster) applyUpsertRemoteView(d *diff.UpsertRemoteView) error {
	key := RemoteViewKey{Peer: d.Peer, FolderID: d.FolderID, Device: d.Device}
	c.RemoteViews.Store(key, RemoteViewEntry{Index: d.Index, MaxSequence: d.MaxSequence})
	return nil
}

func (c *Cluster) applyShareFolder(d *diff.ShareFolder) error {
	f, ok := c.Folders.Load(d.FolderID)
	if !ok {
		return fmt.Errorf("model: share unknown folder %q", d.FolderID)
	}
	if _, exists := f.IsSharedWith(d.Device); exists {
		return nil
	}
	f.Add(NewFolderInfo(c.NextUUID(), d.Device, f))
	c.Devices.Store(d.Device, struct{}{})
	return nil
}

func (c *Cluster) applyNewFile(d *diff.NewFile) error {
	f, ok := c.Folders.Load(d.FolderID)
	if !ok {
		return fmt.Errorf("model: new file in unknown folder %q", d.FolderID)
	}
	fi, ok := f.IsSharedWith(d.Device)
	if !ok {
		return fmt.Errorf("model: new file for device not sharing folder %q", d.FolderID)
	}

	name := c.PathCache.Intern(d.Name)
	short := d.Device.Short()
	file := NewFileInfo(d.FileUUID, fi.UUID, name, FlagTypeFile, short)
	if d.IncSequence {
		file.Sequence = fi.MaxSequence + 1
	}

	for i, h := range d.BlockHashes {
		b := c.Blocks.ByHash(h)
		if b == nil {
			b = NewBlock(h, d.BlockSizes[i])
			c.Blocks.Put(b, false)
		}
		if err := file.AssignBlock(c.Blocks, b, i); err != nil {
			return err
		}
	}
	fi.Add(file, d.IncSequence)
	return nil
}

func (c *Cluster) applyLocalUpdate(d *diff.LocalUpdate) error {
	f, ok := c.Folders.Load(d.FolderID)
	if !ok {
		return fmt.Errorf("model: local update in unknown folder %q", d.FolderID)
	}
	fi, ok := f.IsSharedWith(c.Device)
	if !ok {
		return fmt.Errorf("model: local update without a local replica of folder %q", d.FolderID)
	}
	file, ok := fi.FileInfos[d.FileUUID]
	if !ok {
		return fmt.Errorf("model: local update for unknown file %q", d.FileUUID)
	}
	file.MarkUnreachable(false)
	file.Size = d.Size
	if d.Deleted {
		file.flags |= FlagDeleted
	}
	file.Version.Update(file.ModifiedBy)
	return nil
}

func (c *Cluster) applyAdvance(d *diff.Advance) error {
	f, ok := c.Folders.Load(d.FolderID)
	if !ok {
		return fmt.Errorf("model: advance in unknown folder %q", d.FolderID)
	}
	local, ok := f.IsSharedWith(c.Device)
	if !ok {
		return fmt.Errorf("model: advance without a local replica of folder %q", d.FolderID)
	}
	switch d.Action {
	case diff.AdvanceIgnore:
		return nil
	case diff.AdvanceResolveRemoteWin:
		if file, ok := local.FileInfos[d.FileUUID]; ok && d.ConflictingName != "" {
			file.Name = c.PathCache.Intern(d.ConflictingName)
		}
		return nil
	case diff.AdvanceRemoteCopy, diff.AdvanceLocalUpdate:
		return nil
	default:
		return fmt.Errorf("model: unknown advance action %d", d.Action)
	}
}

func (c *Cluster) applyFlushFile(d *diff.FlushFile) error {
	f, ok := c.Folders.Load(d.FolderID)
	if !ok {
		return fmt.Errorf("model: flush file in unknown folder %q", d.FolderID)
	}
	local, ok := f.IsSharedWith(c.Device)
	if !ok {
		return nil
	}
	file, ok := local.FileInfos[d.FileUUID]
	if !ok {
		return fmt.Errorf("model: flush unknown file %q", d.FileUUID)
	}
	for i := range file.Blocks {
		file.MarkLocalAvailable(c.Blocks, i)
	}
	return nil
}

var _ io.Reader = randReader{}
