// Package diff describes cluster mutations as data rather than as direct
// method calls: each incoming protocol message, and each resolver
// decision, is first turned into a tree of Diff values, which can be
// logged, persisted, and streamed to observers before (or instead of)
// being applied to the in-memory cluster graph.
package diff

// Diff is a single cluster mutation. Concrete types live in this package;
// application logic lives in the model package's Cluster, which type
// switches over the concrete diffs it knows how to apply -- avoiding an
// import cycle between the two packages while keeping the double
// dispatch the tree-walk requires.
type Diff interface {
	// Children returns nested diffs that must be applied immediately
	// after this one (e.g. a CreateFolder always carries the
	// UpsertFolderInfo for the local device's replica as a child).
	Children() []Diff
	isDiff()
}

// base provides the child-list plumbing shared by every concrete diff.
type base struct {
	children []Diff
}

func (b *base) Children() []Diff { return b.children }
func (b *base) isDiff()          {}

// AddChild appends a nested diff to be applied right after this one.
func (b *base) AddChild(d Diff) { b.children = append(b.children, d) }

// Visitor lets an observer (e.g. the updates streamer, or a metrics
// recorder) react to each diff as it is applied, without the model
// package needing to know about the observer's concerns. Embed
// BaseVisitor to pick up no-op defaults for the methods you don't care
// about.
type Visitor interface {
	VisitCreateFolder(*CreateFolder) error
	VisitUpsertFolderInfo(*UpsertFolderInfo) error
	VisitShareFolder(*ShareFolder) error
	VisitNewFile(*NewFile) error
	VisitLocalUpdate(*LocalUpdate) error
	VisitAdvance(*Advance) error
	VisitAppendBlock(*AppendBlock) error
	VisitCloneBlock(*CloneBlock) error
	VisitBlockAck(*BlockAck) error
	VisitBlockReject(*BlockReject) error
	VisitFlushFile(*FlushFile) error
	VisitCloseTransaction(*CloseTransaction) error
}

// BaseVisitor implements Visitor with no-op methods; embed it and
// override only the cases of interest.
type BaseVisitor struct{}

func (BaseVisitor) VisitCreateFolder(*CreateFolder) error             { return nil }
func (BaseVisitor) VisitUpsertFolderInfo(*UpsertFolderInfo) error     { return nil }
func (BaseVisitor) VisitShareFolder(*ShareFolder) error               { return nil }
func (BaseVisitor) VisitNewFile(*NewFile) error                       { return nil }
func (BaseVisitor) VisitLocalUpdate(*LocalUpdate) error               { return nil }
func (BaseVisitor) VisitAdvance(*Advance) error                       { return nil }
func (BaseVisitor) VisitAppendBlock(*AppendBlock) error               { return nil }
func (BaseVisitor) VisitCloneBlock(*CloneBlock) error                 { return nil }
func (BaseVisitor) VisitBlockAck(*BlockAck) error                     { return nil }
func (BaseVisitor) VisitBlockReject(*BlockReject) error               { return nil }
func (BaseVisitor) VisitFlushFile(*FlushFile) error                   { return nil }
func (BaseVisitor) VisitCloseTransaction(*CloseTransaction) error     { return nil }

// Visit dispatches d to the matching Visitor method. Unknown concrete
// types (from a future diff kind the visitor predates) are silently
// skipped.
func Visit(d Diff, v Visitor) error {
	switch t := d.(type) {
	case *CreateFolder:
		return v.VisitCreateFolder(t)
	case *UpsertFolderInfo:
		return v.VisitUpsertFolderInfo(t)
	case *ShareFolder:
		return v.VisitShareFolder(t)
	case *NewFile:
		return v.VisitNewFile(t)
	case *LocalUpdate:
		return v.VisitLocalUpdate(t)
	case *Advance:
		return v.VisitAdvance(t)
	case *AppendBlock:
		return v.VisitAppendBlock(t)
	case *CloneBlock:
		return v.VisitCloneBlock(t)
	case *BlockAck:
		return v.VisitBlockAck(t)
	case *BlockReject:
		return v.VisitBlockReject(t)
	case *FlushFile:
		return v.VisitFlushFile(t)
	case *CloseTransaction:
		return v.VisitCloseTransaction(t)
	}
	return nil
}

// Walk applies fn to d and then, depth-first, to every descendant.
func Walk(d Diff, fn func(Diff) error) error {
	if err := fn(d); err != nil {
		return err
	}
	for _, c := range d.Children() {
		if err := Walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}
