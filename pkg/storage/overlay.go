package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// DiffOverlay is a transaction's private view of a base dataset.
//
// Writes go to two in-memory indexes: positives (added, not yet committed) and
// negatives (removed, not yet committed). The base is only read until Commit.
// The multiplicity seen through the overlay is
//
//	base + positives - negatives
//
// A quad is never held by positives and negatives at the same time: an add
// first cancels a pending removal and a removal first cancels a pending add.
//
// # ELI12
//
// Think of the base dataset as a printed book and the overlay as sticky notes.
// "Add this line" notes and "cross out this line" notes sit on top of the
// page. Reading through the notes shows the edited page. Commit types the
// notes into the book; Rollback throws them away.
//
// Example:
//
//	overlay := storage.NewDiffOverlay(base)
//	view := storage.NewQuadSet(overlay)
//	_ = view.Remove(q) // base untouched
//	_ = view.Add(q)    // cancels the pending removal
//	cs, _ := overlay.Commit()
//	fmt.Println(cs.IsEmpty()) // true
type DiffOverlay struct {
	base      Dataset
	positives *QuadIndex
	negatives *QuadIndex
	closed    bool
}

var _ Storage = (*DiffOverlay)(nil)

// NewDiffOverlay returns an empty overlay on base.
func NewDiffOverlay(base Dataset) *DiffOverlay {
	return &DiffOverlay{base: base}
}

// Base returns the dataset under the overlay.
func (o *DiffOverlay) Base() Dataset { return o.base }

// IsDirty reports whether the overlay holds uncommitted changes.
func (o *DiffOverlay) IsDirty() bool {
	return (o.positives != nil && o.positives.Len() > 0) || (o.negatives != nil && o.negatives.Len() > 0)
}

func (o *DiffOverlay) pos() *QuadIndex {
	if o.positives == nil {
		o.positives = NewQuadIndex()
	}
	return o.positives
}

func (o *DiffOverlay) neg() *QuadIndex {
	if o.negatives == nil {
		o.negatives = NewQuadIndex()
	}
	return o.negatives
}

func (o *DiffOverlay) posCount(q rdf.Quad) int64 {
	if o.positives == nil {
		return 0
	}
	return o.positives.multiplicity(q)
}

func (o *DiffOverlay) negCount(q rdf.Quad) int64 {
	if o.negatives == nil {
		return 0
	}
	return o.negatives.multiplicity(q)
}

// Multiplicity implements Storage.
func (o *DiffOverlay) Multiplicity(q rdf.Quad) (int64, error) {
	if o.closed {
		return 0, ErrTransactionClosed
	}
	if q.IsPattern() {
		var total int64
		err := o.Scan(context.Background(), q, func(cq CountedQuad) error {
			total += cq.Multiplicity
			return nil
		})
		return total, err
	}
	bm, err := o.base.Multiplicity(q)
	if err != nil {
		return 0, err
	}
	return bm + o.posCount(q) - o.negCount(q), nil
}

// Scan implements Storage. Base quads come first with their adjusted
// multiplicity; quads that only exist in positives follow.
func (o *DiffOverlay) Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	if o.closed {
		return ErrTransactionClosed
	}
	halted := false
	visit := func(cq CountedQuad) error {
		err := fn(cq)
		if stopped(err) {
			halted = true
		}
		return err
	}

	err := o.base.Stream(ctx, pattern, func(cq CountedQuad) error {
		m := cq.Multiplicity + o.posCount(cq.Quad) - o.negCount(cq.Quad)
		if m <= 0 {
			return nil
		}
		return visit(CountedQuad{Quad: cq.Quad, Multiplicity: m})
	})
	if err != nil || halted || o.positives == nil {
		return err
	}

	err = o.positives.Scan(ctx, pattern, func(cq CountedQuad) error {
		bm, err := o.base.Multiplicity(cq.Quad)
		if err != nil {
			return err
		}
		if bm > 0 {
			return nil
		}
		return visit(cq)
	})
	return err
}

// Count implements Storage.
func (o *DiffOverlay) Count(pattern rdf.Quad) (int64, error) {
	var n int64
	err := o.Scan(context.Background(), pattern, func(CountedQuad) error {
		n++
		return nil
	})
	return n, err
}

// Graphs implements Storage.
func (o *DiffOverlay) Graphs() ([]rdf.Node, error) {
	if o.closed {
		return nil, ErrTransactionClosed
	}
	candidates, err := o.base.Graphs()
	if err != nil {
		return nil, err
	}
	if o.positives != nil {
		pg, _ := o.positives.Graphs()
		candidates = append(candidates, pg...)
	}
	seen := make(map[rdf.Node]struct{}, len(candidates))
	var out []rdf.Node
	for _, g := range candidates {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		n, err := o.firstMatch(rdf.Quad{Graph: g})
		if err != nil {
			return nil, err
		}
		if n {
			out = append(out, g)
		}
	}
	return out, nil
}

func (o *DiffOverlay) firstMatch(pattern rdf.Quad) (bool, error) {
	found := false
	err := o.Scan(context.Background(), pattern, func(CountedQuad) error {
		found = true
		return ErrStopScan
	})
	return found, err
}

// AddQuad implements Storage.
//
// A pending removal is cancelled first; the result is then INCREMENT if the
// quad was visible before the add, NEW otherwise.
func (o *DiffOverlay) AddQuad(q rdf.Quad) (AddResult, error) {
	if o.closed {
		return 0, ErrTransactionClosed
	}
	if err := checkQuad(q); err != nil {
		return 0, err
	}
	bm, err := o.base.Multiplicity(q)
	if err != nil {
		return 0, err
	}
	if nm := o.negCount(q); nm > 0 {
		if _, err := o.negatives.RemoveQuad(q); err != nil {
			return 0, err
		}
		if bm-nm > 0 {
			return AddIncrement, nil
		}
		return AddNew, nil
	}
	pm := o.posCount(q)
	if _, err := o.pos().AddQuad(q); err != nil {
		return 0, err
	}
	if bm+pm > 0 {
		return AddIncrement, nil
	}
	return AddNew, nil
}

// RemoveQuad implements Storage.
//
// A pending add is cancelled first. Otherwise the removal is recorded as a
// negative, provided the quad is visible at all.
func (o *DiffOverlay) RemoveQuad(q rdf.Quad) (RemoveResult, error) {
	if o.closed {
		return RemoveNotFound, ErrTransactionClosed
	}
	if err := checkQuad(q); err != nil {
		return RemoveNotFound, err
	}
	bm, err := o.base.Multiplicity(q)
	if err != nil {
		return RemoveNotFound, err
	}
	if pm := o.posCount(q); pm > 0 {
		if _, err := o.positives.RemoveQuad(q); err != nil {
			return RemoveNotFound, err
		}
		if pm-1 > 0 || bm > 0 {
			return RemoveDecrement, nil
		}
		return RemoveRemoved, nil
	}
	combined := bm - o.negCount(q)
	if combined <= 0 {
		return RemoveNotFound, nil
	}
	if _, err := o.neg().AddQuad(q); err != nil {
		return RemoveNotFound, err
	}
	if combined-1 > 0 {
		return RemoveDecrement, nil
	}
	return RemoveRemoved, nil
}

// matches materialises the visible quads matching pattern so the overlay can
// be mutated afterwards.
func (o *DiffOverlay) matches(pattern rdf.Quad) ([]CountedQuad, error) {
	return collect(context.Background(), pattern, o.Scan)
}

// drop removes every visible unit of cq.
func (o *DiffOverlay) drop(cq CountedQuad) error {
	for i := int64(0); i < cq.Multiplicity; i++ {
		if _, err := o.RemoveQuad(cq.Quad); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMatching implements Storage.
func (o *DiffOverlay) RemoveMatching(pattern rdf.Quad, buf *Buffer) error {
	if err := checkPattern(pattern); err != nil {
		return err
	}
	found, err := o.matches(pattern)
	if err != nil {
		return err
	}
	if buf == nil {
		buf = &Buffer{}
	}
	for _, cq := range found {
		r, err := o.RemoveQuad(cq.Quad)
		if err != nil {
			return err
		}
		switch {
		case r.Gone():
			buf.Removed = append(buf.Removed, cq.Quad)
		case r == RemoveDecrement:
			buf.Decremented = append(buf.Decremented, cq.Quad)
		}
	}
	return nil
}

// ClearAll implements Storage.
func (o *DiffOverlay) ClearAll(buf *Buffer) error {
	return o.clear(rdf.Quad{}, buf)
}

// ClearGraph implements Storage.
func (o *DiffOverlay) ClearGraph(graph rdf.Node, buf *Buffer) error {
	if err := checkGraph(graph); err != nil {
		return err
	}
	return o.clear(rdf.Quad{Graph: graph}, buf)
}

func (o *DiffOverlay) clear(pattern rdf.Quad, buf *Buffer) error {
	found, err := o.matches(pattern)
	if err != nil {
		return err
	}
	for _, cq := range found {
		if err := o.drop(cq); err != nil {
			return err
		}
		if buf != nil {
			buf.Removed = append(buf.Removed, cq.Quad)
		}
	}
	return nil
}

type triple struct {
	s, p, o rdf.Node
}

func tripleOf(q rdf.Quad) triple { return triple{q.Subject, q.Predicate, q.Object} }

func (t triple) in(g rdf.Node) rdf.Quad { return rdf.NewQuad(g, t.s, t.p, t.o) }

// graphTriples returns the visible quads of g keyed by their triple.
func (o *DiffOverlay) graphTriples(g rdf.Node) (map[triple]CountedQuad, error) {
	found, err := o.matches(rdf.Quad{Graph: g})
	if err != nil {
		return nil, err
	}
	out := make(map[triple]CountedQuad, len(found))
	for _, cq := range found {
		out[tripleOf(cq.Quad)] = cq
	}
	return out, nil
}

// CopyGraph implements Storage with the same semantics as QuadIndex.CopyGraph,
// applied through the cancellation-aware add and remove paths.
func (o *DiffOverlay) CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error {
	return o.relocate(origin, target, overwrite, false, buf)
}

// MoveGraph implements Storage with the same semantics as QuadIndex.MoveGraph.
func (o *DiffOverlay) MoveGraph(origin, target rdf.Node, buf *Buffer) error {
	return o.relocate(origin, target, true, true, buf)
}

func (o *DiffOverlay) relocate(origin, target rdf.Node, overwrite, move bool, buf *Buffer) error {
	if o.closed {
		return ErrTransactionClosed
	}
	if err := checkGraph(origin); err != nil {
		return err
	}
	if err := checkGraph(target); err != nil {
		return err
	}
	if origin == target {
		return nil
	}
	if buf == nil {
		buf = &Buffer{}
	}
	from, err := o.graphTriples(origin)
	if err != nil {
		return errors.Wrap(err, "read origin graph")
	}
	to, err := o.graphTriples(target)
	if err != nil {
		return errors.Wrap(err, "read target graph")
	}

	for t, cq := range from {
		if move {
			if err := o.drop(cq); err != nil {
				return err
			}
			buf.Old = append(buf.Old, cq.Quad)
		}
		r, err := o.AddQuad(t.in(target))
		if err != nil {
			return err
		}
		if _, existed := to[t]; !existed && r == AddNew {
			buf.New = append(buf.New, t.in(target))
		}
	}
	if !overwrite {
		return nil
	}
	for t, cq := range to {
		if _, ok := from[t]; ok {
			continue
		}
		if err := o.drop(cq); err != nil {
			return err
		}
		buf.Old = append(buf.Old, cq.Quad)
	}
	return nil
}

// Changeset returns the pending changes, each quad listed once per unit of
// multiplicity.
func (o *DiffOverlay) Changeset() *Changeset {
	cs := &Changeset{}
	if o.positives != nil {
		o.positives.Walk(rdf.Quad{}, func(q rdf.Quad, m int64) (int64, bool) {
			for i := int64(0); i < m; i++ {
				cs.Added = append(cs.Added, q)
			}
			return m, false
		})
	}
	if o.negatives != nil {
		o.negatives.Walk(rdf.Quad{}, func(q rdf.Quad, m int64) (int64, bool) {
			for i := int64(0); i < m; i++ {
				cs.Removed = append(cs.Removed, q)
			}
			return m, false
		})
	}
	return cs
}

// Touched returns the distinct quads with pending changes.
func (o *DiffOverlay) Touched() []rdf.Quad {
	var out []rdf.Quad
	for _, idx := range []*QuadIndex{o.positives, o.negatives} {
		if idx == nil {
			continue
		}
		idx.Walk(rdf.Quad{}, func(q rdf.Quad, m int64) (int64, bool) {
			out = append(out, q)
			return m, false
		})
	}
	return out
}

// Commit applies the pending changes to the base as one Insert and empties
// the overlay. It returns the applied changeset. On error the overlay keeps
// its changes.
func (o *DiffOverlay) Commit() (*Changeset, error) {
	if o.closed {
		return nil, ErrTransactionClosed
	}
	cs := o.Changeset()
	if !cs.IsEmpty() {
		if err := o.base.Insert(cs); err != nil {
			return nil, errors.Wrap(err, "commit overlay")
		}
	}
	o.Rollback()
	return cs, nil
}

// Close discards the pending changes and makes every later call fail with
// ErrTransactionClosed.
func (o *DiffOverlay) Close() {
	o.Rollback()
	o.closed = true
}

// Closed reports whether Close was called.
func (o *DiffOverlay) Closed() bool { return o.closed }

// Rollback discards the pending changes.
func (o *DiffOverlay) Rollback() {
	o.positives = nil
	o.negatives = nil
}
