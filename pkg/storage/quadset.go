package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// ExecutionManager receives the functions defined in a dataset.
//
// A quad (f, xowl:definedAs, $(expr)) with an IRI subject defines the function
// f. The manager is told when such a quad appears and when it is fully removed.
type ExecutionManager interface {
	RegisterFunction(iri string, expr rdf.Evaluable)
	UnregisterFunction(iri string)
}

// QuadSetOption configures a QuadSet.
type QuadSetOption func(*QuadSet)

// WithExecutionManager attaches m at construction.
func WithExecutionManager(m ExecutionManager) QuadSetOption {
	return func(d *QuadSet) { d.exec = m }
}

// ReadOnly makes every mutating method fail with ErrReadOnly.
func ReadOnly() QuadSetOption {
	return func(d *QuadSet) { d.readOnly = true }
}

// QuadSet is the mutable Dataset built on a Storage.
//
// It turns storage result codes into change notifications:
//   - Add fires OnAdded or OnIncremented
//   - Remove of a concrete quad fires OnRemoved or OnDecremented
//   - Remove of a pattern, Insert, Clear, Copy and Move fire one OnChange,
//     and only when something changed
//
// Function definitions (see ExecutionManager) are forwarded as they are added
// and removed.
//
// Example:
//
//	ds := storage.NewQuadSet(storage.NewQuadIndex())
//	ds.AddListener(&storage.ListenerFuncs{
//		Change: func(cs *storage.Changeset) { fmt.Println(len(cs.Added), "added") },
//	})
//	_ = ds.Insert(storage.ChangesetFromAdded([]rdf.Quad{a, b})) // "2 added"
type QuadSet struct {
	storage   Storage
	listeners listeners
	exec      ExecutionManager
	readOnly  bool
}

var _ Dataset = (*QuadSet)(nil)

// NewQuadSet wraps s.
func NewQuadSet(s Storage, opts ...QuadSetOption) *QuadSet {
	d := &QuadSet{storage: s}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Storage returns the underlying storage.
func (d *QuadSet) Storage() Storage { return d.storage }

// SetExecutionManager attaches m and registers every function already defined
// in the dataset. A nil m detaches the current manager.
func (d *QuadSet) SetExecutionManager(m ExecutionManager) error {
	d.exec = m
	if m == nil {
		return nil
	}
	return d.storage.Scan(context.Background(), rdf.Quad{Predicate: rdf.DefinedAs}, func(cq CountedQuad) error {
		d.quadAdded(cq.Quad)
		return nil
	})
}

func (d *QuadSet) AddListener(l ChangeListener)    { d.listeners.add(l) }
func (d *QuadSet) RemoveListener(l ChangeListener) { d.listeners.remove(l) }

func (d *QuadSet) Multiplicity(q rdf.Quad) (int64, error) { return d.storage.Multiplicity(q) }

func (d *QuadSet) Stream(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	return d.storage.Scan(ctx, pattern, fn)
}

func (d *QuadSet) GetAll(pattern rdf.Quad) ([]CountedQuad, error) {
	return collect(context.Background(), pattern, d.storage.Scan)
}

func (d *QuadSet) Count(pattern rdf.Quad) (int64, error) { return d.storage.Count(pattern) }

func (d *QuadSet) Graphs() ([]rdf.Node, error) { return d.storage.Graphs() }

// Insert applies every added quad, then every removed quad, and fires a single
// OnChange describing the net effect. Quads are validated before any is
// applied. When the storage is a Batcher the whole changeset is applied in one
// batch and listeners are notified only if the batch succeeds.
func (d *QuadSet) Insert(cs *Changeset) error {
	if d.readOnly {
		return ErrReadOnly
	}
	if cs == nil || (len(cs.Added) == 0 && len(cs.Removed) == 0) {
		return nil
	}
	for _, q := range cs.Added {
		if err := checkQuad(q); err != nil {
			return err
		}
	}
	for _, q := range cs.Removed {
		if err := checkQuad(q); err != nil {
			return err
		}
	}

	var out Changeset
	apply := func(s Storage) error {
		out = Changeset{}
		for _, q := range cs.Added {
			r, err := s.AddQuad(q)
			if err != nil {
				return err
			}
			if r == AddNew {
				out.Added = append(out.Added, q)
			} else {
				out.Incremented = append(out.Incremented, q)
			}
		}
		for _, q := range cs.Removed {
			r, err := s.RemoveQuad(q)
			if err != nil {
				return err
			}
			switch {
			case r.Gone():
				out.Removed = append(out.Removed, q)
			case r == RemoveDecrement:
				out.Decremented = append(out.Decremented, q)
			}
		}
		return nil
	}

	var err error
	if b, ok := d.storage.(Batcher); ok {
		err = b.Batch(apply)
	} else {
		err = apply(d.storage)
	}
	if err != nil {
		return errors.Wrap(err, "insert changeset")
	}

	for _, q := range out.Added {
		d.quadAdded(q)
	}
	for _, q := range out.Removed {
		d.quadRemoved(q)
	}
	d.listeners.changed(&out)
	return nil
}

// Add adds one quad.
func (d *QuadSet) Add(q rdf.Quad) error {
	if d.readOnly {
		return ErrReadOnly
	}
	r, err := d.storage.AddQuad(q)
	if err != nil {
		return err
	}
	if r == AddNew {
		d.quadAdded(q)
		d.listeners.added(q)
	} else {
		d.listeners.incremented(q)
	}
	return nil
}

// Remove removes one unit of q. When q has wildcards, one unit of every
// matching quad is removed and a single OnChange is fired.
func (d *QuadSet) Remove(q rdf.Quad) error {
	if d.readOnly {
		return ErrReadOnly
	}
	if q.IsPattern() {
		var buf Buffer
		if err := d.storage.RemoveMatching(q, &buf); err != nil {
			return err
		}
		for _, rq := range buf.Removed {
			d.quadRemoved(rq)
		}
		d.listeners.changed(&Changeset{Decremented: buf.Decremented, Removed: buf.Removed})
		return nil
	}

	r, err := d.storage.RemoveQuad(q)
	if err != nil {
		return err
	}
	switch {
	case r.Gone():
		d.quadRemoved(q)
		d.listeners.removed(q)
	case r == RemoveDecrement:
		d.listeners.decremented(q)
	}
	return nil
}

// Clear removes every quad.
func (d *QuadSet) Clear() error {
	if d.readOnly {
		return ErrReadOnly
	}
	var buf Buffer
	if err := d.storage.ClearAll(&buf); err != nil {
		return err
	}
	d.removedAll(buf.Removed)
	return nil
}

// ClearGraph removes every quad of graph.
func (d *QuadSet) ClearGraph(graph rdf.Node) error {
	if d.readOnly {
		return ErrReadOnly
	}
	var buf Buffer
	if err := d.storage.ClearGraph(graph, &buf); err != nil {
		return err
	}
	d.removedAll(buf.Removed)
	return nil
}

// Copy copies the quads of origin into target. See QuadIndex.CopyGraph.
func (d *QuadSet) Copy(origin, target rdf.Node, overwrite bool) error {
	if d.readOnly {
		return ErrReadOnly
	}
	var buf Buffer
	if err := d.storage.CopyGraph(origin, target, overwrite, &buf); err != nil {
		return err
	}
	d.relocated(&buf)
	return nil
}

// Move moves the quads of origin into target. See QuadIndex.MoveGraph.
func (d *QuadSet) Move(origin, target rdf.Node) error {
	if d.readOnly {
		return ErrReadOnly
	}
	var buf Buffer
	if err := d.storage.MoveGraph(origin, target, &buf); err != nil {
		return err
	}
	d.relocated(&buf)
	return nil
}

func (d *QuadSet) removedAll(removed []rdf.Quad) {
	for _, q := range removed {
		d.quadRemoved(q)
	}
	d.listeners.changed(ChangesetFromRemoved(removed))
}

func (d *QuadSet) relocated(buf *Buffer) {
	for _, q := range buf.Old {
		d.quadRemoved(q)
	}
	for _, q := range buf.New {
		d.quadAdded(q)
	}
	d.listeners.changed(NewChangeset(buf.New, buf.Old))
}

// isDefinition reports whether q binds an IRI to a dynamic expression.
func isDefinition(q rdf.Quad) bool {
	return q.Predicate == rdf.DefinedAs &&
		q.Subject != nil && q.Subject.Kind() == rdf.KindIRI &&
		q.Object != nil && q.Object.Kind() == rdf.KindDynamic
}

func (d *QuadSet) quadAdded(q rdf.Quad) {
	if d.exec == nil || !isDefinition(q) {
		return
	}
	d.exec.RegisterFunction(q.Subject.(rdf.IRINode).Value, q.Object.(rdf.DynamicNode).Expr)
}

func (d *QuadSet) quadRemoved(q rdf.Quad) {
	if d.exec == nil || !isDefinition(q) {
		return
	}
	d.exec.UnregisterFunction(q.Subject.(rdf.IRINode).Value)
}
