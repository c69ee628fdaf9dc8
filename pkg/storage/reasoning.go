package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// ReasoningDataset splits quads between a ground dataset and a volatile one.
//
// Quads in the reserved graphs (rdf.GraphInference and rdf.GraphMeta) are
// reasoning output: they live in the volatile dataset, usually in memory, and
// never reach the ground dataset. Everything else goes to ground.
//
// Reads with a bound graph go to the owning child; reads with a wildcard graph
// go to both. Copy and Move may not name a reserved graph on either side.
//
// Example:
//
//	ground := storage.NewQuadSet(badgerStorage)
//	ds := storage.NewReasoningDataset(ground, storage.NewQuadSet(storage.NewQuadIndex()))
//	_ = ds.Add(rdf.NewQuad(rdf.GraphInference, s, p, o)) // volatile only
type ReasoningDataset struct {
	ground    Dataset
	volatile  Dataset
	aggregate *AggregateDataset
}

var _ Dataset = (*ReasoningDataset)(nil)

// NewReasoningDataset returns the split over ground and volatile.
func NewReasoningDataset(ground, volatile Dataset) *ReasoningDataset {
	return &ReasoningDataset{
		ground:    ground,
		volatile:  volatile,
		aggregate: NewAggregateDataset(ground, volatile),
	}
}

// Ground returns the durable dataset.
func (r *ReasoningDataset) Ground() Dataset { return r.ground }

// Volatile returns the reasoning output dataset.
func (r *ReasoningDataset) Volatile() Dataset { return r.volatile }

// SetExecutionManager attaches m to both children when they support it.
func (r *ReasoningDataset) SetExecutionManager(m ExecutionManager) error {
	type managed interface {
		SetExecutionManager(ExecutionManager) error
	}
	var errs error
	for _, c := range []Dataset{r.ground, r.volatile} {
		if mc, ok := c.(managed); ok {
			errs = errors.CombineErrors(errs, mc.SetExecutionManager(m))
		}
	}
	return errs
}

// route returns the child owning graph, or nil for a wildcard graph.
func (r *ReasoningDataset) route(graph rdf.Node) Dataset {
	if rdf.IsWildcard(graph) {
		return nil
	}
	if rdf.IsReservedGraph(graph) {
		return r.volatile
	}
	return r.ground
}

func (r *ReasoningDataset) AddListener(l ChangeListener)    { r.aggregate.AddListener(l) }
func (r *ReasoningDataset) RemoveListener(l ChangeListener) { r.aggregate.RemoveListener(l) }

func (r *ReasoningDataset) Multiplicity(q rdf.Quad) (int64, error) {
	if c := r.route(q.Graph); c != nil {
		return c.Multiplicity(q)
	}
	return r.aggregate.Multiplicity(q)
}

func (r *ReasoningDataset) Stream(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	if c := r.route(pattern.Graph); c != nil {
		return c.Stream(ctx, pattern, fn)
	}
	return r.aggregate.Stream(ctx, pattern, fn)
}

func (r *ReasoningDataset) GetAll(pattern rdf.Quad) ([]CountedQuad, error) {
	return collect(context.Background(), pattern, r.Stream)
}

func (r *ReasoningDataset) Count(pattern rdf.Quad) (int64, error) {
	if c := r.route(pattern.Graph); c != nil {
		return c.Count(pattern)
	}
	return r.aggregate.Count(pattern)
}

func (r *ReasoningDataset) Graphs() ([]rdf.Node, error) { return r.aggregate.Graphs() }

// Insert routes a changeset. A lone added or removed quad goes through Add or
// Remove. A batch that targets one child is forwarded whole; a mixed batch is
// split so each child receives at most one Insert carrying both its added and
// removed quads, and listeners see one OnChange for the whole batch.
func (r *ReasoningDataset) Insert(cs *Changeset) error {
	if cs == nil {
		return nil
	}
	if len(cs.Removed) == 0 && len(cs.Added) == 1 {
		return r.Add(cs.Added[0])
	}
	if len(cs.Added) == 0 && len(cs.Removed) == 1 {
		return r.Remove(cs.Removed[0])
	}

	var addedVolatile, addedGround, removedVolatile, removedGround []rdf.Quad
	for _, q := range cs.Added {
		if rdf.IsReservedGraph(q.Graph) {
			addedVolatile = append(addedVolatile, q)
		} else {
			addedGround = append(addedGround, q)
		}
	}
	for _, q := range cs.Removed {
		if rdf.IsReservedGraph(q.Graph) {
			removedVolatile = append(removedVolatile, q)
		} else {
			removedGround = append(removedGround, q)
		}
	}

	switch {
	case len(addedGround) == 0 && len(removedGround) == 0:
		return r.volatile.Insert(cs)
	case len(addedVolatile) == 0 && len(removedVolatile) == 0:
		return r.ground.Insert(cs)
	}
	return r.aggregate.merged(func() error {
		if err := r.volatile.Insert(NewChangeset(addedVolatile, removedVolatile)); err != nil {
			return errors.Wrap(err, "insert volatile part")
		}
		if err := r.ground.Insert(NewChangeset(addedGround, removedGround)); err != nil {
			return errors.Wrap(err, "insert ground part")
		}
		return nil
	})
}

func (r *ReasoningDataset) Add(q rdf.Quad) error {
	if c := r.route(q.Graph); c != nil {
		return c.Add(q)
	}
	return &UnsupportedNodeTypeError{Field: rdf.FieldGraph, Node: q.Graph}
}

// Remove routes by graph. A wildcard graph removes from both children and
// listeners see one OnChange covering both.
func (r *ReasoningDataset) Remove(q rdf.Quad) error {
	if c := r.route(q.Graph); c != nil {
		return c.Remove(q)
	}
	return r.aggregate.merged(func() error {
		if err := r.ground.Remove(q); err != nil {
			return err
		}
		return r.volatile.Remove(q)
	})
}

func (r *ReasoningDataset) Clear() error {
	return r.aggregate.merged(func() error {
		if err := r.ground.Clear(); err != nil {
			return err
		}
		return r.volatile.Clear()
	})
}

func (r *ReasoningDataset) ClearGraph(graph rdf.Node) error {
	if c := r.route(graph); c != nil {
		return c.ClearGraph(graph)
	}
	return &UnsupportedNodeTypeError{Field: rdf.FieldGraph, Node: graph}
}

func (r *ReasoningDataset) Copy(origin, target rdf.Node, overwrite bool) error {
	if err := checkGroundGraphs(origin, target); err != nil {
		return err
	}
	return r.ground.Copy(origin, target, overwrite)
}

func (r *ReasoningDataset) Move(origin, target rdf.Node) error {
	if err := checkGroundGraphs(origin, target); err != nil {
		return err
	}
	return r.ground.Move(origin, target)
}

func checkGroundGraphs(origin, target rdf.Node) error {
	if rdf.IsReservedGraph(origin) || rdf.IsReservedGraph(target) {
		return errors.Wrapf(ErrIllegalArgument, "origin %v and target %v cannot be volatile graphs", origin, target)
	}
	return nil
}
