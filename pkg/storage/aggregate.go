package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// AggregateDataset is a read-mostly union of datasets.
//
// Reads fan out to every child: multiplicities and counts are summed, scans are
// concatenated, graph lists are merged. The children are expected to be
// disjoint; this is not checked, and a quad held by two children is reported
// with the sum of its multiplicities (and counted once per child).
//
// Insert, Add and Remove fail with ErrUnsupportedOperation since the aggregate
// cannot choose a child for them. Clear, ClearGraph, Copy and Move are
// broadcast to every child.
//
// Listeners registered on the aggregate receive every child event. The
// OnChange events raised by one broadcast are merged into a single OnChange.
type AggregateDataset struct {
	children  []Dataset
	listeners listeners
	relay     *ListenerFuncs
	merging   *Changeset // non-nil while child OnChange events are merged
}

var _ Dataset = (*AggregateDataset)(nil)

// NewAggregateDataset returns the union of children.
func NewAggregateDataset(children ...Dataset) *AggregateDataset {
	a := &AggregateDataset{children: children}
	a.relay = &ListenerFuncs{
		Incremented: a.listeners.incremented,
		Decremented: a.listeners.decremented,
		Added:       a.listeners.added,
		Removed:     a.listeners.removed,
		Change:      a.relayChange,
	}
	return a
}

func (a *AggregateDataset) relayChange(cs *Changeset) {
	if a.merging == nil {
		a.listeners.changed(cs)
		return
	}
	a.merging.Incremented = append(a.merging.Incremented, cs.Incremented...)
	a.merging.Decremented = append(a.merging.Decremented, cs.Decremented...)
	a.merging.Added = append(a.merging.Added, cs.Added...)
	a.merging.Removed = append(a.merging.Removed, cs.Removed...)
}

// merged runs fn and reports the OnChange events the children raise meanwhile
// as one OnChange. Changes applied before a failure are still reported.
func (a *AggregateDataset) merged(fn func() error) error {
	if a.merging != nil {
		return fn()
	}
	cs := &Changeset{}
	a.merging = cs
	err := func() error {
		defer func() { a.merging = nil }()
		return fn()
	}()
	a.listeners.changed(cs)
	return err
}

// Children returns the aggregated datasets.
func (a *AggregateDataset) Children() []Dataset { return a.children }

func (a *AggregateDataset) Multiplicity(q rdf.Quad) (int64, error) {
	var total int64
	for _, c := range a.children {
		m, err := c.Multiplicity(q)
		if err != nil {
			return 0, err
		}
		total += m
	}
	return total, nil
}

func (a *AggregateDataset) Stream(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	halted := false
	visit := func(cq CountedQuad) error {
		err := fn(cq)
		if stopped(err) {
			halted = true
		}
		return err
	}
	for _, c := range a.children {
		if err := c.Stream(ctx, pattern, visit); err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	return nil
}

func (a *AggregateDataset) GetAll(pattern rdf.Quad) ([]CountedQuad, error) {
	return collect(context.Background(), pattern, a.Stream)
}

func (a *AggregateDataset) Count(pattern rdf.Quad) (int64, error) {
	var total int64
	for _, c := range a.children {
		n, err := c.Count(pattern)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (a *AggregateDataset) Graphs() ([]rdf.Node, error) {
	seen := make(map[rdf.Node]struct{})
	var out []rdf.Node
	for _, c := range a.children {
		graphs, err := c.Graphs()
		if err != nil {
			return nil, err
		}
		for _, g := range graphs {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (a *AggregateDataset) Insert(*Changeset) error {
	return errors.Wrap(ErrUnsupportedOperation, "insert into aggregate dataset")
}

func (a *AggregateDataset) Add(rdf.Quad) error {
	return errors.Wrap(ErrUnsupportedOperation, "add to aggregate dataset")
}

func (a *AggregateDataset) Remove(rdf.Quad) error {
	return errors.Wrap(ErrUnsupportedOperation, "remove from aggregate dataset")
}

func (a *AggregateDataset) Clear() error {
	return a.broadcast(func(c Dataset) error { return c.Clear() })
}

func (a *AggregateDataset) ClearGraph(graph rdf.Node) error {
	return a.broadcast(func(c Dataset) error { return c.ClearGraph(graph) })
}

func (a *AggregateDataset) Copy(origin, target rdf.Node, overwrite bool) error {
	return a.broadcast(func(c Dataset) error { return c.Copy(origin, target, overwrite) })
}

func (a *AggregateDataset) Move(origin, target rdf.Node) error {
	return a.broadcast(func(c Dataset) error { return c.Move(origin, target) })
}

// broadcast runs fn on every child and combines the errors.
func (a *AggregateDataset) broadcast(fn func(c Dataset) error) error {
	return a.merged(func() error {
		var errs error
		for _, c := range a.children {
			errs = errors.CombineErrors(errs, fn(c))
		}
		return errs
	})
}

func (a *AggregateDataset) AddListener(l ChangeListener) {
	if a.listeners.empty() {
		for _, c := range a.children {
			c.AddListener(a.relay)
		}
	}
	a.listeners.add(l)
}

func (a *AggregateDataset) RemoveListener(l ChangeListener) {
	a.listeners.remove(l)
	if a.listeners.empty() {
		for _, c := range a.children {
			c.RemoveListener(a.relay)
		}
	}
}
