// Package storage implements the quadstore datasets.
//
// The package is layered:
//
//	Storage     result-code engines: QuadIndex (memory), BadgerStorage (disk),
//	            SnapshotCache (read-through cache), DiffOverlay (transaction delta)
//	Dataset     public contract with change notification: QuadSet over any Storage,
//	            AggregateDataset, ReasoningDataset
//	Store       transactions: one DiffOverlay per Transaction over a base Dataset
//
// A dataset is a multiset of quads. Adding a quad that is already present
// increments its multiplicity; removing it decrements. A quad is present exactly
// while its multiplicity is positive.
//
// Example:
//
//	ds := storage.NewQuadSet(storage.NewQuadIndex())
//	_ = ds.Add(q)
//	_ = ds.Add(q)
//	m, _ := ds.Multiplicity(q) // 2
//
//	store := storage.NewStore(ds, storage.StoreOptions{})
//	tx, _ := store.NewTransaction(true, false)
//	_ = tx.Dataset().Remove(q)
//	_ = tx.Commit()
//
// QuadIndex, QuadSet, DiffOverlay and the composite datasets are not safe for
// concurrent mutation. Store serialises access to its base dataset.
package storage

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// AddResult is the outcome of adding one quad.
type AddResult int

const (
	// AddNew means the quad was absent and now has multiplicity 1.
	AddNew AddResult = iota + 1
	// AddIncrement means the quad was present and its multiplicity grew by 1.
	AddIncrement
)

func (r AddResult) String() string {
	switch r {
	case AddNew:
		return "NEW"
	case AddIncrement:
		return "INCREMENT"
	}
	return "UNKNOWN"
}

// RemoveResult is the outcome of removing one quad.
//
// Results are ordered: r >= RemoveRemoved means the quad is now absent.
type RemoveResult int

const (
	// RemoveNotFound means the quad was absent.
	RemoveNotFound RemoveResult = iota
	// RemoveDecrement means the multiplicity dropped by 1 and is still positive.
	RemoveDecrement
	// RemoveRemoved means the multiplicity reached 0 and the quad was deleted.
	RemoveRemoved
	// RemoveEmptied is RemoveRemoved where the enclosing level became empty too.
	RemoveEmptied
)

func (r RemoveResult) String() string {
	switch r {
	case RemoveNotFound:
		return "NOT_FOUND"
	case RemoveDecrement:
		return "DECREMENT"
	case RemoveRemoved:
		return "REMOVED"
	case RemoveEmptied:
		return "EMPTIED"
	}
	return "UNKNOWN"
}

// Gone reports whether the quad is absent after a successful removal.
func (r RemoveResult) Gone() bool { return r >= RemoveRemoved }

// CountedQuad is a quad together with its multiplicity.
type CountedQuad struct {
	rdf.Quad
	Multiplicity int64
}

// ScanFunc receives each quad matched by a scan. Returning ErrStopScan ends the
// scan without error; any other error aborts it and is returned by the scan.
type ScanFunc func(cq CountedQuad) error

// Buffer collects the quads affected by a bulk mutation.
//
// Removals fill Decremented and Removed. Copy and move fill New (quads created
// in the target) and Old (quads deleted from origin or target).
type Buffer struct {
	Decremented []rdf.Quad
	Removed     []rdf.Quad
	New         []rdf.Quad
	Old         []rdf.Quad
}

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.Decremented = b.Decremented[:0]
	b.Removed = b.Removed[:0]
	b.New = b.New[:0]
	b.Old = b.Old[:0]
}

// Storage is the result-code level engine under a Dataset.
//
// Patterns are rdf.Quad values whose nil or variable fields are wildcards.
// Implementations: QuadIndex, BadgerStorage, SnapshotCache, DiffOverlay.
type Storage interface {
	// Multiplicity returns the multiplicity of a concrete quad, 0 if absent.
	Multiplicity(q rdf.Quad) (int64, error)
	// Scan calls fn for every stored quad matching pattern.
	Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error
	// Count returns the number of distinct quads matching pattern.
	Count(pattern rdf.Quad) (int64, error)
	// Graphs returns the distinct graph names.
	Graphs() ([]rdf.Node, error)

	AddQuad(q rdf.Quad) (AddResult, error)
	RemoveQuad(q rdf.Quad) (RemoveResult, error)
	// RemoveMatching decrements every quad matching pattern by one.
	RemoveMatching(pattern rdf.Quad, buf *Buffer) error
	ClearAll(buf *Buffer) error
	ClearGraph(graph rdf.Node, buf *Buffer) error
	CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error
	MoveGraph(origin, target rdf.Node, buf *Buffer) error
}

// Batcher is implemented by storages that can apply a group of mutations
// atomically. fn receives a Storage view bound to the batch; if fn or the final
// commit fails, none of the mutations are applied.
type Batcher interface {
	Batch(fn func(s Storage) error) error
}

// Dataset is the public quad dataset contract.
type Dataset interface {
	Multiplicity(q rdf.Quad) (int64, error)
	// Stream calls fn lazily for every quad matching pattern.
	Stream(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error
	// GetAll collects every quad matching pattern.
	GetAll(pattern rdf.Quad) ([]CountedQuad, error)
	Count(pattern rdf.Quad) (int64, error)
	Graphs() ([]rdf.Node, error)

	// Insert applies a changeset and notifies listeners once.
	Insert(cs *Changeset) error
	Add(q rdf.Quad) error
	// Remove removes a quad; wildcards remove one unit of every match.
	Remove(q rdf.Quad) error
	Clear() error
	ClearGraph(graph rdf.Node) error
	Copy(origin, target rdf.Node, overwrite bool) error
	Move(origin, target rdf.Node) error

	AddListener(l ChangeListener)
	RemoveListener(l ChangeListener)
}

// collect gathers a stream into a slice.
func collect(ctx context.Context, pattern rdf.Quad, stream func(context.Context, rdf.Quad, ScanFunc) error) ([]CountedQuad, error) {
	var out []CountedQuad
	err := stream(ctx, pattern, func(cq CountedQuad) error {
		out = append(out, cq)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// stopped reports whether err ended a scan on purpose.
func stopped(err error) bool {
	return errors.Is(err, ErrStopScan)
}
