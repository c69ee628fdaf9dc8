package storage

import (
	"context"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// graphCounts maps a graph to the multiplicity of one (s, p, o) triple in it.
type graphCounts map[rdf.Node]int64

// objectMap maps an object to the graphs it appears in for one (s, p).
type objectMap map[rdf.Node]graphCounts

// predicateMap maps a predicate to its objects for one subject.
type predicateMap map[rdf.Node]objectMap

// QuadIndex is the in-memory Storage.
//
// Quads are indexed subject first:
//
//	subject -> predicate -> object -> graph -> multiplicity
//
// A level that becomes empty is deleted from its parent, so churn does not
// leave empty entries behind. Map keys are nodes, which compare by value.
//
// QuadIndex also keeps per-graph quad counts so Count on a whole graph and
// Graphs do not scan.
//
// QuadIndex is not safe for concurrent mutation.
//
// Example:
//
//	idx := storage.NewQuadIndex()
//	r, _ := idx.AddQuad(q)    // AddNew
//	r, _ = idx.AddQuad(q)     // AddIncrement
//	rr, _ := idx.RemoveQuad(q) // RemoveDecrement
//	rr, _ = idx.RemoveQuad(q)  // RemoveRemoved
type QuadIndex struct {
	subjects   map[rdf.Node]predicateMap
	graphSizes map[rdf.Node]int64
	size       int64
}

var _ Storage = (*QuadIndex)(nil)

// NewQuadIndex returns an empty index.
func NewQuadIndex() *QuadIndex {
	return &QuadIndex{
		subjects:   make(map[rdf.Node]predicateMap),
		graphSizes: make(map[rdf.Node]int64),
	}
}

// Len returns the number of distinct quads.
func (x *QuadIndex) Len() int64 { return x.size }

// Subjects returns the distinct subjects.
func (x *QuadIndex) Subjects() []rdf.Node {
	out := make([]rdf.Node, 0, len(x.subjects))
	for s := range x.subjects {
		out = append(out, s)
	}
	return out
}

// Multiplicity implements Storage. For a pattern it is the sum over all
// matching quads.
func (x *QuadIndex) Multiplicity(q rdf.Quad) (int64, error) {
	if !q.IsPattern() {
		return x.multiplicity(q), nil
	}
	var total int64
	x.walk(nil, q, func(_ rdf.Quad, m int64) (int64, bool) {
		total += m
		return m, false
	})
	return total, nil
}

func (x *QuadIndex) multiplicity(q rdf.Quad) int64 {
	pm, ok := x.subjects[q.Subject]
	if !ok {
		return 0
	}
	om, ok := pm[q.Predicate]
	if !ok {
		return 0
	}
	gc, ok := om[q.Object]
	if !ok {
		return 0
	}
	return gc[q.Graph]
}

// Scan implements Storage. The context is checked once per subject.
func (x *QuadIndex) Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	var err error
	x.walk(ctx, pattern, func(q rdf.Quad, m int64) (int64, bool) {
		if err = fn(CountedQuad{Quad: q, Multiplicity: m}); err != nil {
			return m, true
		}
		return m, false
	})
	if err == nil && ctx != nil {
		err = ctx.Err()
	}
	if stopped(err) {
		return nil
	}
	return err
}

// Walk visits every quad matching pattern. visit returns the new multiplicity
// of the quad, where 0 or less deletes it, and whether to stop. Emptied levels
// are pruned as the walk unwinds.
func (x *QuadIndex) Walk(pattern rdf.Quad, visit func(q rdf.Quad, m int64) (int64, bool)) {
	x.walk(nil, pattern, visit)
}

// Count implements Storage.
func (x *QuadIndex) Count(pattern rdf.Quad) (int64, error) {
	switch {
	case !pattern.IsPattern():
		if x.multiplicity(pattern) > 0 {
			return 1, nil
		}
		return 0, nil
	case rdf.IsWildcard(pattern.Subject) && rdf.IsWildcard(pattern.Predicate) && rdf.IsWildcard(pattern.Object):
		if rdf.IsWildcard(pattern.Graph) {
			return x.size, nil
		}
		return x.graphSizes[pattern.Graph], nil
	}
	var n int64
	x.walk(nil, pattern, func(_ rdf.Quad, m int64) (int64, bool) {
		n++
		return m, false
	})
	return n, nil
}

// Graphs implements Storage.
func (x *QuadIndex) Graphs() ([]rdf.Node, error) {
	out := make([]rdf.Node, 0, len(x.graphSizes))
	for g := range x.graphSizes {
		out = append(out, g)
	}
	return out, nil
}

// AddQuad implements Storage.
func (x *QuadIndex) AddQuad(q rdf.Quad) (AddResult, error) {
	if err := checkQuad(q); err != nil {
		return 0, err
	}
	pm, ok := x.subjects[q.Subject]
	if !ok {
		pm = make(predicateMap, 1)
		x.subjects[q.Subject] = pm
	}
	om, ok := pm[q.Predicate]
	if !ok {
		om = make(objectMap, 1)
		pm[q.Predicate] = om
	}
	gc, ok := om[q.Object]
	if !ok {
		gc = make(graphCounts, 1)
		om[q.Object] = gc
	}
	m := gc[q.Graph]
	gc[q.Graph] = m + 1
	if m > 0 {
		return AddIncrement, nil
	}
	x.created(q.Graph)
	return AddNew, nil
}

// RemoveQuad implements Storage. EMPTIED from inner levels is reported as
// RemoveRemoved once the empty levels have been pruned.
func (x *QuadIndex) RemoveQuad(q rdf.Quad) (RemoveResult, error) {
	if err := checkQuad(q); err != nil {
		return RemoveNotFound, err
	}
	pm, ok := x.subjects[q.Subject]
	if !ok {
		return RemoveNotFound, nil
	}
	r := removeFromPredicates(pm, q)
	switch r {
	case RemoveNotFound:
		return r, nil
	case RemoveDecrement:
		return r, nil
	case RemoveEmptied:
		delete(x.subjects, q.Subject)
	}
	x.deleted(q.Graph)
	return RemoveRemoved, nil
}

func removeFromPredicates(pm predicateMap, q rdf.Quad) RemoveResult {
	om, ok := pm[q.Predicate]
	if !ok {
		return RemoveNotFound
	}
	r := removeFromObjects(om, q)
	if r == RemoveEmptied {
		delete(pm, q.Predicate)
		if len(pm) == 0 {
			return RemoveEmptied
		}
		return RemoveRemoved
	}
	return r
}

func removeFromObjects(om objectMap, q rdf.Quad) RemoveResult {
	gc, ok := om[q.Object]
	if !ok {
		return RemoveNotFound
	}
	r := removeFromGraphs(gc, q.Graph)
	if r == RemoveEmptied {
		delete(om, q.Object)
		if len(om) == 0 {
			return RemoveEmptied
		}
		return RemoveRemoved
	}
	return r
}

func removeFromGraphs(gc graphCounts, g rdf.Node) RemoveResult {
	m, ok := gc[g]
	if !ok {
		return RemoveNotFound
	}
	if m > 1 {
		gc[g] = m - 1
		return RemoveDecrement
	}
	delete(gc, g)
	if len(gc) == 0 {
		return RemoveEmptied
	}
	return RemoveRemoved
}

// RemoveMatching implements Storage.
func (x *QuadIndex) RemoveMatching(pattern rdf.Quad, buf *Buffer) error {
	if err := checkPattern(pattern); err != nil {
		return err
	}
	if buf == nil {
		buf = &Buffer{}
	}
	x.walk(nil, pattern, func(q rdf.Quad, m int64) (int64, bool) {
		if m > 1 {
			buf.Decremented = append(buf.Decremented, q)
		} else {
			buf.Removed = append(buf.Removed, q)
		}
		return m - 1, false
	})
	return nil
}

// ClearAll implements Storage.
func (x *QuadIndex) ClearAll(buf *Buffer) error {
	if buf != nil {
		x.walk(nil, rdf.Quad{}, func(q rdf.Quad, m int64) (int64, bool) {
			buf.Removed = append(buf.Removed, q)
			return m, false
		})
	}
	x.subjects = make(map[rdf.Node]predicateMap)
	x.graphSizes = make(map[rdf.Node]int64)
	x.size = 0
	return nil
}

// ClearGraph implements Storage.
func (x *QuadIndex) ClearGraph(graph rdf.Node, buf *Buffer) error {
	if err := checkGraph(graph); err != nil {
		return err
	}
	x.walk(nil, rdf.Quad{Graph: graph}, func(q rdf.Quad, _ int64) (int64, bool) {
		if buf != nil {
			buf.Removed = append(buf.Removed, q)
		}
		return 0, false
	})
	return nil
}

// CopyGraph implements Storage.
//
// For every (s, p, o) in origin the target quad is incremented, or created
// with multiplicity 1 and buffered as new. With overwrite, target quads with
// no counterpart in origin are deleted and buffered as old.
func (x *QuadIndex) CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error {
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
	x.eachTriple(func(s, p, o rdf.Node, gc graphCounts) {
		_, hasOrigin := gc[origin]
		mt, hasTarget := gc[target]
		switch {
		case hasOrigin && hasTarget:
			gc[target] = mt + 1
		case hasOrigin:
			gc[target] = 1
			x.created(target)
			buf.New = append(buf.New, rdf.NewQuad(target, s, p, o))
		case hasTarget && overwrite:
			delete(gc, target)
			x.deleted(target)
			buf.Old = append(buf.Old, rdf.NewQuad(target, s, p, o))
		}
	})
	return nil
}

// MoveGraph implements Storage.
//
// Like CopyGraph with overwrite, except that every origin quad is deleted and
// buffered as old. A created target quad takes multiplicity 1.
func (x *QuadIndex) MoveGraph(origin, target rdf.Node, buf *Buffer) error {
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
	x.eachTriple(func(s, p, o rdf.Node, gc graphCounts) {
		_, hasOrigin := gc[origin]
		mt, hasTarget := gc[target]
		switch {
		case hasOrigin:
			delete(gc, origin)
			x.deleted(origin)
			if hasTarget {
				gc[target] = mt + 1
			} else {
				gc[target] = 1
				x.created(target)
				buf.New = append(buf.New, rdf.NewQuad(target, s, p, o))
			}
			buf.Old = append(buf.Old, rdf.NewQuad(origin, s, p, o))
		case hasTarget:
			delete(gc, target)
			x.deleted(target)
			buf.Old = append(buf.Old, rdf.NewQuad(target, s, p, o))
		}
	})
	return nil
}

// put stores q with multiplicity m, replacing any previous multiplicity.
// Used to load snapshots; q must already be valid.
func (x *QuadIndex) put(q rdf.Quad, m int64) {
	pm, ok := x.subjects[q.Subject]
	if !ok {
		pm = make(predicateMap, 1)
		x.subjects[q.Subject] = pm
	}
	om, ok := pm[q.Predicate]
	if !ok {
		om = make(objectMap, 1)
		pm[q.Predicate] = om
	}
	gc, ok := om[q.Object]
	if !ok {
		gc = make(graphCounts, 1)
		om[q.Object] = gc
	}
	if _, ok := gc[q.Graph]; !ok {
		x.created(q.Graph)
	}
	gc[q.Graph] = m
}

func (x *QuadIndex) created(g rdf.Node) {
	x.size++
	x.graphSizes[g]++
}

func (x *QuadIndex) deleted(g rdf.Node) {
	x.size--
	if n := x.graphSizes[g] - 1; n > 0 {
		x.graphSizes[g] = n
	} else {
		delete(x.graphSizes, g)
	}
}

// eachTriple calls fn with the graph counts of every (s, p, o), pruning any
// level fn leaves empty.
func (x *QuadIndex) eachTriple(fn func(s, p, o rdf.Node, gc graphCounts)) {
	for s, pm := range x.subjects {
		for p, om := range pm {
			for o, gc := range om {
				fn(s, p, o, gc)
				if len(gc) == 0 {
					delete(om, o)
				}
			}
			if len(om) == 0 {
				delete(pm, p)
			}
		}
		if len(pm) == 0 {
			delete(x.subjects, s)
		}
	}
}

// visitLevel calls fn for the entry under key, or for every entry when key is
// a wildcard. It reports whether fn asked to stop.
func visitLevel[V any](m map[rdf.Node]V, key rdf.Node, fn func(k rdf.Node, v V) bool) bool {
	if !rdf.IsWildcard(key) {
		if v, ok := m[key]; ok {
			return fn(key, v)
		}
		return false
	}
	for k, v := range m {
		if fn(k, v) {
			return true
		}
	}
	return false
}

func (x *QuadIndex) walk(ctx context.Context, p rdf.Quad, visit func(q rdf.Quad, m int64) (int64, bool)) {
	visitLevel(x.subjects, p.Subject, func(s rdf.Node, pm predicateMap) bool {
		if ctx != nil && ctx.Err() != nil {
			return true
		}
		stop := visitLevel(pm, p.Predicate, func(pr rdf.Node, om objectMap) bool {
			stop := visitLevel(om, p.Object, func(o rdf.Node, gc graphCounts) bool {
				stop := visitLevel(gc, p.Graph, func(g rdf.Node, m int64) bool {
					nm, stop := visit(rdf.NewQuad(g, s, pr, o), m)
					switch {
					case nm <= 0:
						delete(gc, g)
						x.deleted(g)
					case nm != m:
						gc[g] = nm
					}
					return stop
				})
				if len(gc) == 0 {
					delete(om, o)
				}
				return stop
			})
			if len(om) == 0 {
				delete(pm, pr)
			}
			return stop
		})
		if len(pm) == 0 {
			delete(x.subjects, s)
		}
		return stop
	})
}
