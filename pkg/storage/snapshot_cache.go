package storage

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/cache"
	"github.com/orneryd/quadstore/pkg/logging"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// Default snapshot cache budgets.
const (
	DefaultSubjectSnapshots = 256
	DefaultGraphSnapshots   = 4
)

// SnapshotCache is a read-through cache in front of a slow Storage.
//
// It keeps whole snapshots, small in-memory QuadIndexes, of the quads of
// recently read subjects and graphs. A snapshot is built on first miss with a
// single scan of the backing storage.
//
// Routing of reads:
//   - bound subject: the subject's snapshot
//   - wildcard subject, bound graph: the graph's snapshot
//   - otherwise: the backing storage
//
// Every write goes to the backing storage, then drops the snapshots of the
// subjects and graphs it actually changed. Copy and Move drop every subject
// snapshot since they also increment quads without reporting them.
//
// Example:
//
//	disk, _ := storage.NewBadgerStorage(storage.BadgerOptions{DataDir: dir})
//	cached := storage.NewSnapshotCache(disk, 0, 0) // default budgets
//	ds := storage.NewQuadSet(cached)
type SnapshotCache struct {
	backing  Storage
	subjects *cache.LRU[rdf.Node, *QuadIndex]
	graphs   *cache.LRU[rdf.Node, *QuadIndex]
	disabled atomic.Bool
}

var (
	_ Storage = (*SnapshotCache)(nil)
	_ Batcher = (*SnapshotCache)(nil)
)

// NewSnapshotCache wraps backing. Non-positive budgets select the defaults.
func NewSnapshotCache(backing Storage, subjectBudget, graphBudget int) *SnapshotCache {
	if subjectBudget <= 0 {
		subjectBudget = DefaultSubjectSnapshots
	}
	if graphBudget <= 0 {
		graphBudget = DefaultGraphSnapshots
	}
	return &SnapshotCache{
		backing:  backing,
		subjects: cache.NewLRU[rdf.Node, *QuadIndex](subjectBudget),
		graphs:   cache.NewLRU[rdf.Node, *QuadIndex](graphBudget),
	}
}

// Backing returns the wrapped storage.
func (c *SnapshotCache) Backing() Storage { return c.backing }

// SubjectStats returns the subject cache statistics.
func (c *SnapshotCache) SubjectStats() cache.Stats { return c.subjects.Stats() }

// GraphStats returns the graph cache statistics.
func (c *SnapshotCache) GraphStats() cache.Stats { return c.graphs.Stats() }

// SetEnabled turns snapshots on or off. While off every read goes to the
// backing storage and no snapshot is kept.
func (c *SnapshotCache) SetEnabled(enabled bool) {
	c.disabled.Store(!enabled)
	c.subjects.SetEnabled(enabled)
	c.graphs.SetEnabled(enabled)
}

// Enabled reports whether reads are served from snapshots.
func (c *SnapshotCache) Enabled() bool { return !c.disabled.Load() }

// source returns the storage that should answer a read of pattern.
func (c *SnapshotCache) source(pattern rdf.Quad) (Storage, error) {
	switch {
	case c.disabled.Load():
		return c.backing, nil
	case !rdf.IsWildcard(pattern.Subject):
		return c.snapshot(c.subjects, cacheKindSubject, rdf.Quad{Subject: pattern.Subject})
	case !rdf.IsWildcard(pattern.Graph):
		return c.snapshot(c.graphs, cacheKindGraph, rdf.Quad{Graph: pattern.Graph})
	}
	return c.backing, nil
}

func (c *SnapshotCache) snapshot(lru *cache.LRU[rdf.Node, *QuadIndex], kind string, key rdf.Quad) (*QuadIndex, error) {
	node := key.Subject
	if node == nil {
		node = key.Graph
	}
	if idx, ok := lru.Get(node); ok {
		snapshotLookups.WithLabelValues(kind, "hit").Inc()
		return idx, nil
	}
	snapshotLookups.WithLabelValues(kind, "miss").Inc()

	idx := NewQuadIndex()
	err := c.backing.Scan(context.Background(), key, func(cq CountedQuad) error {
		idx.put(cq.Quad, cq.Multiplicity)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "build %s snapshot for %v", kind, node)
	}
	logging.Named("snapshot-cache").Debugw("snapshot built", "kind", kind, "key", node, "quads", idx.Len())
	lru.Put(node, idx)
	return idx, nil
}

func (c *SnapshotCache) Multiplicity(q rdf.Quad) (int64, error) {
	src, err := c.source(q)
	if err != nil {
		return 0, err
	}
	return src.Multiplicity(q)
}

func (c *SnapshotCache) Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	src, err := c.source(pattern)
	if err != nil {
		return err
	}
	return src.Scan(ctx, pattern, fn)
}

func (c *SnapshotCache) Count(pattern rdf.Quad) (int64, error) {
	src, err := c.source(pattern)
	if err != nil {
		return 0, err
	}
	return src.Count(pattern)
}

func (c *SnapshotCache) Graphs() ([]rdf.Node, error) { return c.backing.Graphs() }

func (c *SnapshotCache) AddQuad(q rdf.Quad) (AddResult, error) {
	r, err := c.backing.AddQuad(q)
	if err != nil {
		return r, err
	}
	c.invalidate(q)
	return r, nil
}

func (c *SnapshotCache) RemoveQuad(q rdf.Quad) (RemoveResult, error) {
	r, err := c.backing.RemoveQuad(q)
	if err != nil {
		return r, err
	}
	if r != RemoveNotFound {
		c.invalidate(q)
	}
	return r, nil
}

func (c *SnapshotCache) RemoveMatching(pattern rdf.Quad, buf *Buffer) error {
	if buf == nil {
		buf = &Buffer{}
	}
	err := c.backing.RemoveMatching(pattern, buf)
	c.invalidateAll(buf.Decremented)
	c.invalidateAll(buf.Removed)
	return err
}

func (c *SnapshotCache) ClearAll(buf *Buffer) error {
	err := c.backing.ClearAll(buf)
	c.purge()
	return err
}

func (c *SnapshotCache) ClearGraph(graph rdf.Node, buf *Buffer) error {
	if buf == nil {
		buf = &Buffer{}
	}
	err := c.backing.ClearGraph(graph, buf)
	c.dropGraph(graph)
	for _, q := range buf.Removed {
		c.dropSubject(q.Subject)
	}
	return err
}

func (c *SnapshotCache) CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error {
	err := c.backing.CopyGraph(origin, target, overwrite, buf)
	c.relocated(origin, target)
	return err
}

func (c *SnapshotCache) MoveGraph(origin, target rdf.Node, buf *Buffer) error {
	err := c.backing.MoveGraph(origin, target, buf)
	c.relocated(origin, target)
	return err
}

// Batch implements Batcher. Without a batching backing storage fn runs
// directly against the cache.
func (c *SnapshotCache) Batch(fn func(s Storage) error) error {
	b, ok := c.backing.(Batcher)
	if !ok {
		return fn(c)
	}
	view := &cacheBatch{cache: c}
	err := b.Batch(func(s Storage) error {
		view.Storage = s
		return fn(view)
	})
	// Drop again after commit: a reader may have rebuilt a snapshot from the
	// pre-commit state while the batch ran.
	view.flush()
	return err
}

func (c *SnapshotCache) invalidate(q rdf.Quad) {
	c.dropSubject(q.Subject)
	c.dropGraph(q.Graph)
}

func (c *SnapshotCache) invalidateAll(quads []rdf.Quad) {
	for _, q := range quads {
		c.invalidate(q)
	}
}

func (c *SnapshotCache) relocated(origin, target rdf.Node) {
	c.dropGraph(origin)
	c.dropGraph(target)
	if n := c.subjects.Len(); n > 0 {
		c.subjects.Clear()
		snapshotInvalidations.WithLabelValues(cacheKindSubject).Add(float64(n))
	}
}

func (c *SnapshotCache) dropSubject(s rdf.Node) {
	if c.subjects.Remove(s) {
		snapshotInvalidations.WithLabelValues(cacheKindSubject).Inc()
	}
}

func (c *SnapshotCache) dropGraph(g rdf.Node) {
	if c.graphs.Remove(g) {
		snapshotInvalidations.WithLabelValues(cacheKindGraph).Inc()
	}
}

// purge drops every snapshot.
func (c *SnapshotCache) purge() {
	snapshotInvalidations.WithLabelValues(cacheKindSubject).Add(float64(c.subjects.Len()))
	snapshotInvalidations.WithLabelValues(cacheKindGraph).Add(float64(c.graphs.Len()))
	c.subjects.Clear()
	c.graphs.Clear()
}

// cacheBatch is the Storage seen inside SnapshotCache.Batch. Reads and writes
// go to the batch view of the backing storage; written keys are remembered and
// invalidated once the batch ends.
type cacheBatch struct {
	Storage
	cache    *SnapshotCache
	touched  []rdf.Quad
	relocate [][2]rdf.Node
	cleared  bool
}

func (b *cacheBatch) AddQuad(q rdf.Quad) (AddResult, error) {
	r, err := b.Storage.AddQuad(q)
	if err == nil {
		b.touched = append(b.touched, q)
		b.cache.invalidate(q)
	}
	return r, err
}

func (b *cacheBatch) RemoveQuad(q rdf.Quad) (RemoveResult, error) {
	r, err := b.Storage.RemoveQuad(q)
	if err == nil && r != RemoveNotFound {
		b.touched = append(b.touched, q)
		b.cache.invalidate(q)
	}
	return r, err
}

func (b *cacheBatch) RemoveMatching(pattern rdf.Quad, buf *Buffer) error {
	if buf == nil {
		buf = &Buffer{}
	}
	err := b.Storage.RemoveMatching(pattern, buf)
	b.touched = append(b.touched, buf.Decremented...)
	b.touched = append(b.touched, buf.Removed...)
	return err
}

func (b *cacheBatch) ClearAll(buf *Buffer) error {
	b.cleared = true
	return b.Storage.ClearAll(buf)
}

func (b *cacheBatch) ClearGraph(graph rdf.Node, buf *Buffer) error {
	if buf == nil {
		buf = &Buffer{}
	}
	err := b.Storage.ClearGraph(graph, buf)
	b.relocate = append(b.relocate, [2]rdf.Node{graph, graph})
	b.touched = append(b.touched, buf.Removed...)
	return err
}

func (b *cacheBatch) CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error {
	b.relocate = append(b.relocate, [2]rdf.Node{origin, target})
	return b.Storage.CopyGraph(origin, target, overwrite, buf)
}

func (b *cacheBatch) MoveGraph(origin, target rdf.Node, buf *Buffer) error {
	b.relocate = append(b.relocate, [2]rdf.Node{origin, target})
	return b.Storage.MoveGraph(origin, target, buf)
}

func (b *cacheBatch) flush() {
	if b.cleared {
		b.cache.purge()
		return
	}
	b.cache.invalidateAll(b.touched)
	for _, r := range b.relocate {
		b.cache.relocated(r[0], r[1])
	}
}
