package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// countingStorage counts the scans reaching the wrapped storage.
type countingStorage struct {
	Storage
	scans int
}

func (c *countingStorage) Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	c.scans++
	return c.Storage.Scan(ctx, pattern, fn)
}

func TestSnapshotCache_Contract(t *testing.T) {
	storageContract(t, func(*testing.T) Storage {
		return NewSnapshotCache(NewQuadIndex(), 2, 2)
	})
}

func TestSnapshotCache_ServesFromSnapshots(t *testing.T) {
	backing := &countingStorage{Storage: NewQuadIndex()}
	mustAdd(t, backing, rdf.NewQuad(g1, alice, knows, bob), rdf.NewQuad(g1, alice, name, rdf.PlainLiteral("Alice")))
	c := NewSnapshotCache(backing, 0, 0)

	assert.Equal(t, int64(1), mult(t, c, rdf.NewQuad(g1, alice, knows, bob)))
	n, err := c.Count(rdf.Quad{Subject: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, scanAll(t, c, rdf.Quad{Subject: alice, Predicate: name}), 1)
	assert.Equal(t, 1, backing.scans, "subject snapshot built once")

	scanAll(t, c, rdf.Quad{Graph: g1})
	scanAll(t, c, rdf.Quad{Graph: g1, Predicate: knows})
	assert.Equal(t, 2, backing.scans, "graph snapshot built once")

	scanAll(t, c, rdf.Quad{Predicate: knows})
	assert.Equal(t, 3, backing.scans, "unkeyed reads go to the backing storage")

	stats := c.SubjectStats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestSnapshotCache_Disabled(t *testing.T) {
	backing := &countingStorage{Storage: NewQuadIndex()}
	q := rdf.NewQuad(g1, alice, knows, bob)
	mustAdd(t, backing, q)
	c := NewSnapshotCache(backing, 0, 0)
	assert.Equal(t, int64(1), mult(t, c, q))
	assert.Equal(t, 1, c.SubjectStats().Size)

	c.SetEnabled(false)
	assert.False(t, c.Enabled())
	assert.Zero(t, c.SubjectStats().Size, "snapshots dropped")

	assert.Len(t, scanAll(t, c, rdf.Quad{Subject: alice}), 1)
	assert.Len(t, scanAll(t, c, rdf.Quad{Graph: g1}), 1)
	assert.Equal(t, 3, backing.scans, "every read reaches the backing storage")
	assert.Zero(t, c.SubjectStats().Size)
	assert.Zero(t, c.GraphStats().Size)

	c.SetEnabled(true)
	scanAll(t, c, rdf.Quad{Subject: alice})
	scanAll(t, c, rdf.Quad{Subject: alice})
	assert.Equal(t, 4, backing.scans)
}

func TestSnapshotCache_StaysConsistent(t *testing.T) {
	q := rdf.NewQuad(g1, alice, knows, bob)

	t.Run("add_and_increment", func(t *testing.T) {
		c := NewSnapshotCache(NewQuadIndex(), 0, 0)
		assert.Zero(t, mult(t, c, q))
		assert.Empty(t, scanAll(t, c, rdf.Quad{Graph: g1}))

		mustAdd(t, c, q)
		assert.Equal(t, int64(1), mult(t, c, q))
		assert.Len(t, scanAll(t, c, rdf.Quad{Graph: g1}), 1)

		mustAdd(t, c, q)
		assert.Equal(t, int64(2), mult(t, c, q))
		assert.Equal(t, int64(2), scanAll(t, c, rdf.Quad{Graph: g1})[0].Multiplicity)
	})

	t.Run("remove", func(t *testing.T) {
		c := NewSnapshotCache(NewQuadIndex(), 0, 0)
		mustAdd(t, c, q, q)
		assert.Equal(t, int64(2), mult(t, c, q))

		_, err := c.RemoveQuad(q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), mult(t, c, q))

		require.NoError(t, c.RemoveMatching(rdf.Quad{Predicate: knows}, nil))
		assert.Zero(t, mult(t, c, q))
	})

	t.Run("copy_and_move", func(t *testing.T) {
		c := NewSnapshotCache(NewQuadIndex(), 0, 0)
		mustAdd(t, c, q, rdf.NewQuad(g2, alice, knows, bob))
		assert.Equal(t, int64(1), mult(t, c, rdf.NewQuad(g2, alice, knows, bob)))
		assert.Len(t, scanAll(t, c, rdf.Quad{Graph: g2}), 1)

		require.NoError(t, c.CopyGraph(g1, g2, false, nil))
		assert.Equal(t, int64(2), mult(t, c, rdf.NewQuad(g2, alice, knows, bob)), "increment without buffered quad")

		require.NoError(t, c.MoveGraph(g2, g1, nil))
		assert.Zero(t, mult(t, c, rdf.Quad{Graph: g2}))
		assert.Empty(t, scanAll(t, c, rdf.Quad{Graph: g2}))
		assert.Equal(t, int64(2), mult(t, c, q))
	})

	t.Run("clear", func(t *testing.T) {
		c := NewSnapshotCache(NewQuadIndex(), 0, 0)
		mustAdd(t, c, q, rdf.NewQuad(g2, bob, knows, carol))
		scanAll(t, c, rdf.Quad{Subject: bob})
		scanAll(t, c, rdf.Quad{Graph: g1})

		require.NoError(t, c.ClearGraph(g2, nil))
		assert.Empty(t, scanAll(t, c, rdf.Quad{Subject: bob}))

		require.NoError(t, c.ClearAll(nil))
		assert.Empty(t, scanAll(t, c, rdf.Quad{Graph: g1}))
		assert.Zero(t, c.SubjectStats().Size)
	})
}

func TestSnapshotCache_Eviction(t *testing.T) {
	c := NewSnapshotCache(NewQuadIndex(), 1, 1)
	mustAdd(t, c, rdf.NewQuad(g1, alice, knows, bob), rdf.NewQuad(g1, bob, knows, carol))

	mult(t, c, rdf.Quad{Subject: alice})
	mult(t, c, rdf.Quad{Subject: bob})
	stats := c.SubjectStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestSnapshotCache_Batch(t *testing.T) {
	t.Run("without_batching_backing", func(t *testing.T) {
		c := NewSnapshotCache(NewQuadIndex(), 0, 0)
		q := rdf.NewQuad(g1, alice, knows, bob)
		require.NoError(t, c.Batch(func(s Storage) error {
			_, err := s.AddQuad(q)
			return err
		}))
		assert.Equal(t, int64(1), mult(t, c, q))
	})

	t.Run("over_badger", func(t *testing.T) {
		disk, err := NewBadgerStorageInMemory()
		require.NoError(t, err)
		defer disk.Close()
		c := NewSnapshotCache(disk, 0, 0)
		ds := NewQuadSet(c)
		q := rdf.NewQuad(g1, alice, knows, bob)

		require.NoError(t, ds.Add(q))
		assert.Equal(t, int64(1), mult(t, c, q))
		assert.Len(t, scanAll(t, c, rdf.Quad{Graph: g1}), 1)

		require.NoError(t, ds.Insert(NewChangeset(
			[]rdf.Quad{q, rdf.NewQuad(g1, alice, knows, carol)},
			nil,
		)))
		assert.Equal(t, int64(2), mult(t, c, q))
		assert.Len(t, scanAll(t, c, rdf.Quad{Graph: g1}), 2)
		assert.Equal(t, int64(3), mult(t, c, rdf.Quad{Subject: alice}))
	})
}
