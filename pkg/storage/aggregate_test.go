package storage

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

func TestAggregateDataset_Reads(t *testing.T) {
	shared := rdf.NewQuad(g1, alice, knows, bob)
	left := newBase(t, shared, rdf.NewQuad(g1, alice, name, rdf.PlainLiteral("Alice")))
	right := newBase(t, shared, shared, rdf.NewQuad(g2, bob, knows, carol))
	agg := NewAggregateDataset(left, right)

	m, err := agg.Multiplicity(shared)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m)

	n, err := agg.Count(rdf.Quad{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "overlapping quads are counted once per child")

	all, err := agg.GetAll(rdf.Quad{Subject: alice, Predicate: knows})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].Multiplicity)
	assert.Equal(t, int64(2), all[1].Multiplicity)

	graphs, err := agg.Graphs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []rdf.Node{g1, g2}, graphs)
}

func TestAggregateDataset_StreamStops(t *testing.T) {
	agg := NewAggregateDataset(
		newBase(t, rdf.NewQuad(g1, alice, knows, bob)),
		newBase(t, rdf.NewQuad(g1, bob, knows, carol)),
	)
	calls := 0
	err := agg.Stream(context.Background(), rdf.Quad{}, func(CountedQuad) error {
		calls++
		return ErrStopScan
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestAggregateDataset_Writes(t *testing.T) {
	left := newBase(t, rdf.NewQuad(g1, alice, knows, bob))
	right := newBase(t, rdf.NewQuad(g1, bob, knows, carol), rdf.NewQuad(g2, bob, knows, carol))
	agg := NewAggregateDataset(left, right)
	q := rdf.NewQuad(g1, carol, knows, alice)

	assert.ErrorIs(t, agg.Add(q), ErrUnsupportedOperation)
	assert.ErrorIs(t, agg.Remove(q), ErrUnsupportedOperation)
	assert.ErrorIs(t, agg.Insert(ChangesetFromAdded([]rdf.Quad{q})), ErrUnsupportedOperation)

	require.NoError(t, agg.ClearGraph(g1))
	n, err := agg.Count(rdf.Quad{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, agg.Move(g2, g1))
	m, err := right.Multiplicity(rdf.NewQuad(g1, bob, knows, carol))
	require.NoError(t, err)
	assert.Equal(t, int64(1), m)

	require.NoError(t, agg.Clear())
	n, err = agg.Count(rdf.Quad{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAggregateDataset_BroadcastCombinesErrors(t *testing.T) {
	agg := NewAggregateDataset(
		NewQuadSet(NewQuadIndex(), ReadOnly()),
		NewQuadSet(NewQuadIndex()),
	)
	err := agg.Clear()
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestAggregateDataset_Listeners(t *testing.T) {
	left := NewQuadSet(NewQuadIndex())
	right := NewQuadSet(NewQuadIndex())
	agg := NewAggregateDataset(left, right)
	rec := &Recorder{}
	agg.AddListener(rec)

	require.NoError(t, left.Add(rdf.NewQuad(g1, alice, knows, bob)))
	require.NoError(t, right.Add(rdf.NewQuad(g2, bob, knows, carol)))
	assert.Len(t, rec.Events, 2)

	agg.RemoveListener(rec)
	require.NoError(t, left.Add(rdf.NewQuad(g1, carol, knows, bob)))
	assert.Len(t, rec.Events, 2)
	assert.True(t, left.listeners.empty())
}

func TestAggregateDataset_BroadcastNotifiesOnce(t *testing.T) {
	left := NewQuadSet(NewQuadIndex())
	right := NewQuadSet(NewQuadIndex())
	require.NoError(t, left.Add(rdf.NewQuad(g1, alice, knows, bob)))
	require.NoError(t, right.Add(rdf.NewQuad(g1, bob, knows, carol)))
	agg := NewAggregateDataset(left, right)
	rec := &Recorder{}
	agg.AddListener(rec)

	require.NoError(t, agg.ClearGraph(g1))
	require.Len(t, rec.Events, 1)
	assert.Len(t, rec.Changes()[0].Removed, 2)
}

func TestAggregateDataset_DisjointChildrenAddUp(t *testing.T) {
	patterns := []rdf.Quad{
		{},
		{Subject: alice},
		{Predicate: knows, Object: bob},
		{Graph: g1},
		{Graph: g3, Subject: carol},
	}

	for seed := int64(1); seed <= 30; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewSource(seed))
			left := newBase(t, rdf.NewQuad(g1, alice, knows, bob))
			right := newBase(t, rdf.NewQuad(g3, bob, knows, carol))
			agg := NewAggregateDataset(left, right)

			leftOps := randomOps(r, []rdf.Node{g1, g2}, 30)
			rightOps := randomOps(r, []rdf.Node{g3, g4}, 30)
			for i := range leftOps {
				require.NoError(t, leftOps[i].apply(left), leftOps[i].desc)
				require.NoError(t, rightOps[i].apply(right), rightOps[i].desc)
			}

			for _, p := range patterns {
				want := count(t, left, p) + count(t, right, p)
				assert.Equal(t, want, count(t, agg, p), "count %s", p)

				all, err := agg.GetAll(p)
				require.NoError(t, err)
				var units, childUnits int64
				for _, cq := range all {
					units += cq.Multiplicity
					lm, err := left.Multiplicity(cq.Quad)
					require.NoError(t, err)
					rm, err := right.Multiplicity(cq.Quad)
					require.NoError(t, err)
					assert.Equal(t, lm+rm, cq.Multiplicity, "multiplicity of %s", cq.Quad)
				}
				for _, child := range []*QuadSet{left, right} {
					m, err := child.Multiplicity(p)
					require.NoError(t, err)
					childUnits += m
				}
				assert.Equal(t, childUnits, units, "units of %s", p)
			}

			lg, err := left.Graphs()
			require.NoError(t, err)
			rg, err := right.Graphs()
			require.NoError(t, err)
			ag, err := agg.Graphs()
			require.NoError(t, err)
			assert.ElementsMatch(t, append(lg, rg...), ag)
		})
	}
}
