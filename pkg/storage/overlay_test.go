package storage

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

func TestDiffOverlay_Contract(t *testing.T) {
	storageContract(t, func(*testing.T) Storage {
		return NewDiffOverlay(NewQuadSet(NewQuadIndex()))
	})
}

func newBase(t *testing.T, quads ...rdf.Quad) *QuadSet {
	t.Helper()
	base := NewQuadSet(NewQuadIndex())
	require.NoError(t, base.Insert(ChangesetFromAdded(quads)))
	return base
}

func TestDiffOverlay_LeavesBaseUntouched(t *testing.T) {
	q := rdf.NewQuad(g1, alice, knows, bob)
	base := newBase(t, q)
	overlay := NewDiffOverlay(base)

	r, err := overlay.RemoveQuad(q)
	require.NoError(t, err)
	assert.Equal(t, RemoveRemoved, r)
	_, err = overlay.AddQuad(rdf.NewQuad(g2, bob, knows, carol))
	require.NoError(t, err)

	m, err := base.Multiplicity(q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m)
	n, err := base.Count(rdf.Quad{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, int64(0), mult(t, overlay, q))
	got := scanAll(t, overlay, rdf.Quad{})
	require.Len(t, got, 1)
	assert.Equal(t, rdf.NewQuad(g2, bob, knows, carol), got[0].Quad)

	graphs, err := overlay.Graphs()
	require.NoError(t, err)
	assert.Equal(t, []rdf.Node{g2}, graphs)
}

func TestDiffOverlay_Cancellation(t *testing.T) {
	q := rdf.NewQuad(g1, alice, knows, bob)

	t.Run("remove_then_add_restores_base", func(t *testing.T) {
		overlay := NewDiffOverlay(newBase(t, q, q))
		rr, err := overlay.RemoveQuad(q)
		require.NoError(t, err)
		assert.Equal(t, RemoveDecrement, rr)
		r, err := overlay.AddQuad(q)
		require.NoError(t, err)
		assert.Equal(t, AddIncrement, r)

		assert.False(t, overlay.IsDirty())
		assert.Equal(t, int64(2), mult(t, overlay, q))
		assert.True(t, overlay.Changeset().IsEmpty())
	})

	t.Run("add_then_remove_is_clean", func(t *testing.T) {
		overlay := NewDiffOverlay(newBase(t))
		r, err := overlay.AddQuad(q)
		require.NoError(t, err)
		assert.Equal(t, AddNew, r)
		rr, err := overlay.RemoveQuad(q)
		require.NoError(t, err)
		assert.Equal(t, RemoveRemoved, rr)

		assert.False(t, overlay.IsDirty())
		assert.Empty(t, overlay.Touched())
	})

	t.Run("readd_after_full_removal_is_new", func(t *testing.T) {
		overlay := NewDiffOverlay(newBase(t, q))
		_, err := overlay.RemoveQuad(q)
		require.NoError(t, err)
		r, err := overlay.AddQuad(q)
		require.NoError(t, err)
		assert.Equal(t, AddNew, r)
	})

	t.Run("remove_beyond_base_not_found", func(t *testing.T) {
		overlay := NewDiffOverlay(newBase(t, q))
		_, err := overlay.RemoveQuad(q)
		require.NoError(t, err)
		rr, err := overlay.RemoveQuad(q)
		require.NoError(t, err)
		assert.Equal(t, RemoveNotFound, rr)
		assert.Equal(t, int64(1), overlay.negCount(q))
	})

	t.Run("increment_on_top_of_base", func(t *testing.T) {
		overlay := NewDiffOverlay(newBase(t, q))
		r, err := overlay.AddQuad(q)
		require.NoError(t, err)
		assert.Equal(t, AddIncrement, r)
		rr, err := overlay.RemoveQuad(q)
		require.NoError(t, err)
		assert.Equal(t, RemoveDecrement, rr)
		assert.Equal(t, int64(1), mult(t, overlay, q))
	})
}

func TestDiffOverlay_Commit(t *testing.T) {
	kept := rdf.NewQuad(g1, alice, knows, bob)
	dropped := rdf.NewQuad(g1, bob, knows, carol)
	fresh := rdf.NewQuad(g2, carol, knows, alice)
	base := newBase(t, kept, dropped)
	rec := &Recorder{}
	base.AddListener(rec)

	overlay := NewDiffOverlay(base)
	_, err := overlay.RemoveQuad(dropped)
	require.NoError(t, err)
	_, err = overlay.AddQuad(fresh)
	require.NoError(t, err)
	_, err = overlay.AddQuad(fresh)
	require.NoError(t, err)
	assert.Empty(t, rec.Events)

	cs, err := overlay.Commit()
	require.NoError(t, err)
	assert.Equal(t, []rdf.Quad{fresh, fresh}, cs.Added)
	assert.Equal(t, []rdf.Quad{dropped}, cs.Removed)
	assert.False(t, overlay.IsDirty())

	require.Len(t, rec.Changes(), 1)
	m, err := base.Multiplicity(fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m)
	m, err = base.Multiplicity(dropped)
	require.NoError(t, err)
	assert.Zero(t, m)
	m, err = base.Multiplicity(kept)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m)
}

func TestDiffOverlay_CommitFailureKeepsChanges(t *testing.T) {
	q := rdf.NewQuad(g1, alice, knows, bob)
	overlay := NewDiffOverlay(NewQuadSet(NewQuadIndex(), ReadOnly()))
	_, err := overlay.AddQuad(q)
	require.NoError(t, err)

	_, err = overlay.Commit()
	require.ErrorIs(t, err, ErrReadOnly)
	assert.True(t, overlay.IsDirty())
	assert.Equal(t, int64(1), mult(t, overlay, q))
}

func TestDiffOverlay_Rollback(t *testing.T) {
	q := rdf.NewQuad(g1, alice, knows, bob)
	base := newBase(t, q)
	overlay := NewDiffOverlay(base)
	_, err := overlay.RemoveQuad(q)
	require.NoError(t, err)
	_, err = overlay.AddQuad(rdf.NewQuad(g2, bob, knows, carol))
	require.NoError(t, err)

	overlay.Rollback()
	assert.False(t, overlay.IsDirty())
	assert.Equal(t, int64(1), mult(t, overlay, q))
	n, err := overlay.Count(rdf.Quad{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDiffOverlay_MoveOverBase(t *testing.T) {
	origin := rdf.NewQuad(g1, alice, knows, bob)
	base := newBase(t, origin, origin)
	overlay := NewDiffOverlay(base)

	var buf Buffer
	require.NoError(t, overlay.MoveGraph(g1, g2, &buf))
	assert.Equal(t, []rdf.Quad{origin}, buf.Old)
	assert.Equal(t, []rdf.Quad{rdf.NewQuad(g2, alice, knows, bob)}, buf.New)
	assert.Equal(t, int64(0), mult(t, overlay, origin))
	assert.Equal(t, int64(1), mult(t, overlay, rdf.NewQuad(g2, alice, knows, bob)))

	cs := overlay.Changeset()
	assert.Equal(t, []rdf.Quad{rdf.NewQuad(g2, alice, knows, bob)}, cs.Added)
	assert.Equal(t, []rdf.Quad{origin, origin}, cs.Removed)
}

func TestDiffOverlay_Close(t *testing.T) {
	q := rdf.NewQuad(g1, alice, knows, bob)
	overlay := NewDiffOverlay(newBase(t, q))
	_, err := overlay.AddQuad(q)
	require.NoError(t, err)

	overlay.Close()
	assert.True(t, overlay.Closed())
	assert.False(t, overlay.IsDirty())
	_, err = overlay.AddQuad(q)
	assert.ErrorIs(t, err, ErrTransactionClosed)
	_, err = overlay.RemoveQuad(q)
	assert.ErrorIs(t, err, ErrTransactionClosed)
	_, err = overlay.Multiplicity(q)
	assert.ErrorIs(t, err, ErrTransactionClosed)
	_, err = overlay.Commit()
	assert.ErrorIs(t, err, ErrTransactionClosed)
	assert.ErrorIs(t, overlay.MoveGraph(g1, g1, nil), ErrTransactionClosed)
}

var (
	g3 = rdf.IRI("http://example.org/g3")
	g4 = rdf.IRI("http://example.org/g4")
)

// datasetOp is one mutation applied identically to several datasets.
type datasetOp struct {
	desc  string
	apply func(ds Dataset) error
}

// randomOps returns n random mutations over a small vocabulary so that quads
// collide often. Graph arguments are drawn from graphs.
func randomOps(r *rand.Rand, graphs []rdf.Node, n int) []datasetOp {
	people := []rdf.Node{alice, bob, carol}
	pick := func(nodes []rdf.Node) rdf.Node { return nodes[r.Intn(len(nodes))] }
	quad := func() rdf.Quad { return rdf.NewQuad(pick(graphs), pick(people), knows, pick(people)) }

	ops := make([]datasetOp, 0, n)
	for i := 0; i < n; i++ {
		var op datasetOp
		switch r.Intn(10) {
		case 0, 1, 2, 3:
			q := quad()
			op = datasetOp{"add " + q.String(), func(ds Dataset) error { return ds.Add(q) }}
		case 4, 5:
			q := quad()
			op = datasetOp{"remove " + q.String(), func(ds Dataset) error { return ds.Remove(q) }}
		case 6:
			p := rdf.Quad{Graph: pick(graphs), Subject: pick(people)}
			op = datasetOp{"remove matching " + p.String(), func(ds Dataset) error { return ds.Remove(p) }}
		case 7:
			g := pick(graphs)
			op = datasetOp{"clear " + g.String(), func(ds Dataset) error { return ds.ClearGraph(g) }}
		case 8:
			from, to, overwrite := pick(graphs), pick(graphs), r.Intn(2) == 0
			op = datasetOp{fmt.Sprintf("copy %s %s %v", from, to, overwrite), func(ds Dataset) error {
				return ds.Copy(from, to, overwrite)
			}}
		default:
			from, to := pick(graphs), pick(graphs)
			op = datasetOp{fmt.Sprintf("move %s %s", from, to), func(ds Dataset) error { return ds.Move(from, to) }}
		}
		ops = append(ops, op)
	}
	return ops
}

func TestDiffOverlay_RandomSequencesMatchDirectApplication(t *testing.T) {
	graphs := []rdf.Node{g1, g2, g3}
	start := []rdf.Quad{
		rdf.NewQuad(g1, alice, knows, bob),
		rdf.NewQuad(g1, alice, knows, bob),
		rdf.NewQuad(g2, bob, knows, carol),
		rdf.NewQuad(g3, carol, knows, alice),
	}

	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewSource(seed))
			direct := newBase(t, start...)
			base := newBase(t, start...)
			overlay := NewDiffOverlay(base)
			view := NewQuadSet(overlay)

			for _, op := range randomOps(r, graphs, 40) {
				require.NoError(t, op.apply(direct), op.desc)
				require.NoError(t, op.apply(view), op.desc)

				want, err := direct.GetAll(rdf.Quad{})
				require.NoError(t, err)
				got, err := view.GetAll(rdf.Quad{})
				require.NoError(t, err)
				require.ElementsMatch(t, want, got, "read through overlay after %s", op.desc)
			}

			before, err := base.Count(rdf.Quad{})
			require.NoError(t, err)
			assert.Equal(t, int64(len(start)-1), before, "base untouched until commit")

			_, err = overlay.Commit()
			require.NoError(t, err)
			want, err := direct.GetAll(rdf.Quad{})
			require.NoError(t, err)
			got, err := base.GetAll(rdf.Quad{})
			require.NoError(t, err)
			assert.ElementsMatch(t, want, got)
		})
	}
}
