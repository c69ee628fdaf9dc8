package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadstore/pkg/rdf"
)

func openBadger(t *testing.T) *BadgerStorage {
	t.Helper()
	b, err := NewBadgerStorageInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBadgerStorage_Contract(t *testing.T) {
	storageContract(t, func(t *testing.T) Storage { return openBadger(t) })
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	q := rdf.NewQuad(g1, alice, name, rdf.Literal("Alice", "", "en"))
	anon := rdf.NewQuad(rdf.Blank("g"), rdf.Anonymous("a1"), knows, rdf.Literal("42", rdf.XSDInteger, ""))

	b, err := NewBadgerStorage(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	mustAdd(t, b, q, q, anon)
	require.NoError(t, b.Close())

	b, err = NewBadgerStorage(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, int64(2), mult(t, b, q))
	assert.Equal(t, int64(1), mult(t, b, anon))
	got := scanAll(t, b, rdf.Quad{Graph: rdf.Blank("g")})
	require.Len(t, got, 1)
	assert.Equal(t, anon, got[0].Quad)
}

func TestBadgerStorage_Closed(t *testing.T) {
	b, err := NewBadgerStorageInMemory()
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.AddQuad(rdf.NewQuad(g1, alice, knows, bob))
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = b.Count(rdf.Quad{})
	assert.ErrorIs(t, err, ErrStorageClosed)
	assert.ErrorIs(t, b.ClearAll(nil), ErrStorageClosed)
}

func TestBadgerStorage_DynamicNodes(t *testing.T) {
	b := openBadger(t)
	q := rdf.NewQuad(g1, alice, knows, rdf.Dynamic(&testExpr{src: "now()"}))

	_, err := b.AddQuad(q)
	var unsupported *UnsupportedNodeTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, rdf.FieldObject, unsupported.Field)

	assert.Zero(t, mult(t, b, q))
	r, err := b.RemoveQuad(q)
	require.NoError(t, err)
	assert.Equal(t, RemoveNotFound, r)
	assert.Empty(t, scanAll(t, b, rdf.Quad{Object: q.Object}))
}

func TestBadgerStorage_Batch(t *testing.T) {
	t.Run("applies_atomically", func(t *testing.T) {
		b := openBadger(t)
		q := rdf.NewQuad(g1, alice, knows, bob)
		err := b.Batch(func(s Storage) error {
			if _, err := s.AddQuad(q); err != nil {
				return err
			}
			_, err := s.AddQuad(rdf.NewQuad(rdf.PlainLiteral("bad"), alice, knows, bob))
			return err
		})
		require.ErrorIs(t, err, ErrUnsupportedNodeType)
		assert.Zero(t, mult(t, b, q))
	})

	t.Run("reads_own_writes", func(t *testing.T) {
		b := openBadger(t)
		q := rdf.NewQuad(g1, alice, knows, bob)
		require.NoError(t, b.Batch(func(s Storage) error {
			mustAdd(t, s, q, q)
			assert.Equal(t, int64(2), mult(t, s, q))
			return nil
		}))
		assert.Equal(t, int64(2), mult(t, b, q))
	})

	t.Run("conflict_maps_to_concurrent_write", func(t *testing.T) {
		b := openBadger(t)
		q := rdf.NewQuad(g1, alice, knows, bob)
		err := b.Batch(func(s Storage) error {
			if _, err := s.Multiplicity(q); err != nil {
				return err
			}
			_, err := b.AddQuad(q)
			require.NoError(t, err)
			_, err = s.AddQuad(q)
			return err
		})
		assert.ErrorIs(t, err, ErrConcurrentWrite)
		assert.Equal(t, int64(1), mult(t, b, q))
	})
}

func TestBadgerStorage_GraphsSkipsDuplicates(t *testing.T) {
	b := openBadger(t)
	for i := 0; i < 5; i++ {
		mustAdd(t, b, rdf.NewQuad(g1, alice, knows, rdf.Literal(string(rune('a'+i)), "", "")))
	}
	mustAdd(t, b, rdf.NewQuad(g2, bob, knows, carol))

	graphs, err := b.Graphs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []rdf.Node{g1, g2}, graphs)
}

func TestTermSerialization(t *testing.T) {
	terms := []rdf.Node{
		rdf.IRI("http://example.org/x"),
		rdf.Blank("b0"),
		rdf.Anonymous("a0"),
		rdf.PlainLiteral("plain"),
		rdf.Literal("bonjour", "", "fr"),
		rdf.Literal("1", rdf.XSDInteger, ""),
	}
	seen := make(map[fingerprint]rdf.Node)
	for _, n := range terms {
		data, err := encodeTerm(n)
		require.NoError(t, err)
		back, err := decodeTerm(data)
		require.NoError(t, err)
		assert.Equal(t, n, back)

		fp, ok := termFingerprint(n)
		require.True(t, ok)
		assert.NotContains(t, seen, fp, "fingerprint collision for %v", n)
		seen[fp] = n
	}

	_, ok := termFingerprint(rdf.Variable("x"))
	assert.False(t, ok)
	_, err := encodeTerm(rdf.Dynamic(&testExpr{src: "1"}))
	assert.Error(t, err)
}

func TestPlanScan(t *testing.T) {
	t.Run("subject_bound_uses_spog", func(t *testing.T) {
		plan, ok := planScan(rdf.Quad{Subject: alice, Predicate: knows})
		require.True(t, ok)
		assert.False(t, plan.byGraph)
		assert.Len(t, plan.prefix, 1+2*fpSize)
	})

	t.Run("graph_bound_uses_gspo", func(t *testing.T) {
		plan, ok := planScan(rdf.Quad{Graph: g1, Object: bob})
		require.True(t, ok)
		assert.True(t, plan.byGraph)
		assert.Equal(t, prefixGSPO, plan.prefix[0])
		assert.Len(t, plan.prefix, 1+fpSize)
	})

	t.Run("predicate_only_scans_everything", func(t *testing.T) {
		plan, ok := planScan(rdf.Quad{Predicate: knows})
		require.True(t, ok)
		assert.Equal(t, []byte{prefixSPOG}, plan.prefix)
	})

	t.Run("unstorable_term_matches_nothing", func(t *testing.T) {
		_, ok := planScan(rdf.Quad{Object: rdf.Dynamic(&testExpr{src: "1"})})
		assert.False(t, ok)
	})
}
