package rdf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testExpr struct{ src string }

func (e *testExpr) Source() string { return e.src }

func TestNodeEquality(t *testing.T) {
	t.Run("iri_by_value", func(t *testing.T) {
		var a, b Node = IRI("http://example.org/a"), IRI("http://example.org/a")
		assert.True(t, Same(a, b))
		assert.False(t, Same(a, IRI("http://example.org/b")))
	})

	t.Run("literal_defaults", func(t *testing.T) {
		assert.Equal(t, XSDString, PlainLiteral("x").Datatype)
		l := Literal("chat", "", "FR")
		assert.Equal(t, RDFLangString, l.Datatype)
		assert.Equal(t, "fr", l.Lang)
		assert.Equal(t, Literal("chat", "", "fr"), l)
	})

	t.Run("kinds_do_not_collide", func(t *testing.T) {
		assert.False(t, Same(Blank("x"), Anonymous("x")))
		assert.False(t, Same(IRI("x"), PlainLiteral("x")))
	})

	t.Run("dynamic_by_handle", func(t *testing.T) {
		e := &testExpr{src: "1 + 1"}
		assert.True(t, Same(Dynamic(e), Dynamic(e)))
		assert.False(t, Same(Dynamic(e), Dynamic(&testExpr{src: "1 + 1"})))
	})

	t.Run("nil", func(t *testing.T) {
		assert.True(t, Same(nil, nil))
		assert.False(t, Same(nil, IRI("x")))
	})
}

func TestQuadValidation(t *testing.T) {
	g, s, p := IRI("http://g"), IRI("http://s"), IRI("http://p")

	tests := []struct {
		name  string
		quad  Quad
		field string
	}{
		{"valid", NewQuad(g, s, p, PlainLiteral("o")), ""},
		{"blank_graph", NewQuad(Blank("g"), s, p, s), ""},
		{"anonymous_subject", NewQuad(g, Anonymous("a"), p, s), ""},
		{"literal_graph", NewQuad(PlainLiteral("g"), s, p, s), FieldGraph},
		{"literal_subject", NewQuad(g, PlainLiteral("s"), p, s), FieldSubject},
		{"blank_predicate", NewQuad(g, s, Blank("p"), s), FieldPredicate},
		{"missing_object", NewQuad(g, s, p, nil), FieldObject},
		{"variable_subject", NewQuad(g, Variable("x"), p, s), FieldSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.field, tt.quad.InvalidField())
		})
	}

	t.Run("pattern_allows_wildcards", func(t *testing.T) {
		assert.Equal(t, "", Quad{Subject: s, Predicate: Variable("p")}.InvalidPatternField())
		assert.Equal(t, FieldSubject, Quad{Subject: PlainLiteral("s")}.InvalidPatternField())
	})
}

func TestQuadMatches(t *testing.T) {
	q := NewQuad(IRI("http://g"), IRI("http://s"), IRI("http://p"), PlainLiteral("o"))

	assert.True(t, Quad{}.Matches(q))
	assert.True(t, Quad{Subject: IRI("http://s"), Object: Variable("o")}.Matches(q))
	assert.False(t, Quad{Graph: IRI("http://other")}.Matches(q))
	assert.True(t, Quad{}.IsPattern())
	assert.False(t, q.IsPattern())

	seen := map[Quad]int{q: 1}
	seen[NewQuad(IRI("http://g"), IRI("http://s"), IRI("http://p"), PlainLiteral("o"))]++
	assert.Equal(t, 2, seen[q])
}

func TestReservedGraphs(t *testing.T) {
	assert.True(t, IsReservedGraph(GraphInference))
	assert.True(t, IsReservedGraph(IRI(GraphMetaIRI)))
	assert.False(t, IsReservedGraph(GraphDefault))
	assert.False(t, IsReservedGraph(nil))
}

func TestNodeFactory(t *testing.T) {
	f := NewNodeFactory()

	t.Run("interning", func(t *testing.T) {
		assert.Equal(t, f.IRI("http://a"), f.IRI("http://a"))
		assert.Equal(t, IRI("http://a"), f.IRI("http://a"))
		assert.Equal(t, PlainLiteral("x"), f.Literal("x", "", ""))
	})

	t.Run("fresh_blanks", func(t *testing.T) {
		assert.NotEqual(t, f.Blank(), f.Blank())
	})

	t.Run("concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					f.IRI("http://shared")
				}
			}()
		}
		wg.Wait()
		require.GreaterOrEqual(t, f.Size(), 1)
	})

	t.Run("purge", func(t *testing.T) {
		f.Purge()
		assert.Equal(t, 0, f.Size())
	})
}
