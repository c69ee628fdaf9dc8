package rdf

import "strings"

// Quad field names, as reported by Quad.InvalidField.
const (
	FieldGraph     = "graph"
	FieldSubject   = "subject"
	FieldPredicate = "predicate"
	FieldObject    = "object"
)

// Quad is an RDF statement with an explicit graph name.
//
// A Quad with nil or variable fields is a pattern. Quads are comparable and can
// be used as map keys.
type Quad struct {
	Graph     Node
	Subject   Node
	Predicate Node
	Object    Node
}

// NewQuad builds a quad in (graph, subject, predicate, object) order.
func NewQuad(graph, subject, predicate, object Node) Quad {
	return Quad{Graph: graph, Subject: subject, Predicate: predicate, Object: object}
}

// IsPattern reports whether any field is a wildcard.
func (q Quad) IsPattern() bool {
	return IsWildcard(q.Graph) || IsWildcard(q.Subject) || IsWildcard(q.Predicate) || IsWildcard(q.Object)
}

// Matches reports whether the concrete quad other matches the pattern q.
func (q Quad) Matches(other Quad) bool {
	return MatchNode(q.Subject, other.Subject) &&
		MatchNode(q.Predicate, other.Predicate) &&
		MatchNode(q.Object, other.Object) &&
		MatchNode(q.Graph, other.Graph)
}

// InvalidField returns the name of the first field holding a node of a kind
// that cannot be stored there, or "" when q can be stored.
//
// Wildcards are rejected; callers check patterns with InvalidPatternField.
func (q Quad) InvalidField() string {
	if !isGraphKind(q.Graph) {
		return FieldGraph
	}
	if !isSubjectKind(q.Subject) {
		return FieldSubject
	}
	if q.Predicate == nil || q.Predicate.Kind() != KindIRI {
		return FieldPredicate
	}
	if q.Object == nil || q.Object.Kind() == KindVariable {
		return FieldObject
	}
	return ""
}

// InvalidPatternField is InvalidField with wildcards allowed in every position.
func (q Quad) InvalidPatternField() string {
	if !IsWildcard(q.Graph) && !isGraphKind(q.Graph) {
		return FieldGraph
	}
	if !IsWildcard(q.Subject) && !isSubjectKind(q.Subject) {
		return FieldSubject
	}
	if !IsWildcard(q.Predicate) && q.Predicate.Kind() != KindIRI {
		return FieldPredicate
	}
	return ""
}

// FieldNode returns the node in the named field.
func (q Quad) FieldNode(field string) Node {
	switch field {
	case FieldGraph:
		return q.Graph
	case FieldSubject:
		return q.Subject
	case FieldPredicate:
		return q.Predicate
	case FieldObject:
		return q.Object
	}
	return nil
}

func (q Quad) String() string {
	var b strings.Builder
	for i, n := range []Node{q.Subject, q.Predicate, q.Object, q.Graph} {
		if i > 0 {
			b.WriteByte(' ')
		}
		if n == nil {
			b.WriteString("*")
		} else {
			b.WriteString(n.String())
		}
	}
	b.WriteString(" .")
	return b.String()
}

func isGraphKind(n Node) bool {
	if n == nil {
		return false
	}
	k := n.Kind()
	return k == KindIRI || k == KindBlank
}

func isSubjectKind(n Node) bool {
	if n == nil {
		return false
	}
	k := n.Kind()
	return k == KindIRI || k == KindBlank || k == KindAnonymous
}
