// Package rdf defines the RDF terms and quads stored by quadstore.
//
// Every concrete node type is a small comparable struct, so two nodes are the
// same term exactly when they compare equal with ==. This holds whether or not
// the nodes came from a NodeFactory: interning only saves allocations.
//
// Node kinds:
//   - IRINode: a named resource (<http://example.org/alice>)
//   - BlankNode: an anonymous resource local to a dataset (_:b0)
//   - LiteralNode: a value with a datatype and an optional language tag
//   - AnonymousNode: an OWL anonymous individual
//   - DynamicNode: a computed value wrapping an Evaluable expression
//   - VariableNode: a query variable, only meaningful as a pattern wildcard
//
// Example:
//
//	alice := rdf.IRI("http://example.org/alice")
//	name := rdf.IRI("http://xmlns.com/foaf/0.1/name")
//	q := rdf.NewQuad(rdf.IRI("http://example.org/g"), alice, name, rdf.PlainLiteral("Alice"))
//
//	// Nil fields and variables are wildcards in patterns
//	pattern := rdf.Quad{Subject: alice}
//	fmt.Println(pattern.Matches(q)) // true
package rdf

import (
	"strconv"
	"strings"
)

// NodeKind identifies the variant of an RDF term.
type NodeKind uint8

const (
	KindIRI NodeKind = iota + 1
	KindBlank
	KindLiteral
	KindAnonymous
	KindDynamic
	KindVariable
)

func (k NodeKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	case KindAnonymous:
		return "anonymous"
	case KindDynamic:
		return "dynamic"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Node is an RDF term.
//
// Implementations are comparable value types; use == or Same to compare.
type Node interface {
	Kind() NodeKind
	String() string
}

// IRINode is a node identified by an IRI.
type IRINode struct {
	Value string
}

// IRI returns the IRI node for value.
func IRI(value string) IRINode { return IRINode{Value: value} }

func (IRINode) Kind() NodeKind    { return KindIRI }
func (n IRINode) String() string { return "<" + n.Value + ">" }

// BlankNode is a blank node with a dataset-local identifier.
type BlankNode struct {
	ID string
}

// Blank returns the blank node with the given identifier.
func Blank(id string) BlankNode { return BlankNode{ID: id} }

func (BlankNode) Kind() NodeKind    { return KindBlank }
func (n BlankNode) String() string { return "_:" + n.ID }

// LiteralNode is a literal value. Lang is empty unless Datatype is rdf:langString.
type LiteralNode struct {
	Lexical  string
	Datatype string
	Lang     string
}

// Literal returns a literal node. An empty datatype defaults to xsd:string, or to
// rdf:langString when a language tag is given.
func Literal(lexical, datatype, lang string) LiteralNode {
	if lang != "" {
		return LiteralNode{Lexical: lexical, Datatype: RDFLangString, Lang: strings.ToLower(lang)}
	}
	if datatype == "" {
		datatype = XSDString
	}
	return LiteralNode{Lexical: lexical, Datatype: datatype}
}

// PlainLiteral returns an xsd:string literal.
func PlainLiteral(lexical string) LiteralNode { return Literal(lexical, "", "") }

func (LiteralNode) Kind() NodeKind { return KindLiteral }

func (n LiteralNode) String() string {
	s := strconv.Quote(n.Lexical)
	switch {
	case n.Lang != "":
		return s + "@" + n.Lang
	case n.Datatype != "" && n.Datatype != XSDString:
		return s + "^^<" + n.Datatype + ">"
	default:
		return s
	}
}

// AnonymousNode is an OWL anonymous individual.
type AnonymousNode struct {
	ID string
}

// Anonymous returns the anonymous individual with the given identifier.
func Anonymous(id string) AnonymousNode { return AnonymousNode{ID: id} }

func (AnonymousNode) Kind() NodeKind    { return KindAnonymous }
func (n AnonymousNode) String() string { return "_:anon-" + n.ID }

// Evaluable is a handle on a computed expression carried by a DynamicNode.
//
// Implementations must be comparable; pointer receivers are the usual choice.
type Evaluable interface {
	Source() string
}

// DynamicNode is a node whose value is computed by an expression.
type DynamicNode struct {
	Expr Evaluable
}

// Dynamic wraps an evaluable expression.
func Dynamic(expr Evaluable) DynamicNode { return DynamicNode{Expr: expr} }

func (DynamicNode) Kind() NodeKind { return KindDynamic }

func (n DynamicNode) String() string {
	if n.Expr == nil {
		return "$()"
	}
	return "$(" + n.Expr.Source() + ")"
}

// VariableNode is a query variable. It matches anything in a pattern and is
// never stored.
type VariableNode struct {
	Name string
}

// Variable returns a named variable.
func Variable(name string) VariableNode { return VariableNode{Name: name} }

func (VariableNode) Kind() NodeKind    { return KindVariable }
func (n VariableNode) String() string { return "?" + n.Name }

// Same reports whether a and b denote the same term. Nil is only the same as nil.
func Same(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// IsWildcard reports whether n matches any term in a pattern.
func IsWildcard(n Node) bool {
	if n == nil {
		return true
	}
	return n.Kind() == KindVariable
}

// MatchNode reports whether the pattern position p accepts n.
func MatchNode(p, n Node) bool {
	return IsWildcard(p) || p == n
}
