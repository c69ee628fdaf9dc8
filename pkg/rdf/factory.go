package rdf

import (
	"sync"

	"github.com/google/uuid"
)

// NodeFactory creates and interns nodes.
//
// It is safe for concurrent use. Interned nodes are kept for the factory's
// lifetime; Purge drops them all. Nodes from different factories, or built
// directly with IRI/Literal/etc, still compare equal by value.
type NodeFactory struct {
	iris     sync.Map // string -> IRINode
	literals sync.Map // LiteralNode -> LiteralNode
}

// NewNodeFactory returns an empty factory.
func NewNodeFactory() *NodeFactory {
	return &NodeFactory{}
}

// IRI returns the interned IRI node for value.
func (f *NodeFactory) IRI(value string) IRINode {
	if n, ok := f.iris.Load(value); ok {
		return n.(IRINode)
	}
	n, _ := f.iris.LoadOrStore(value, IRI(value))
	return n.(IRINode)
}

// Blank returns a fresh blank node with a random identifier.
func (f *NodeFactory) Blank() BlankNode {
	return Blank(uuid.NewString())
}

// Literal returns the interned literal node. See Literal for defaults.
func (f *NodeFactory) Literal(lexical, datatype, lang string) LiteralNode {
	key := Literal(lexical, datatype, lang)
	n, _ := f.literals.LoadOrStore(key, key)
	return n.(LiteralNode)
}

// Anonymous returns the anonymous individual node for id.
func (f *NodeFactory) Anonymous(id string) AnonymousNode {
	return Anonymous(id)
}

// Dynamic wraps expr in a dynamic node.
func (f *NodeFactory) Dynamic(expr Evaluable) DynamicNode {
	return Dynamic(expr)
}

// Size returns the number of interned IRIs and literals.
func (f *NodeFactory) Size() int {
	n := 0
	f.iris.Range(func(_, _ any) bool { n++; return true })
	f.literals.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Purge drops every interned node.
func (f *NodeFactory) Purge() {
	f.iris.Clear()
	f.literals.Clear()
}
