package storage

import (
	"github.com/cockroachdb/errors"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// Storage errors
var (
	ErrUnsupportedNodeType  = errors.New("unsupported node type")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrIllegalArgument      = errors.New("illegal argument")
	ErrConcurrentWrite      = errors.New("concurrent write conflict")
	ErrStorageClosed        = errors.New("storage closed")
	ErrReadOnly             = errors.New("read-only")
)

// Transaction errors
var (
	ErrNoTransaction     = errors.New("no active transaction")
	ErrTransactionClosed = errors.New("transaction already closed")
)

// ErrStopScan can be returned by a ScanFunc to end a scan early without error.
var ErrStopScan = errors.New("stop scan")

// UnsupportedNodeTypeError reports a node of the wrong kind in a quad field.
//
// It matches ErrUnsupportedNodeType with errors.Is.
type UnsupportedNodeTypeError struct {
	Field string
	Node  rdf.Node
}

func (e *UnsupportedNodeTypeError) Error() string {
	if e.Node == nil {
		return "unsupported node type: missing " + e.Field
	}
	return "unsupported node type: " + e.Node.Kind().String() + " " + e.Node.String() + " as " + e.Field
}

func (e *UnsupportedNodeTypeError) Is(target error) bool {
	return target == ErrUnsupportedNodeType
}

// checkQuad validates a concrete quad before it is stored.
func checkQuad(q rdf.Quad) error {
	if field := q.InvalidField(); field != "" {
		return &UnsupportedNodeTypeError{Field: field, Node: q.FieldNode(field)}
	}
	return nil
}

// checkPattern validates a pattern whose bound fields must have storable kinds.
func checkPattern(q rdf.Quad) error {
	if field := q.InvalidPatternField(); field != "" {
		return &UnsupportedNodeTypeError{Field: field, Node: q.FieldNode(field)}
	}
	return nil
}

// checkGraph validates a graph argument of clear/copy/move.
func checkGraph(g rdf.Node) error {
	if rdf.IsWildcard(g) {
		return &UnsupportedNodeTypeError{Field: rdf.FieldGraph, Node: g}
	}
	k := g.Kind()
	if k != rdf.KindIRI && k != rdf.KindBlank {
		return &UnsupportedNodeTypeError{Field: rdf.FieldGraph, Node: g}
	}
	return nil
}
