// Package nquads reads and writes quads in the N-Quads syntax.
//
// Parsing and serialization are done by json-gold; this package converts
// between its RDF model and pkg/rdf nodes.
//
// Statements without a graph label are placed in the default graph
// (rdf.GraphDefault unless WithDefaultGraph says otherwise). When writing,
// quads of that graph are written without a label, so a document survives a
// read/write round trip.
//
// Blank node labels are scoped to one document: every label read gets a fresh
// blank node from the factory. Anonymous nodes are written as blank nodes.
// Dynamic nodes have no N-Quads form and cannot be written.
//
// Example:
//
//	quads, err := nquads.Read(file, rdf.NewNodeFactory())
//	if err != nil {
//		return err
//	}
//	err = ds.Insert(storage.ChangesetFromAdded(quads))
package nquads

import (
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/piprate/json-gold/ld"

	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/storage"
)

const jsonldDefaultGraph = "@default"

// DefaultChunkSize is the number of lines Export serializes at a time.
const DefaultChunkSize = 1024

// Option configures Read, Write and Export.
type Option func(*options)

type options struct {
	defaultGraph rdf.Node
	chunkSize    int
}

// WithDefaultGraph sets the graph of unlabelled statements.
func WithDefaultGraph(g rdf.Node) Option {
	return func(o *options) { o.defaultGraph = g }
}

// WithChunkSize sets how many lines Export buffers before writing them.
// Non-positive sizes select DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{defaultGraph: rdf.GraphDefault, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Read parses an N-Quads document.
func Read(r io.Reader, factory *rdf.NodeFactory, opts ...Option) ([]rdf.Quad, error) {
	o := newOptions(opts)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read n-quads")
	}
	dataset, err := ld.ParseNQuads(string(data))
	if err != nil {
		return nil, errors.Wrap(err, "parse n-quads")
	}

	c := &converter{factory: factory, blanks: make(map[string]rdf.BlankNode)}
	var out []rdf.Quad
	for label, quads := range dataset.Graphs {
		var graph rdf.Node = o.defaultGraph
		if label != jsonldDefaultGraph {
			graph = c.labelNode(label)
		}
		for _, q := range quads {
			s, err := c.node(q.Subject)
			if err != nil {
				return nil, err
			}
			p, err := c.node(q.Predicate)
			if err != nil {
				return nil, err
			}
			obj, err := c.node(q.Object)
			if err != nil {
				return nil, err
			}
			out = append(out, rdf.NewQuad(graph, s, p, obj))
		}
	}
	return out, nil
}

// Write serializes quads as an N-Quads document. Lines are sorted.
func Write(w io.Writer, quads []rdf.Quad, opts ...Option) error {
	o := newOptions(opts)
	dataset := ld.NewRDFDataset()
	for _, q := range quads {
		label := jsonldDefaultGraph
		if q.Graph != o.defaultGraph {
			gn, err := toLD(q.Graph)
			if err != nil {
				return errors.Wrapf(err, "graph of %s", q)
			}
			label = gn.GetValue()
		}
		s, err := toLD(q.Subject)
		if err != nil {
			return errors.Wrapf(err, "subject of %s", q)
		}
		p, err := toLD(q.Predicate)
		if err != nil {
			return errors.Wrapf(err, "predicate of %s", q)
		}
		obj, err := toLD(q.Object)
		if err != nil {
			return errors.Wrapf(err, "object of %s", q)
		}
		dataset.Graphs[label] = append(dataset.Graphs[label], ld.NewQuad(s, p, obj, label))
	}

	serializer := &ld.NQuadRDFSerializer{}
	doc, err := serializer.Serialize(dataset)
	if err != nil {
		return errors.Wrap(err, "serialize n-quads")
	}
	text, _ := doc.(string)
	_, err = io.WriteString(w, text)
	return errors.Wrap(err, "write n-quads")
}

// Import reads a document and inserts it into ds as one changeset. It returns
// the number of statements read.
func Import(ds storage.Dataset, r io.Reader, factory *rdf.NodeFactory, opts ...Option) (int, error) {
	quads, err := Read(r, factory, opts...)
	if err != nil {
		return 0, err
	}
	if err := ds.Insert(storage.ChangesetFromAdded(quads)); err != nil {
		return 0, errors.Wrap(err, "insert n-quads")
	}
	return len(quads), nil
}

// Export writes the quads of ds matching pattern, each repeated once per unit
// of multiplicity. It returns the number of lines written.
//
// Lines are serialized in chunks of WithChunkSize lines; each chunk is sorted
// on its own.
func Export(ctx context.Context, ds storage.Dataset, pattern rdf.Quad, w io.Writer, opts ...Option) (int, error) {
	o := newOptions(opts)
	chunk := make([]rdf.Quad, 0, o.chunkSize)
	written := 0
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := Write(w, chunk, opts...); err != nil {
			return err
		}
		written += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	err := ds.Stream(ctx, pattern, func(cq storage.CountedQuad) error {
		for i := int64(0); i < cq.Multiplicity; i++ {
			chunk = append(chunk, cq.Quad)
			if len(chunk) == o.chunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return written, errors.Wrap(err, "export dataset")
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// converter maps json-gold nodes to rdf nodes for one document.
type converter struct {
	factory *rdf.NodeFactory
	blanks  map[string]rdf.BlankNode
}

func (c *converter) blank(label string) rdf.BlankNode {
	label = strings.TrimPrefix(label, "_:")
	if b, ok := c.blanks[label]; ok {
		return b
	}
	b := c.factory.Blank()
	c.blanks[label] = b
	return b
}

// labelNode converts a graph label.
func (c *converter) labelNode(label string) rdf.Node {
	if strings.HasPrefix(label, "_:") {
		return c.blank(label)
	}
	return c.factory.IRI(label)
}

func (c *converter) node(n ld.Node) (rdf.Node, error) {
	switch t := n.(type) {
	case *ld.IRI:
		return c.factory.IRI(t.Value), nil
	case *ld.BlankNode:
		return c.blank(t.Attribute), nil
	case *ld.Literal:
		return c.factory.Literal(t.Value, t.Datatype, t.Language), nil
	}
	return nil, errors.Newf("unsupported n-quads term %v", n)
}

func toLD(n rdf.Node) (ld.Node, error) {
	switch t := n.(type) {
	case rdf.IRINode:
		return ld.NewIRI(t.Value), nil
	case rdf.BlankNode:
		return ld.NewBlankNode("_:" + t.ID), nil
	case rdf.AnonymousNode:
		return ld.NewBlankNode("_:anon-" + t.ID), nil
	case rdf.LiteralNode:
		datatype := t.Datatype
		if t.Lang != "" {
			datatype = rdf.RDFLangString
		}
		return ld.NewLiteral(t.Lexical, datatype, t.Lang), nil
	case nil:
		return nil, errors.New("missing term")
	}
	return nil, errors.Newf("%s node %v cannot be written as n-quads", n.Kind(), n)
}
