package rdf

// Datatype IRIs.
const (
	XSDString     = "http://www.w3.org/2001/XMLSchema#string"
	XSDInteger    = "http://www.w3.org/2001/XMLSchema#integer"
	XSDBoolean    = "http://www.w3.org/2001/XMLSchema#boolean"
	RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
)

// Reserved store vocabulary.
const (
	// GraphInferenceIRI holds quads produced by reasoning.
	GraphInferenceIRI = "http://xowl.org/infra/store/graphs/inference"
	// GraphMetaIRI holds reasoning metadata.
	GraphMetaIRI = "http://xowl.org/infra/store/graphs/meta"
	// GraphDefaultIRI is used for quads read without an explicit graph.
	GraphDefaultIRI = "http://xowl.org/infra/store/graphs/default"
	// DefinedAsIRI binds a function IRI to a dynamic expression.
	DefinedAsIRI = "http://xowl.org/infra/lang/owl2/xowl#definedAs"
)

var (
	GraphInference = IRI(GraphInferenceIRI)
	GraphMeta      = IRI(GraphMetaIRI)
	GraphDefault   = IRI(GraphDefaultIRI)
	DefinedAs      = IRI(DefinedAsIRI)
)

// IsReservedGraph reports whether g is one of the volatile reasoning graphs.
func IsReservedGraph(g Node) bool {
	return g == GraphInference || g == GraphMeta
}
