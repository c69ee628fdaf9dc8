// Package storage - Key layout and term serialization for BadgerDB.
package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixTerm = byte(0x01) // term:fp -> serializedTerm
	prefixSPOG = byte(0x02) // spog:s:p:o:g -> multiplicity (uint64, big endian)
	prefixGSPO = byte(0x03) // gspo:g:s:p:o -> []byte{}
)

// fpSize is the width of a term fingerprint.
const fpSize = 16

// fingerprint identifies a term inside keys.
type fingerprint [fpSize]byte

// quadKey holds the fingerprints of a stored quad.
type quadKey struct {
	g, s, p, o fingerprint
}

// termFingerprint hashes the kind and value of n. Dynamic nodes and wildcards
// cannot be stored and report ok=false.
func termFingerprint(n rdf.Node) (fp fingerprint, ok bool) {
	st, ok := toSerializedTerm(n)
	if !ok {
		return fp, false
	}
	h, err := blake2b.New(fpSize, nil)
	if err != nil {
		// only fails for invalid sizes or keys
		panic(err)
	}
	h.Write([]byte{st.Kind})
	h.Write([]byte(st.Value))
	h.Write([]byte{0})
	h.Write([]byte(st.Datatype))
	h.Write([]byte{0})
	h.Write([]byte(st.Lang))
	copy(fp[:], h.Sum(nil))
	return fp, true
}

// fingerprintQuad computes the key of a concrete quad.
func fingerprintQuad(q rdf.Quad) (quadKey, error) {
	var k quadKey
	var ok bool
	if k.g, ok = termFingerprint(q.Graph); !ok {
		return k, &UnsupportedNodeTypeError{Field: rdf.FieldGraph, Node: q.Graph}
	}
	if k.s, ok = termFingerprint(q.Subject); !ok {
		return k, &UnsupportedNodeTypeError{Field: rdf.FieldSubject, Node: q.Subject}
	}
	if k.p, ok = termFingerprint(q.Predicate); !ok {
		return k, &UnsupportedNodeTypeError{Field: rdf.FieldPredicate, Node: q.Predicate}
	}
	if k.o, ok = termFingerprint(q.Object); !ok {
		return k, &UnsupportedNodeTypeError{Field: rdf.FieldObject, Node: q.Object}
	}
	return k, nil
}

// termKey creates a key for storing a term.
func termKey(fp fingerprint) []byte {
	key := make([]byte, 0, 1+fpSize)
	key = append(key, prefixTerm)
	return append(key, fp[:]...)
}

// spogKey creates the primary key of a quad.
func spogKey(k quadKey) []byte {
	key := make([]byte, 0, 1+4*fpSize)
	key = append(key, prefixSPOG)
	key = append(key, k.s[:]...)
	key = append(key, k.p[:]...)
	key = append(key, k.o[:]...)
	return append(key, k.g[:]...)
}

// gspoKey creates the graph index key of a quad.
func gspoKey(k quadKey) []byte {
	key := make([]byte, 0, 1+4*fpSize)
	key = append(key, prefixGSPO)
	key = append(key, k.g[:]...)
	key = append(key, k.s[:]...)
	key = append(key, k.p[:]...)
	return append(key, k.o[:]...)
}

// decodeQuadKey extracts the fingerprints from a spog or gspo key.
func decodeQuadKey(key []byte) (quadKey, error) {
	var k quadKey
	if len(key) != 1+4*fpSize {
		return k, errors.Newf("malformed quad key of length %d", len(key))
	}
	parts := [4]*fingerprint{&k.s, &k.p, &k.o, &k.g}
	if key[0] == prefixGSPO {
		parts = [4]*fingerprint{&k.g, &k.s, &k.p, &k.o}
	}
	for i, fp := range parts {
		copy(fp[:], key[1+i*fpSize:1+(i+1)*fpSize])
	}
	return k, nil
}

// scanPlan is the key prefix to iterate for a pattern plus the fingerprints
// that remaining keys must match.
type scanPlan struct {
	prefix  []byte
	byGraph bool
	want    [4]*fingerprint // g, s, p, o; nil means any
}

// planScan picks the spog index when the subject is bound, the gspo index when
// only the graph is bound, and a full spog scan otherwise. The second result is
// false when a bound term cannot be stored, so nothing can match.
func planScan(pattern rdf.Quad) (scanPlan, bool) {
	var plan scanPlan
	fields := [4]rdf.Node{pattern.Graph, pattern.Subject, pattern.Predicate, pattern.Object}
	for i, n := range fields {
		if rdf.IsWildcard(n) {
			continue
		}
		fp, ok := termFingerprint(n)
		if !ok {
			return plan, false
		}
		plan.want[i] = &fp
	}

	g, s, p, o := plan.want[0], plan.want[1], plan.want[2], plan.want[3]
	if s == nil && g != nil {
		plan.byGraph = true
		plan.prefix = append([]byte{prefixGSPO}, g[:]...)
		return plan, true
	}
	plan.prefix = []byte{prefixSPOG}
	for _, fp := range []*fingerprint{s, p, o, g} {
		if fp == nil {
			break
		}
		plan.prefix = append(plan.prefix, fp[:]...)
	}
	return plan, true
}

// accepts reports whether k matches every bound fingerprint of the plan.
func (p scanPlan) accepts(k quadKey) bool {
	got := [4]fingerprint{k.g, k.s, k.p, k.o}
	for i, want := range p.want {
		if want != nil && *want != got[i] {
			return false
		}
	}
	return true
}

func encodeMultiplicity(m int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m))
	return buf
}

func decodeMultiplicity(val []byte) (int64, error) {
	if len(val) != 8 {
		return 0, errors.Newf("malformed multiplicity of length %d", len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

// serializedTerm is the JSON-serializable form of a stored term.
type serializedTerm struct {
	Kind     uint8  `json:"k"`
	Value    string `json:"v"`
	Datatype string `json:"d,omitempty"`
	Lang     string `json:"l,omitempty"`
}

func toSerializedTerm(n rdf.Node) (serializedTerm, bool) {
	switch t := n.(type) {
	case rdf.IRINode:
		return serializedTerm{Kind: uint8(rdf.KindIRI), Value: t.Value}, true
	case rdf.BlankNode:
		return serializedTerm{Kind: uint8(rdf.KindBlank), Value: t.ID}, true
	case rdf.LiteralNode:
		return serializedTerm{Kind: uint8(rdf.KindLiteral), Value: t.Lexical, Datatype: t.Datatype, Lang: t.Lang}, true
	case rdf.AnonymousNode:
		return serializedTerm{Kind: uint8(rdf.KindAnonymous), Value: t.ID}, true
	}
	return serializedTerm{}, false
}

// encodeTerm serializes a term to JSON.
func encodeTerm(n rdf.Node) ([]byte, error) {
	st, ok := toSerializedTerm(n)
	if !ok {
		return nil, errors.Newf("term %v cannot be serialized", n)
	}
	return json.Marshal(st)
}

// decodeTerm deserializes a term from JSON.
func decodeTerm(data []byte) (rdf.Node, error) {
	var st serializedTerm
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, "unmarshaling term")
	}
	switch rdf.NodeKind(st.Kind) {
	case rdf.KindIRI:
		return rdf.IRI(st.Value), nil
	case rdf.KindBlank:
		return rdf.Blank(st.Value), nil
	case rdf.KindLiteral:
		return rdf.LiteralNode{Lexical: st.Value, Datatype: st.Datatype, Lang: st.Lang}, nil
	case rdf.KindAnonymous:
		return rdf.Anonymous(st.Value), nil
	}
	return nil, errors.Newf("unknown term kind %d", st.Kind)
}
