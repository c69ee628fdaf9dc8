package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/orneryd/quadstore/pkg/logging"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// BadgerStorage is the persistent Storage, backed by BadgerDB.
//
// Key spaces (see badger_serialization.go):
//
//	0x01 term:fp          -> JSON term
//	0x02 spog:s:p:o:g     -> multiplicity
//	0x03 gspo:g:s:p:o     -> (empty) graph index
//
// Every term is addressed by a 16-byte blake2b fingerprint, so keys have a
// fixed width and prefix scans work for any bound leading positions. Terms are
// written once and never collected.
//
// Each Storage call runs in its own Badger transaction. Batch runs a group of
// calls in one transaction; if another writer committed a conflicting change
// in the meantime, Batch fails with an error matching ErrConcurrentWrite.
//
// Dynamic nodes cannot be persisted; storing one fails with
// ErrUnsupportedNodeType.
//
// Example:
//
//	disk, err := storage.NewBadgerStorage(storage.BadgerOptions{DataDir: "./data/quads"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer disk.Close()
//
//	ds := storage.NewQuadSet(storage.NewSnapshotCache(disk, 0, 0))
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type BadgerStorage struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool
	log    *zap.SugaredLogger
}

var (
	_ Storage = (*BadgerStorage)(nil)
	_ Batcher = (*BadgerStorage)(nil)
)

// BadgerOptions configures the BadgerDB storage.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// ReadOnly opens the database without write access.
	ReadOnly bool

	// LowMemory enables memory-constrained settings.
	LowMemory bool

	// BlockCacheSize overrides the block cache size in bytes when positive.
	BlockCacheSize int64
}

// NewBadgerStorage opens (or creates) a BadgerDB-backed storage.
func NewBadgerStorage(opts BadgerOptions) (*BadgerStorage, error) {
	log := logging.Named("badger")

	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithLogger(badgerLogger{log}).
		WithLoggingLevel(badger.WARNING)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.ReadOnly {
		badgerOpts = badgerOpts.WithReadOnly(true)
	}
	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).            // 2 instead of 5
			WithNumLevelZeroTables(2).      // 2 instead of 5
			WithNumLevelZeroTablesStall(4). // 4 instead of 15
			WithBlockCacheSize(32 << 20).   // 32MB block cache
			WithIndexCacheSize(16 << 20)    // 16MB index cache
	}
	if opts.BlockCacheSize > 0 {
		badgerOpts = badgerOpts.WithBlockCacheSize(opts.BlockCacheSize)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}
	log.Infow("badger storage opened", "dir", opts.DataDir, "in_memory", opts.InMemory)
	return &BadgerStorage{db: db, log: log}, nil
}

// NewBadgerStorageInMemory creates an in-memory BadgerDB storage for testing.
func NewBadgerStorageInMemory() (*BadgerStorage, error) {
	return NewBadgerStorage(BadgerOptions{InMemory: true})
}

// Close closes the database. Further calls fail with ErrStorageClosed.
func (b *BadgerStorage) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *BadgerStorage) view(fn func(v *badgerView) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(newBadgerView(txn))
	})
}

func (b *BadgerStorage) update(fn func(v *badgerView) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return fn(newBadgerView(txn))
	})
	if errors.Is(err, badger.ErrConflict) {
		return errors.Mark(err, ErrConcurrentWrite)
	}
	return err
}

func (b *BadgerStorage) Multiplicity(q rdf.Quad) (m int64, err error) {
	err = b.view(func(v *badgerView) error {
		m, err = v.Multiplicity(q)
		return err
	})
	return m, err
}

// Scan implements Storage. fn runs inside a read transaction and sees the
// state at the start of the scan.
func (b *BadgerStorage) Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	return b.view(func(v *badgerView) error {
		return v.Scan(ctx, pattern, fn)
	})
}

func (b *BadgerStorage) Count(pattern rdf.Quad) (n int64, err error) {
	err = b.view(func(v *badgerView) error {
		n, err = v.Count(pattern)
		return err
	})
	return n, err
}

func (b *BadgerStorage) Graphs() (graphs []rdf.Node, err error) {
	err = b.view(func(v *badgerView) error {
		graphs, err = v.Graphs()
		return err
	})
	return graphs, err
}

func (b *BadgerStorage) AddQuad(q rdf.Quad) (r AddResult, err error) {
	err = b.update(func(v *badgerView) error {
		r, err = v.AddQuad(q)
		return err
	})
	return r, err
}

func (b *BadgerStorage) RemoveQuad(q rdf.Quad) (r RemoveResult, err error) {
	err = b.update(func(v *badgerView) error {
		r, err = v.RemoveQuad(q)
		return err
	})
	return r, err
}

func (b *BadgerStorage) RemoveMatching(pattern rdf.Quad, buf *Buffer) error {
	return b.update(func(v *badgerView) error {
		return v.RemoveMatching(pattern, buf)
	})
}

// ClearAll implements Storage. The removed quads are read first, then the
// whole database is dropped.
func (b *BadgerStorage) ClearAll(buf *Buffer) error {
	if buf != nil {
		err := b.view(func(v *badgerView) error {
			return v.Scan(context.Background(), rdf.Quad{}, func(cq CountedQuad) error {
				buf.Removed = append(buf.Removed, cq.Quad)
				return nil
			})
		})
		if err != nil {
			return err
		}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return errors.Wrap(b.db.DropAll(), "drop all quads")
}

func (b *BadgerStorage) ClearGraph(graph rdf.Node, buf *Buffer) error {
	return b.update(func(v *badgerView) error {
		return v.ClearGraph(graph, buf)
	})
}

func (b *BadgerStorage) CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error {
	return b.update(func(v *badgerView) error {
		return v.CopyGraph(origin, target, overwrite, buf)
	})
}

func (b *BadgerStorage) MoveGraph(origin, target rdf.Node, buf *Buffer) error {
	return b.update(func(v *badgerView) error {
		return v.MoveGraph(origin, target, buf)
	})
}

// Batch implements Batcher with a single Badger update transaction.
func (b *BadgerStorage) Batch(fn func(s Storage) error) error {
	return b.update(func(v *badgerView) error {
		return fn(v)
	})
}

// ============================================================================
// Transaction-bound view
// ============================================================================

// badgerView implements Storage on one Badger transaction.
type badgerView struct {
	txn   *badger.Txn
	terms map[fingerprint]rdf.Node
}

var _ Storage = (*badgerView)(nil)

func newBadgerView(txn *badger.Txn) *badgerView {
	return &badgerView{txn: txn, terms: make(map[fingerprint]rdf.Node)}
}

func (v *badgerView) multiplicity(k quadKey) (int64, error) {
	item, err := v.txn.Get(spogKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var m int64
	err = item.Value(func(val []byte) error {
		m, err = decodeMultiplicity(val)
		return err
	})
	return m, err
}

func (v *badgerView) term(fp fingerprint) (rdf.Node, error) {
	if n, ok := v.terms[fp]; ok {
		return n, nil
	}
	item, err := v.txn.Get(termKey(fp))
	if err != nil {
		return nil, errors.Wrapf(err, "load term %x", fp[:])
	}
	var n rdf.Node
	err = item.Value(func(val []byte) error {
		n, err = decodeTerm(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	v.terms[fp] = n
	return n, nil
}

func (v *badgerView) quad(k quadKey) (rdf.Quad, error) {
	var q rdf.Quad
	var err error
	if q.Graph, err = v.term(k.g); err != nil {
		return q, err
	}
	if q.Subject, err = v.term(k.s); err != nil {
		return q, err
	}
	if q.Predicate, err = v.term(k.p); err != nil {
		return q, err
	}
	q.Object, err = v.term(k.o)
	return q, err
}

// putTerms stores the terms of q that are not stored yet.
func (v *badgerView) putTerms(q rdf.Quad, k quadKey) error {
	for i, fp := range [4]fingerprint{k.g, k.s, k.p, k.o} {
		if _, ok := v.terms[fp]; ok {
			continue
		}
		key := termKey(fp)
		_, err := v.txn.Get(key)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		n := [4]rdf.Node{q.Graph, q.Subject, q.Predicate, q.Object}[i]
		data, err := encodeTerm(n)
		if err != nil {
			return err
		}
		if err := v.txn.Set(key, data); err != nil {
			return err
		}
		v.terms[fp] = n
	}
	return nil
}

// setMultiplicity writes m for k, creating or deleting both index entries as
// the quad appears or disappears.
func (v *badgerView) setMultiplicity(q rdf.Quad, k quadKey, old, m int64) error {
	if m <= 0 {
		if err := v.txn.Delete(spogKey(k)); err != nil {
			return err
		}
		return v.txn.Delete(gspoKey(k))
	}
	if old == 0 {
		if err := v.putTerms(q, k); err != nil {
			return err
		}
		if err := v.txn.Set(gspoKey(k), []byte{}); err != nil {
			return err
		}
	}
	return v.txn.Set(spogKey(k), encodeMultiplicity(m))
}

// match is one stored quad found by a scan.
type match struct {
	key quadKey
	cq  CountedQuad
}

// scan walks the index chosen by planScan.
func (v *badgerView) scan(ctx context.Context, pattern rdf.Quad, fn func(m match) error) error {
	plan, ok := planScan(pattern)
	if !ok {
		return nil
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = !plan.byGraph
	opts.Prefix = plan.prefix
	it := v.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(plan.prefix); it.ValidForPrefix(plan.prefix); it.Next() {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		item := it.Item()
		k, err := decodeQuadKey(item.Key())
		if err != nil {
			return err
		}
		if !plan.accepts(k) {
			continue
		}
		var m int64
		if plan.byGraph {
			m, err = v.multiplicity(k)
		} else {
			err = item.Value(func(val []byte) error {
				m, err = decodeMultiplicity(val)
				return err
			})
		}
		if err != nil {
			return err
		}
		q, err := v.quad(k)
		if err != nil {
			return err
		}
		if err := fn(match{key: k, cq: CountedQuad{Quad: q, Multiplicity: m}}); err != nil {
			return err
		}
	}
	return nil
}

// collect materialises a scan so the caller can write afterwards.
func (v *badgerView) collect(pattern rdf.Quad) ([]match, error) {
	var out []match
	err := v.scan(context.Background(), pattern, func(m match) error {
		out = append(out, m)
		return nil
	})
	return out, err
}

func (v *badgerView) Multiplicity(q rdf.Quad) (int64, error) {
	if q.IsPattern() {
		var total int64
		err := v.scan(context.Background(), q, func(m match) error {
			total += m.cq.Multiplicity
			return nil
		})
		return total, err
	}
	k, err := fingerprintQuad(q)
	if err != nil {
		// unstorable terms are never present
		return 0, nil
	}
	return v.multiplicity(k)
}

func (v *badgerView) Scan(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	err := v.scan(ctx, pattern, func(m match) error { return fn(m.cq) })
	if stopped(err) {
		return nil
	}
	return err
}

func (v *badgerView) Count(pattern rdf.Quad) (int64, error) {
	var n int64
	err := v.scan(context.Background(), pattern, func(match) error {
		n++
		return nil
	})
	return n, err
}

// Graphs walks the graph index, seeking past each graph once seen.
func (v *badgerView) Graphs() ([]rdf.Node, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := []byte{prefixGSPO}
	opts.Prefix = prefix
	it := v.txn.NewIterator(opts)
	defer it.Close()

	var out []rdf.Node
	for it.Seek(prefix); it.ValidForPrefix(prefix); {
		k, err := decodeQuadKey(it.Item().Key())
		if err != nil {
			return nil, err
		}
		g, err := v.term(k.g)
		if err != nil {
			return nil, err
		}
		out = append(out, g)

		next := append([]byte{prefixGSPO}, k.g[:]...)
		next = append(next, bytes.Repeat([]byte{0xff}, 3*fpSize)...)
		it.Seek(next)
		if it.ValidForPrefix(next) {
			it.Next()
		}
	}
	return out, nil
}

func (v *badgerView) AddQuad(q rdf.Quad) (AddResult, error) {
	if err := checkQuad(q); err != nil {
		return 0, err
	}
	k, err := fingerprintQuad(q)
	if err != nil {
		return 0, err
	}
	m, err := v.multiplicity(k)
	if err != nil {
		return 0, err
	}
	if err := v.setMultiplicity(q, k, m, m+1); err != nil {
		return 0, err
	}
	if m > 0 {
		return AddIncrement, nil
	}
	return AddNew, nil
}

func (v *badgerView) RemoveQuad(q rdf.Quad) (RemoveResult, error) {
	if err := checkQuad(q); err != nil {
		return RemoveNotFound, err
	}
	k, err := fingerprintQuad(q)
	if err != nil {
		return RemoveNotFound, nil
	}
	m, err := v.multiplicity(k)
	if err != nil || m == 0 {
		return RemoveNotFound, err
	}
	if err := v.setMultiplicity(q, k, m, m-1); err != nil {
		return RemoveNotFound, err
	}
	if m > 1 {
		return RemoveDecrement, nil
	}
	return RemoveRemoved, nil
}

func (v *badgerView) RemoveMatching(pattern rdf.Quad, buf *Buffer) error {
	if err := checkPattern(pattern); err != nil {
		return err
	}
	found, err := v.collect(pattern)
	if err != nil {
		return err
	}
	if buf == nil {
		buf = &Buffer{}
	}
	for _, f := range found {
		m := f.cq.Multiplicity
		if err := v.setMultiplicity(f.cq.Quad, f.key, m, m-1); err != nil {
			return err
		}
		if m > 1 {
			buf.Decremented = append(buf.Decremented, f.cq.Quad)
		} else {
			buf.Removed = append(buf.Removed, f.cq.Quad)
		}
	}
	return nil
}

func (v *badgerView) ClearAll(buf *Buffer) error {
	return v.clear(rdf.Quad{}, buf)
}

func (v *badgerView) ClearGraph(graph rdf.Node, buf *Buffer) error {
	if err := checkGraph(graph); err != nil {
		return err
	}
	return v.clear(rdf.Quad{Graph: graph}, buf)
}

func (v *badgerView) clear(pattern rdf.Quad, buf *Buffer) error {
	found, err := v.collect(pattern)
	if err != nil {
		return err
	}
	for _, f := range found {
		if err := v.setMultiplicity(f.cq.Quad, f.key, f.cq.Multiplicity, 0); err != nil {
			return err
		}
		if buf != nil {
			buf.Removed = append(buf.Removed, f.cq.Quad)
		}
	}
	return nil
}

// tripleKey identifies (s, p, o) regardless of graph.
type tripleKey struct {
	s, p, o fingerprint
}

func (v *badgerView) graphMatches(g rdf.Node) (map[tripleKey]match, error) {
	found, err := v.collect(rdf.Quad{Graph: g})
	if err != nil {
		return nil, err
	}
	out := make(map[tripleKey]match, len(found))
	for _, f := range found {
		out[tripleKey{f.key.s, f.key.p, f.key.o}] = f
	}
	return out, nil
}

func (v *badgerView) CopyGraph(origin, target rdf.Node, overwrite bool, buf *Buffer) error {
	return v.relocate(origin, target, overwrite, false, buf)
}

func (v *badgerView) MoveGraph(origin, target rdf.Node, buf *Buffer) error {
	return v.relocate(origin, target, true, true, buf)
}

// relocate implements copy and move with the QuadIndex semantics.
func (v *badgerView) relocate(origin, target rdf.Node, overwrite, move bool, buf *Buffer) error {
	if err := checkGraph(origin); err != nil {
		return err
	}
	if err := checkGraph(target); err != nil {
		return err
	}
	if origin == target {
		return nil
	}
	if buf == nil {
		buf = &Buffer{}
	}
	targetFP, _ := termFingerprint(target)

	from, err := v.graphMatches(origin)
	if err != nil {
		return err
	}
	to, err := v.graphMatches(target)
	if err != nil {
		return err
	}

	for t, f := range from {
		if move {
			if err := v.setMultiplicity(f.cq.Quad, f.key, f.cq.Multiplicity, 0); err != nil {
				return err
			}
			buf.Old = append(buf.Old, f.cq.Quad)
		}
		if existing, ok := to[t]; ok {
			m := existing.cq.Multiplicity
			if err := v.setMultiplicity(existing.cq.Quad, existing.key, m, m+1); err != nil {
				return err
			}
			continue
		}
		q := rdf.NewQuad(target, f.cq.Subject, f.cq.Predicate, f.cq.Object)
		k := quadKey{g: targetFP, s: t.s, p: t.p, o: t.o}
		if err := v.setMultiplicity(q, k, 0, 1); err != nil {
			return err
		}
		buf.New = append(buf.New, q)
	}
	if !overwrite {
		return nil
	}
	for t, f := range to {
		if _, ok := from[t]; ok {
			continue
		}
		if err := v.setMultiplicity(f.cq.Quad, f.key, f.cq.Multiplicity, 0); err != nil {
			return err
		}
		buf.Old = append(buf.Old, f.cq.Quad)
	}
	return nil
}

// badgerLogger routes Badger's internal logging to zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }
