// Package quadstore assembles a ready-to-use quad store from configuration.
//
// Open picks the storage backend, stacks the dataset layers on top of it and
// returns a DB handle that owns all of them:
//
//	memory backend:  Store -> QuadSet -> QuadIndex
//	badger backend:  Store -> QuadSet -> SnapshotCache -> BadgerStorage
//
// With reasoning enabled the base QuadSet becomes the ground half of a
// ReasoningDataset whose volatile half is always in memory.
//
// Example:
//
//	cfg, err := config.Load("quadstore.yaml")
//	if err != nil {
//		return err
//	}
//	db, err := quadstore.Open(cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	err = db.Update(ctx, func(ctx context.Context, tx *storage.Transaction) error {
//		nodes := db.Nodes()
//		return tx.Dataset().Add(rdf.NewQuad(
//			nodes.IRI("http://example.org/g"),
//			nodes.IRI("http://example.org/alice"),
//			nodes.IRI("http://xmlns.com/foaf/0.1/name"),
//			nodes.Literal("Alice", "", "en"),
//		))
//	})
package quadstore

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/orneryd/quadstore/pkg/cache"
	"github.com/orneryd/quadstore/pkg/config"
	"github.com/orneryd/quadstore/pkg/logging"
	"github.com/orneryd/quadstore/pkg/nquads"
	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/storage"
)

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("quadstore: database closed")

// DB is an open quad store.
//
// All methods are safe for concurrent use.
type DB struct {
	config *config.Config
	mu     sync.RWMutex
	closed bool
	log    *zap.SugaredLogger

	nodes        *rdf.NodeFactory
	defaultGraph rdf.IRINode

	disk     *storage.BadgerStorage // nil for the memory backend
	snapshot *storage.SnapshotCache // nil for the memory backend
	ground   *storage.QuadSet
	dataset  storage.Dataset
	store    *storage.Store
}

// Stats is a point-in-time summary of a DB.
type Stats struct {
	Backend            string      `json:"backend"`
	QuadCount          int64       `json:"quad_count"`
	GraphCount         int         `json:"graph_count"`
	ActiveTransactions int         `json:"active_transactions"`
	SubjectCache       cache.Stats `json:"subject_cache"`
	GraphCache         cache.Stats `json:"graph_cache"`
}

// Open builds the store described by cfg. A nil cfg selects config.Default().
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	db := &DB{
		config: cfg,
		log:    logging.Named("quadstore"),
		nodes:  rdf.NewNodeFactory(),
	}
	db.defaultGraph = db.nodes.IRI(cfg.Storage.DefaultGraph)

	var backing storage.Storage
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		disk, err := storage.NewBadgerStorage(storage.BadgerOptions{
			DataDir:        cfg.Storage.DataDir,
			InMemory:       cfg.Storage.InMemory,
			SyncWrites:     cfg.Storage.SyncWrites,
			ReadOnly:       cfg.Storage.ReadOnly,
			LowMemory:      cfg.Storage.LowMemory,
			BlockCacheSize: cfg.Storage.BlockCacheBytes(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to open badger storage")
		}
		db.disk = disk
		db.snapshot = storage.NewSnapshotCache(disk, cfg.Cache.Subjects, cfg.Cache.Graphs)
		db.snapshot.SetEnabled(cfg.Cache.Enabled)
		backing = db.snapshot
	default:
		backing = storage.NewQuadIndex()
	}

	var opts []storage.QuadSetOption
	if cfg.Storage.ReadOnly {
		opts = append(opts, storage.ReadOnly())
	}
	db.ground = storage.NewQuadSet(backing, opts...)
	db.dataset = db.ground
	if cfg.Storage.Reasoning {
		db.dataset = storage.NewReasoningDataset(db.ground, storage.NewQuadSet(storage.NewQuadIndex()))
	}
	db.store = storage.NewStore(db.dataset, storage.StoreOptions{ReadOnly: cfg.Storage.ReadOnly})

	db.log.Infow("opened quad store",
		"backend", cfg.Storage.Backend,
		"data_dir", cfg.Storage.DataDir,
		"block_cache", cfg.Storage.BlockCache,
		"snapshot_cache", cfg.Cache.Enabled,
		"reasoning", cfg.Storage.Reasoning,
		"read_only", cfg.Storage.ReadOnly,
	)
	return db, nil
}

// Config returns the configuration the DB was opened with.
func (db *DB) Config() *config.Config { return db.config }

// Store returns the transactional store.
func (db *DB) Store() *storage.Store { return db.store }

// Nodes returns the DB's node factory.
func (db *DB) Nodes() *rdf.NodeFactory { return db.nodes }

// DefaultGraph returns the graph of unlabelled imported statements.
func (db *DB) DefaultGraph() rdf.IRINode { return db.defaultGraph }

// Dataset returns the committed dataset. Writes through it bypass transactions.
func (db *DB) Dataset() storage.Dataset { return db.store.Dataset() }

// Update runs fn in a writable transaction, committing when fn returns nil.
func (db *DB) Update(ctx context.Context, fn func(ctx context.Context, tx *storage.Transaction) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.store.Update(ctx, fn)
}

// View runs fn in a read-only transaction.
func (db *DB) View(ctx context.Context, fn func(ctx context.Context, tx *storage.Transaction) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.store.View(ctx, fn)
}

// Import reads an N-Quads document into one transaction. It returns the
// number of statements read.
func (db *DB) Import(ctx context.Context, r io.Reader, graph rdf.Node) (int, error) {
	if graph == nil {
		graph = db.defaultGraph
	}
	var n int
	err := db.Update(ctx, func(_ context.Context, tx *storage.Transaction) error {
		var err error
		n, err = nquads.Import(tx.Dataset(), r, db.nodes, nquads.WithDefaultGraph(graph))
		return err
	})
	if err != nil {
		return 0, err
	}
	db.log.Debugw("imported n-quads", "statements", n, "default_graph", graph)
	return n, nil
}

// Export writes the quads matching pattern as N-Quads. It returns the number
// of lines written.
func (db *DB) Export(ctx context.Context, pattern rdf.Quad, w io.Writer) (int, error) {
	var n int
	err := db.View(ctx, func(ctx context.Context, tx *storage.Transaction) error {
		var err error
		n, err = nquads.Export(ctx, tx.Dataset(), pattern, w, nquads.WithDefaultGraph(db.defaultGraph))
		return err
	})
	return n, err
}

// Stats returns current database statistics.
func (db *DB) Stats() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}, ErrClosed
	}

	stats := Stats{
		Backend:            db.config.Storage.Backend,
		ActiveTransactions: db.store.ActiveTransactions(),
	}
	count, err := db.dataset.Count(rdf.Quad{})
	if err != nil {
		return Stats{}, errors.Wrap(err, "count quads")
	}
	stats.QuadCount = count
	graphs, err := db.dataset.Graphs()
	if err != nil {
		return Stats{}, errors.Wrap(err, "list graphs")
	}
	stats.GraphCount = len(graphs)
	if db.snapshot != nil {
		stats.SubjectCache = db.snapshot.SubjectStats()
		stats.GraphCache = db.snapshot.GraphStats()
	}
	return stats, nil
}

// Close releases the storage. Calling Close twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if n := db.store.ActiveTransactions(); n > 0 {
		db.log.Warnw("closing with open transactions", "active", n)
	}
	if db.disk != nil {
		if err := db.disk.Close(); err != nil {
			return errors.Wrap(err, "close badger storage")
		}
	}
	db.log.Infow("closed quad store", "backend", db.config.Storage.Backend)
	return nil
}

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}
