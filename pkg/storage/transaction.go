// Package storage - Transaction support for isolated dataset changes.
//
// # Transaction Semantics
//
// A Store wraps a base Dataset. Each transaction gets its own DiffOverlay on
// the base:
//   - Isolation: changes are invisible to others until commit
//   - Read-your-writes: the transaction reads through its overlay
//   - Atomicity: commit replays the overlay into the base as one Insert
//   - Conflicts: a commit fails if another transaction committed a change to
//     one of the same quads after this one started
//
// # ELI12 (Explain Like I'm 12)
//
// Imagine a class sharing one whiteboard. Each student copies what they need
// onto their own notepad and scribbles changes there. When done, they walk up
// and copy their changes onto the board. If someone already changed the same
// spot while they were scribbling, they are told "start over" instead of
// letting them erase their classmate's work.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/orneryd/quadstore/pkg/logging"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// TransactionStatus represents the current state of a transaction.
type TransactionStatus string

const (
	TxStatusActive     TransactionStatus = "active"
	TxStatusCommitted  TransactionStatus = "committed"
	TxStatusRolledBack TransactionStatus = "rolled_back"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// ReadOnly rejects writable transactions and direct writes.
	ReadOnly bool
}

// commitRecord remembers the quads touched by one commit.
type commitRecord struct {
	seq   uint64
	quads map[rdf.Quad]struct{}
}

// Store hands out transactions over a base dataset and serializes their
// commits.
//
// Example:
//
//	store := storage.NewStore(storage.NewQuadSet(storage.NewQuadIndex()), storage.StoreOptions{})
//	tx, _ := store.NewTransaction(true, false)
//	_ = tx.Dataset().Add(q)
//	if err := tx.Commit(); errors.Is(err, storage.ErrConcurrentWrite) {
//		// retry
//	}
type Store struct {
	base    *lockedDataset
	options StoreOptions

	commitMu sync.Mutex // Serializes commits and guards the fields below
	seq      uint64
	records  []commitRecord
	active   map[*Transaction]struct{}
}

// NewStore creates a store over base.
func NewStore(base Dataset, opts StoreOptions) *Store {
	return &Store{
		base:    &lockedDataset{inner: base, readOnly: opts.ReadOnly},
		options: opts,
		active:  make(map[*Transaction]struct{}),
	}
}

// ReadOnly reports whether the store rejects writes.
func (s *Store) ReadOnly() bool { return s.options.ReadOnly }

// Dataset returns the base dataset for direct, non-transactional access.
// Direct writes bypass conflict detection.
func (s *Store) Dataset() Dataset { return s.base }

// ActiveTransactions returns the number of open transactions.
func (s *Store) ActiveTransactions() int {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return len(s.active)
}

// NewTransaction starts a transaction. Writable transactions on a read-only
// store fail with ErrReadOnly. With autocommit, Close commits instead of
// rolling back.
func (s *Store) NewTransaction(writable, autocommit bool) (*Transaction, error) {
	if writable && s.options.ReadOnly {
		return nil, errors.Wrap(ErrReadOnly, "cannot start a writable transaction")
	}

	tx := &Transaction{
		id:         uuid.NewString(),
		store:      s,
		writable:   writable,
		autocommit: autocommit,
		startTime:  time.Now(),
		status:     TxStatusActive,
	}
	tx.overlay = NewDiffOverlay(s.base)
	if writable {
		tx.dataset = NewQuadSet(tx.overlay)
	} else {
		tx.dataset = NewQuadSet(tx.overlay, ReadOnly())
	}

	s.commitMu.Lock()
	tx.startSeq = s.seq
	s.active[tx] = struct{}{}
	s.commitMu.Unlock()

	logging.Named("tx").Debugw("transaction started", "tx", tx.id, "writable", writable, "autocommit", autocommit)
	return tx, nil
}

// Update runs fn in a writable transaction and commits it when fn succeeds.
// The transaction is bound to the context passed to fn.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	tx, err := s.NewTransaction(true, false)
	if err != nil {
		return err
	}
	if err := fn(WithTransaction(ctx, tx), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	tx, err := s.NewTransaction(false, false)
	if err != nil {
		return err
	}
	defer tx.Close()
	return fn(WithTransaction(ctx, tx), tx)
}

// commit checks tx for conflicts and replays its overlay into the base. The
// returned events are delivered by the caller once every lock is released.
func (s *Store) commit(tx *Transaction) (*Changeset, []queuedEvent, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	touched := tx.overlay.Touched()
	for _, rec := range s.records {
		if rec.seq <= tx.startSeq {
			continue
		}
		for _, q := range touched {
			if _, ok := rec.quads[q]; ok {
				return nil, nil, errors.Wrapf(ErrConcurrentWrite, "quad %s changed by a concurrent commit", q)
			}
		}
	}

	cs := tx.overlay.Changeset()
	var events []queuedEvent
	if !cs.IsEmpty() {
		var err error
		events, err = s.base.locked(func() error { return s.base.inner.Insert(cs) })
		if err != nil {
			return nil, nil, errors.Wrap(err, "commit overlay")
		}
	}
	tx.overlay.Rollback()

	s.seq++
	rec := commitRecord{seq: s.seq, quads: make(map[rdf.Quad]struct{}, len(touched))}
	for _, q := range touched {
		rec.quads[q] = struct{}{}
	}
	s.records = append(s.records, rec)
	return cs, events, nil
}

// end forgets tx and prunes the commit records no open transaction can
// conflict with.
func (s *Store) end(tx *Transaction) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	delete(s.active, tx)
	oldest := s.seq
	for t := range s.active {
		if t.startSeq < oldest {
			oldest = t.startSeq
		}
	}
	keep := s.records[:0]
	for _, rec := range s.records {
		if rec.seq > oldest {
			keep = append(keep, rec)
		}
	}
	s.records = keep
}

// Transaction is an isolated unit of work on a Store.
type Transaction struct {
	mu sync.Mutex

	id         string
	store      *Store
	overlay    *DiffOverlay
	dataset    *QuadSet
	writable   bool
	autocommit bool
	startSeq   uint64
	startTime  time.Time
	status     TransactionStatus
}

// ID returns the transaction's unique identifier.
func (tx *Transaction) ID() string { return tx.id }

// Writable reports whether the transaction accepts writes.
func (tx *Transaction) Writable() bool { return tx.writable }

// Status returns the current state of the transaction.
func (tx *Transaction) Status() TransactionStatus {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status
}

// Dataset returns the transaction's view of the store. Writes stay private
// until Commit. Once the transaction has ended every call on it fails with
// ErrTransactionClosed.
func (tx *Transaction) Dataset() Dataset { return tx.dataset }

// Overlay returns the transaction's pending changes.
func (tx *Transaction) Overlay() *DiffOverlay { return tx.overlay }

// Commit applies the transaction to the store. A conflict rolls the
// transaction back and returns an error matching ErrConcurrentWrite; any other
// failure leaves it active so it can be retried or rolled back.
//
// Listeners of the store's dataset are notified after Commit has released
// its locks, so they may read the store or start transactions.
func (tx *Transaction) Commit() error {
	events, err := tx.commit()
	notify(events)
	return err
}

func (tx *Transaction) commit() ([]queuedEvent, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != TxStatusActive {
		return nil, ErrTransactionClosed
	}
	log := logging.Named("tx")

	if !tx.overlay.IsDirty() {
		tx.finish(TxStatusCommitted)
		transactionsTotal.WithLabelValues(outcomeCommitted).Inc()
		return nil, nil
	}

	start := time.Now()
	cs, events, err := tx.store.commit(tx)
	commitDuration.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, ErrConcurrentWrite):
		tx.overlay.Rollback()
		tx.finish(TxStatusRolledBack)
		transactionsTotal.WithLabelValues(outcomeConflict).Inc()
		log.Infow("transaction conflict", "tx", tx.id, "error", err)
		return nil, errors.Wrapf(err, "commit transaction %s", tx.id)
	case err != nil:
		transactionsTotal.WithLabelValues(outcomeFailed).Inc()
		log.Warnw("transaction commit failed", "tx", tx.id, "error", err)
		return nil, errors.Wrapf(err, "commit transaction %s", tx.id)
	}

	tx.finish(TxStatusCommitted)
	transactionsTotal.WithLabelValues(outcomeCommitted).Inc()
	committedQuads.Add(float64(cs.Size()))
	log.Debugw("transaction committed", "tx", tx.id, "quads", cs.Size(), "duration", time.Since(tx.startTime))
	return events, nil
}

// Rollback discards the transaction's changes.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != TxStatusActive {
		return ErrTransactionClosed
	}
	tx.overlay.Rollback()
	tx.finish(TxStatusRolledBack)
	transactionsTotal.WithLabelValues(outcomeRolledBack).Inc()
	logging.Named("tx").Debugw("transaction rolled back", "tx", tx.id)
	return nil
}

// Close ends the transaction: it commits with autocommit and rolls back
// otherwise. Closing an ended transaction does nothing.
func (tx *Transaction) Close() error {
	if tx.Status() != TxStatusActive {
		return nil
	}
	if tx.autocommit {
		return tx.Commit()
	}
	return tx.Rollback()
}

// finish ends tx. Its dataset rejects every later call with
// ErrTransactionClosed.
func (tx *Transaction) finish(status TransactionStatus) {
	tx.status = status
	tx.overlay.Close()
	tx.store.end(tx)
}

type txContextKey struct{}

// WithTransaction returns a context carrying tx.
func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFrom returns the transaction bound to ctx, or ErrNoTransaction.
func TransactionFrom(ctx context.Context) (*Transaction, error) {
	tx, ok := ctx.Value(txContextKey{}).(*Transaction)
	if !ok || tx == nil {
		return nil, ErrNoTransaction
	}
	return tx, nil
}

// lockedDataset guards the base dataset shared by all transactions.
//
// Streams are materialised under the read lock so callbacks may read again.
// A full scan therefore holds every matching quad in memory at once.
//
// Listeners are registered through queuedListener wrappers. Events raised by
// a write are queued while the write lock is held and delivered after it is
// released, in the order they were raised. Events of concurrent writes may
// interleave. The inner dataset must only be mutated through l.
type lockedDataset struct {
	mu       sync.RWMutex
	inner    Dataset
	readOnly bool

	queue    []queuedEvent // guarded by mu (write)
	wrappers map[ChangeListener]*queuedListener
}

var _ Dataset = (*lockedDataset)(nil)

func (l *lockedDataset) Multiplicity(q rdf.Quad) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Multiplicity(q)
}

func (l *lockedDataset) Stream(ctx context.Context, pattern rdf.Quad, fn ScanFunc) error {
	l.mu.RLock()
	all, err := collect(ctx, pattern, l.inner.Stream)
	l.mu.RUnlock()
	if err != nil {
		return err
	}
	for _, cq := range all {
		if err := fn(cq); err != nil {
			if stopped(err) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (l *lockedDataset) GetAll(pattern rdf.Quad) ([]CountedQuad, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.GetAll(pattern)
}

func (l *lockedDataset) Count(pattern rdf.Quad) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Count(pattern)
}

func (l *lockedDataset) Graphs() ([]rdf.Node, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Graphs()
}

// locked runs fn under the write lock and returns the events it raised.
func (l *lockedDataset) locked(fn func() error) ([]queuedEvent, error) {
	if l.readOnly {
		return nil, ErrReadOnly
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := fn()
	events := l.queue
	l.queue = nil
	return events, err
}

func (l *lockedDataset) write(fn func() error) error {
	events, err := l.locked(fn)
	notify(events)
	return err
}

func (l *lockedDataset) Insert(cs *Changeset) error {
	return l.write(func() error { return l.inner.Insert(cs) })
}

func (l *lockedDataset) Add(q rdf.Quad) error {
	return l.write(func() error { return l.inner.Add(q) })
}

func (l *lockedDataset) Remove(q rdf.Quad) error {
	return l.write(func() error { return l.inner.Remove(q) })
}

func (l *lockedDataset) Clear() error {
	return l.write(l.inner.Clear)
}

func (l *lockedDataset) ClearGraph(graph rdf.Node) error {
	return l.write(func() error { return l.inner.ClearGraph(graph) })
}

func (l *lockedDataset) Copy(origin, target rdf.Node, overwrite bool) error {
	return l.write(func() error { return l.inner.Copy(origin, target, overwrite) })
}

func (l *lockedDataset) Move(origin, target rdf.Node) error {
	return l.write(func() error { return l.inner.Move(origin, target) })
}

// AddListener registers lis. Registering the same listener twice does nothing.
func (l *lockedDataset) AddListener(lis ChangeListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.wrappers[lis]; ok {
		return
	}
	if l.wrappers == nil {
		l.wrappers = make(map[ChangeListener]*queuedListener)
	}
	w := &queuedListener{owner: l, target: lis}
	l.wrappers[lis] = w
	l.inner.AddListener(w)
}

func (l *lockedDataset) RemoveListener(lis ChangeListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wrappers[lis]
	if !ok {
		return
	}
	delete(l.wrappers, lis)
	l.inner.RemoveListener(w)
}

// queuedEvent is one notification waiting for the write lock to be released.
type queuedEvent struct {
	target ChangeListener
	call   func(ChangeListener)
}

// notify delivers events in order. A panicking listener is logged and skipped.
func notify(events []queuedEvent) {
	for _, e := range events {
		deliver(e.target, e.call)
	}
}

// queuedListener stands in for a listener of a lockedDataset. Its callbacks
// run under the owner's write lock and only append to the owner's queue.
type queuedListener struct {
	owner  *lockedDataset
	target ChangeListener
}

func (w *queuedListener) push(call func(ChangeListener)) {
	w.owner.queue = append(w.owner.queue, queuedEvent{target: w.target, call: call})
}

func (w *queuedListener) OnIncremented(q rdf.Quad) {
	w.push(func(l ChangeListener) { l.OnIncremented(q) })
}

func (w *queuedListener) OnDecremented(q rdf.Quad) {
	w.push(func(l ChangeListener) { l.OnDecremented(q) })
}

func (w *queuedListener) OnAdded(q rdf.Quad) { w.push(func(l ChangeListener) { l.OnAdded(q) }) }

func (w *queuedListener) OnRemoved(q rdf.Quad) { w.push(func(l ChangeListener) { l.OnRemoved(q) }) }

func (w *queuedListener) OnChange(cs *Changeset) {
	w.push(func(l ChangeListener) { l.OnChange(cs) })
}
