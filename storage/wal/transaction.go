package wal

import (
	"strata/config"
	"strata/storage"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type TransactionState int

const (
	TransactionPending TransactionState = iota
	TransactionCommitted
	TransactionAborted
)

func (s TransactionState) String() string {
	switch s {
	case TransactionPending:
		return "pending"
	case TransactionCommitted:
		return "committed"
	case TransactionAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transaction stages entries in memory until they are committed as one
// batch. Nothing of it is durable before commit.
type Transaction struct {
	ID        string
	State     TransactionState
	Entries   []storage.Entry
	StartTime time.Time
	Timeout   time.Duration

	expired bool
}

func (t *Transaction) isExpired(now time.Time) bool {
	return now.Sub(t.StartTime) > t.Timeout
}

// transactions is the in-memory transaction table. It has its own lock;
// staging never touches the log.
type transactions struct {
	logger  log.Logger
	metrics *WalMetrics

	defaultTimeout time.Duration
	maxEntries     int
	interval       time.Duration

	mu    sync.Mutex
	table map[string]*Transaction

	stopc chan struct{}
	donec chan struct{}
}

func newTransactions(logger log.Logger, metrics *WalMetrics, opts config.Options) *transactions {
	return &transactions{
		logger:         log.With(logger, "subsystem", "transactions"),
		metrics:        metrics,
		defaultTimeout: opts.DefaultTimeout,
		maxEntries:     opts.MaxEntries,
		interval:       opts.CleanupInterval,
		table:          make(map[string]*Transaction),
		stopc:          make(chan struct{}),
		donec:          make(chan struct{}),
	}
}

func (t *transactions) start() {
	ticker := time.NewTicker(t.interval)

	go func() {
		defer close(t.donec)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.sweep(time.Now())
			case <-t.stopc:
				return
			}
		}
	}()
}

// stop ends the sweeper and aborts whatever is still pending.
func (t *transactions) stop() {
	close(t.stopc)
	<-t.donec

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, tx := range t.table {
		if tx.State == TransactionPending {
			t.abort(tx, "aborted")
		}
		delete(t.table, id)
	}

	t.metrics.openTransactions.Set(0)
}

// sweep aborts pending transactions that ran out of time and drops their
// tombstones once they are older than their timeout plus the default
// timeout. Until then an expired transaction answers ErrTransactionExpired.
func (t *transactions) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := 0
	for id, tx := range t.table {
		switch {
		case tx.State == TransactionAborted:
			if now.Sub(tx.StartTime) > tx.Timeout+t.defaultTimeout {
				delete(t.table, id)
			}
		case tx.State == TransactionPending && tx.isExpired(now):
			tx.expired = true
			t.abort(tx, "expired")
			expired++
		}
	}

	if expired > 0 {
		level.Debug(t.logger).Log("msg", "expired transactions aborted", "count", expired)
	}

	t.metrics.openTransactions.Set(float64(len(t.table)))
}

func (t *transactions) abort(tx *Transaction, outcome string) {
	tx.State = TransactionAborted
	tx.Entries = nil
	t.metrics.transactions.WithLabelValues(outcome).Inc()
}

func (t *transactions) begin(timeout time.Duration) string {
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	tx := &Transaction{
		ID:        uuid.NewString(),
		State:     TransactionPending,
		StartTime: time.Now(),
		Timeout:   timeout,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.table[tx.ID] = tx
	t.metrics.openTransactions.Set(float64(len(t.table)))

	return tx.ID
}

// pending returns tx if it can still be changed. Must hold t.mu.
func (t *transactions) pending(id string) (*Transaction, error) {
	tx, ok := t.table[id]
	if !ok {
		return nil, errors.Wrapf(ErrTransactionNotFound, "transaction %s", id)
	}

	if tx.State == TransactionPending && tx.isExpired(time.Now()) {
		tx.expired = true
		t.abort(tx, "expired")
	}

	if tx.expired {
		return nil, errors.Wrapf(ErrTransactionExpired, "transaction %s", id)
	}

	if tx.State != TransactionPending {
		return nil, errors.Wrapf(ErrTransactionNotPending, "transaction %s is %s", id, tx.State)
	}

	return tx, nil
}

func (t *transactions) add(id string, e storage.Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.pending(id)
	if err != nil {
		return err
	}

	if len(tx.Entries) >= t.maxEntries {
		return errors.Wrapf(ErrTransactionTooLarge, "transaction %s already holds %d entries", id, len(tx.Entries))
	}

	e.Payload = append([]byte(nil), e.Payload...)
	tx.Entries = append(tx.Entries, e)

	return nil
}

// markCommitted hands the staged entries over for writing.
func (t *transactions) markCommitted(id string) ([]storage.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.pending(id)
	if err != nil {
		return nil, err
	}

	tx.State = TransactionCommitted

	entries := tx.Entries
	tx.Entries = nil

	for k := range entries {
		entries[k].TransactionID = id
	}

	return entries, nil
}

func (t *transactions) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.table, id)
	t.metrics.openTransactions.Set(float64(len(t.table)))
}

func (t *transactions) rollback(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.pending(id)
	if err != nil {
		return err
	}

	t.abort(tx, "aborted")
	delete(t.table, id)
	t.metrics.openTransactions.Set(float64(len(t.table)))

	return nil
}

func (t *transactions) state(id string) (TransactionState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, ok := t.table[id]
	if !ok {
		return 0, errors.Wrapf(ErrTransactionNotFound, "transaction %s", id)
	}

	return tx.State, nil
}

// BeginTransaction starts a transaction and returns its id. A timeout of
// zero uses the configured default.
func (w *Wal) BeginTransaction(timeout time.Duration) (string, error) {
	if w.State() != StateOpen {
		return "", ErrLogClosed
	}

	return w.txs.begin(timeout), nil
}

// AddToTransaction stages e in transaction id.
func (w *Wal) AddToTransaction(id string, e storage.Entry) error {
	if w.State() != StateOpen {
		return ErrLogClosed
	}

	return w.txs.add(id, e)
}

// CommitTransaction writes the staged entries as one batch and returns their
// indices. The transaction is gone afterwards even if the write failed, so a
// commit is never retried under the same id.
func (w *Wal) CommitTransaction(id string) ([]uint64, error) {
	if w.State() != StateOpen {
		return nil, ErrLogClosed
	}

	entries, err := w.txs.markCommitted(id)
	if err != nil {
		return nil, err
	}
	defer w.txs.remove(id)

	indices, err := w.WriteBatch(entries)
	if err != nil {
		w.metrics.transactions.WithLabelValues("failed").Inc()
		level.Warn(w.logger).Log("msg", "transaction commit failed", "txId", id, "entries", len(entries), "err", err)
		return nil, errors.Wrapf(err, "commit transaction %s", id)
	}

	w.metrics.transactions.WithLabelValues("committed").Inc()

	return indices, nil
}

// RollbackTransaction discards a pending transaction.
func (w *Wal) RollbackTransaction(id string) error {
	if w.State() != StateOpen {
		return ErrLogClosed
	}

	return w.txs.rollback(id)
}

// TransactionState reports the state of a transaction still in the table.
func (w *Wal) TransactionState(id string) (TransactionState, error) {
	return w.txs.state(id)
}
