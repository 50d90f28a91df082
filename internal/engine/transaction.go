package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/docstore/internal/pager"
)

// ErrTxDone is returned when a committed or rolled back transaction is used.
var ErrTxDone = errors.New("transaction already finished")

// Signal is the outcome of a safepoint.
type Signal uint8

const (
	// SignalContinue means the transaction may go on.
	SignalContinue Signal = iota
	// SignalCancelled means the caller's context ended; the transaction must
	// be rolled back.
	SignalCancelled
)

func (s Signal) String() string {
	if s == SignalCancelled {
		return "cancelled"
	}
	return "continue"
}

// Transaction groups writes to one or more collections into an atomic unit.
// It is owned by a single goroutine.
type Transaction struct {
	e       *Engine
	ptx     *pager.Tx
	snaps   map[string]*Snapshot
	order   []string
	locks   []func()
	started time.Time
	done    bool
}

// Begin starts a transaction. Most callers want RunInTransaction, which also
// commits, rolls back and retries.
func (e *Engine) Begin(ctx context.Context) (*Transaction, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	ptx, err := e.pager.Begin()
	if err != nil {
		return nil, translate(err)
	}
	return &Transaction{
		e:       e,
		ptx:     ptx,
		snaps:   make(map[string]*Snapshot),
		started: time.Now(),
	}, nil
}

// ID returns the transaction id.
func (t *Transaction) ID() uint64 { return t.ptx.ID() }

// CreateSnapshot returns the transaction's snapshot of a collection, taking
// the collection lock on first use. A second call for the same collection
// returns the same snapshot, upgraded to write mode if asked for.
//
// A missing collection is created when createIfMissing is set and mode is
// ModeWrite; otherwise ErrNotFound is returned.
func (t *Transaction) CreateSnapshot(ctx context.Context, mode Mode, collection string, createIfMissing bool) (*Snapshot, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	if s, ok := t.snaps[collection]; ok {
		if mode == ModeWrite {
			s.mode = ModeWrite
		}
		return s, nil
	}

	release, err := t.e.locks.Lock(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("lock collection %q: %w", collection, translate(err))
	}

	st := t.e.committedState(collection)
	created := false
	if st == nil {
		if !createIfMissing || mode != ModeWrite {
			release()
			return nil, fmt.Errorf("%w: collection %q", ErrNotFound, collection)
		}
		st = newCollectionState(collection)
		created = true
	}

	s := newSnapshot(t.e, st, mode)
	s.tx = t
	s.ptx = t.ptx
	s.pages = t.ptx
	if created {
		s.created = true
		s.dirtyMeta = true
		s.dirtyIdx[0] = true
	}

	t.snaps[collection] = s
	t.order = append(t.order, collection)
	t.locks = append(t.locks, release)
	return s, nil
}

// Safepoint is called between documents of a long operation. It reports
// SignalCancelled with an ErrCancelled error once ctx is done. Otherwise it
// moves dirty pages to the WAL when there are more than the configured
// maximum or the resource controller refused page memory.
func (t *Transaction) Safepoint(ctx context.Context) (Signal, error) {
	if t.done {
		return SignalCancelled, ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return SignalCancelled, cancelled(err)
	}

	dirty := t.ptx.DirtyPages()
	if dirty <= t.e.maxDirtyPages && !t.ptx.UnderPressure() {
		return SignalContinue, nil
	}
	if err := t.ptx.Spill(ctx); err != nil {
		return SignalContinue, fmt.Errorf("safepoint: %w", translate(err))
	}
	if spilled := dirty - t.ptx.DirtyPages(); spilled > 0 {
		t.e.metrics.OnSpill(spilled)
		t.e.logger.Debug("safepoint flushed dirty pages", "tx", t.ID(), "pages", spilled)
	}
	return SignalContinue, nil
}

// safepoint wraps Safepoint for the write loops.
func (t *Transaction) safepoint(ctx context.Context) error {
	_, err := t.Safepoint(ctx)
	return err
}

// Commit persists every modified snapshot and publishes the result
// atomically. On error the transaction is rolled back.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		t.rollback(cancelled(err))
		return cancelled(err)
	}

	var states []*collectionState
	for _, name := range t.order {
		s := t.snaps[name]
		if s.mode != ModeWrite || !s.dirty() {
			continue
		}
		if err := s.persist(ctx); err != nil {
			err = fmt.Errorf("commit %q: %w", name, translate(err))
			t.rollback(err)
			return err
		}
		if s.created {
			t.e.logger.Info("collection created", "collection", name, "tx", t.ID())
		}
		states = append(states, s.state())
	}

	start := time.Now()
	err := t.ptx.Commit(ctx, func() { t.e.publish(states) })
	t.done = true
	t.releaseLocks()

	duration := time.Since(start)
	t.e.metrics.OnCommit(duration, len(states), err)
	if err != nil {
		err = translate(err)
		t.e.logger.Error("commit failed", "tx", t.ID(), "error", err)
		t.e.metrics.OnRollback(err)
		return err
	}
	t.e.logger.Debug("transaction committed",
		"tx", t.ID(),
		"collections", len(states),
		"duration", time.Since(t.started),
	)
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (t *Transaction) Rollback() {
	t.rollback(nil)
}

func (t *Transaction) rollback(reason error) {
	if t.done {
		return
	}
	t.done = true
	t.ptx.Rollback()
	t.releaseLocks()
	t.e.metrics.OnRollback(reason)
	t.e.logger.Debug("transaction rolled back", "tx", t.ID(), "reason", reason)
}

func (t *Transaction) releaseLocks() {
	for i := len(t.locks) - 1; i >= 0; i-- {
		t.locks[i]()
	}
	t.locks = nil
}
