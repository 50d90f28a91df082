package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/autoid"
	"github.com/hupe1980/docstore/internal/fs"
)

func TestTransaction_RollbackFreesPages(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t, WithPageSize(256))

	_, err := e.Insert(ctx, "c", docs(doc(1), doc(2)), autoid.None)
	require.NoError(t, err)
	before := e.Stats()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, "c", docs(doc(3, document.F("body", strings.Repeat("x", 2000)))), autoid.None)
	require.NoError(t, err)
	_, err = tx.Update(ctx, "c", docs(doc(1, document.F("body", strings.Repeat("y", 2000)))))
	require.NoError(t, err)
	assert.Positive(t, e.Stats().ReservedPages)

	tx.Rollback()
	tx.Rollback()

	after := e.Stats()
	assert.Equal(t, before.UsedPages(), after.UsedPages())
	assert.Zero(t, after.ReservedPages)
	assert.Equal(t, before.LSN, after.LSN)

	_, err = tx.Insert(ctx, "c", docs(doc(4)), autoid.None)
	require.ErrorIs(t, err, ErrTxDone)
	require.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
}

func TestTransaction_ReadersSeeOnlyCommittedState(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t)

	_, err := e.InsertOne(ctx, "c", doc(1, document.F("v", "old")), autoid.None)
	require.NoError(t, err)

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Upsert(ctx, "c", docs(doc(1, document.F("v", "new")), doc(2)), autoid.None)
	require.NoError(t, err)

	// The writer sees its changes, readers do not.
	own, err := tx.FindByID(ctx, "c", document.Int32(1))
	require.NoError(t, err)
	assert.Equal(t, document.String("new"), field(t, own, "v"))

	assert.Equal(t, document.String("old"), field(t, mustFind(t, e, "c", 1), "v"))
	_, err = e.FindByID(ctx, "c", document.Int32(2))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), count(t, e, "c"))

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, document.String("new"), field(t, mustFind(t, e, "c", 1), "v"))
	assert.Equal(t, int64(2), count(t, e, "c"))
}

func TestTransaction_ViewIsStableAcrossCommits(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t)

	_, err := e.InsertOne(ctx, "c", doc(1, document.F("v", 1)), autoid.None)
	require.NoError(t, err)

	committed := make(chan error, 1)
	err = e.View(ctx, "c", func(s *Snapshot) error {
		go func() {
			_, err := e.UpsertOne(ctx, "c", doc(1, document.F("v", 2)), autoid.None)
			committed <- err
		}()

		// The writer can prepare its transaction but cannot publish while
		// the view is open.
		for range 5 {
			d, err := s.FindByID(ctx, document.Int32(1))
			if err != nil {
				return err
			}
			if v, _ := d.Get("v"); !v.Equal(document.Int32(1)) {
				return fmt.Errorf("view observed %s", v)
			}
			time.Sleep(5 * time.Millisecond)
		}
		select {
		case err := <-committed:
			return fmt.Errorf("commit finished inside view: %v", err)
		default:
			return nil
		}
	})
	require.NoError(t, err)

	require.NoError(t, <-committed)
	assert.Equal(t, document.Int32(2), field(t, mustFind(t, e, "c", 1), "v"))
}

func TestTransaction_SafepointSpillsToWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	metrics := &BasicMetricsObserver{}

	e := openLocal(t, dir, WithPageSize(256), WithMaxDirtyPages(2), WithMetricsObserver(metrics))

	batch := make([]*document.Document, 0, 40)
	for i := range 40 {
		batch = append(batch, doc(i, document.F("body", strings.Repeat("z", 300))))
	}
	n, err := e.Insert(ctx, "c", batch, autoid.None)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Positive(t, metrics.SpilledPages.Load())
	assert.Equal(t, int64(1), metrics.Commits.Load())

	body := document.String(strings.Repeat("z", 300))
	for i := range 40 {
		assert.Equal(t, body, field(t, mustFind(t, e, "c", i), "body"))
	}

	require.NoError(t, e.Close())
	e = openLocal(t, dir)
	assert.Equal(t, int64(40), count(t, e, "c"))
}

func TestTransaction_SafepointSignal(t *testing.T) {
	e := openMemory(t)

	tx, err := e.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	sig, err := tx.Safepoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SignalContinue, sig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sig, err = tx.Safepoint(ctx)
	assert.Equal(t, SignalCancelled, sig)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransaction_CancelledBatchRollsBack(t *testing.T) {
	e := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.InsertOne(ctx, "c", doc(0), autoid.None)
	require.NoError(t, err)

	err = e.RunInTransaction(ctx, func(tx *Transaction) error {
		if _, err := tx.Insert(ctx, "c", docs(doc(1), doc(2)), autoid.None); err != nil {
			return err
		}
		cancel()
		_, err := tx.Insert(ctx, "c", docs(doc(3), doc(4)), autoid.None)
		return err
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(1), count(t, e, "c"))

	_, err = e.Insert(ctx, "c", docs(doc(5)), autoid.None)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestRunInTransaction_LockTimeoutIsRetriedThenSurfaced(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsObserver{}
	e := openMemory(t,
		WithLockTimeout(20*time.Millisecond),
		WithMaxRetries(2),
		WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
		WithMetricsObserver(metrics),
	)

	holder, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.CreateSnapshot(ctx, ModeWrite, "c", true)
	require.NoError(t, err)

	_, err = e.InsertOne(ctx, "c", doc(1), autoid.None)
	require.ErrorIs(t, err, ErrTransientConflict)
	assert.Equal(t, int64(2), metrics.Retries.Load())

	// Other collections are not blocked.
	_, err = e.InsertOne(ctx, "other", doc(1), autoid.None)
	require.NoError(t, err)

	holder.Rollback()
	_, err = e.InsertOne(ctx, "c", doc(1), autoid.None)
	require.NoError(t, err)
}

func TestRunInTransaction_RetrySucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t,
		WithLockTimeout(20*time.Millisecond),
		WithMaxRetries(10),
		WithRetryBackoff(5*time.Millisecond, 10*time.Millisecond),
	)

	holder, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.Insert(ctx, "c", docs(doc(1)), autoid.None)
	require.NoError(t, err)

	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = holder.Commit(ctx)
	}()

	inserted, err := e.UpsertOne(ctx, "c", doc(1, document.F("v", "retried")), autoid.None)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, document.String("retried"), field(t, mustFind(t, e, "c", 1), "v"))
}

func TestRunInTransaction_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t)

	assert.Panics(t, func() {
		_ = e.RunInTransaction(ctx, func(tx *Transaction) error {
			if _, err := tx.Insert(ctx, "c", docs(doc(1)), autoid.None); err != nil {
				return err
			}
			panic("boom")
		})
	})

	// The collection lock was released.
	_, err := e.InsertOne(ctx, "c", doc(1), autoid.None)
	require.NoError(t, err)
}

func TestRecovery_ReplaysCommittedTransaction(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	faulty := fs.NewFaultyFS(nil)

	e, err := OpenLocal(dir, WithFileSystem(faulty))
	require.NoError(t, err)
	_, err = e.InsertOne(ctx, "c", doc(1, document.F("v", "a")), autoid.None)
	require.NoError(t, err)

	// The commit is durable in the WAL but the header never reaches the
	// page store.
	faulty.AddRule(filepath.Join(pagesDirName, "header"), fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	_, err = e.Upsert(ctx, "c", docs(doc(1, document.F("v", "b")), doc(2)), autoid.None)
	require.Error(t, err)

	// The engine refuses further writes until it is reopened.
	_, err = e.InsertOne(ctx, "c", doc(3), autoid.None)
	require.Error(t, err)
	_ = e.Close()

	e = openLocal(t, dir)
	assert.Equal(t, int64(2), count(t, e, "c"))
	assert.Equal(t, document.String("b"), field(t, mustFind(t, e, "c", 1), "v"))
}

func TestRecovery_IgnoresUncommittedSpill(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e, err := OpenLocal(dir, WithPageSize(256), WithMaxDirtyPages(1))
	require.NoError(t, err)
	_, err = e.InsertOne(ctx, "c", doc(1), autoid.None)
	require.NoError(t, err)

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, "c", docs(
		doc(2, document.F("body", strings.Repeat("s", 1000))),
		doc(3, document.F("body", strings.Repeat("t", 1000))),
	), autoid.None)
	require.NoError(t, err)
	require.Positive(t, tx.ptx.SpilledPages())

	// Crash: the process goes away without commit or rollback.
	require.NoError(t, e.pager.Close())
	require.NoError(t, e.dirLock.Unlock())
	e.closed.Store(true)

	e = openLocal(t, dir)
	assert.Equal(t, int64(1), count(t, e, "c"))
	assert.Zero(t, e.Stats().ReservedPages)
}
