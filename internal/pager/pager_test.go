package pager

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docstore/blobstore"
	"github.com/hupe1980/docstore/internal/fs"
	"github.com/hupe1980/docstore/internal/resource"
	"github.com/hupe1980/docstore/internal/wal"
)

func openMemory(t *testing.T, opts Options) *Pager {
	t.Helper()
	p, err := Open(context.Background(), blobstore.NewMemoryStore(), nil, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func openWAL(t *testing.T, path string) *wal.WAL {
	t.Helper()
	w, err := wal.Open(fs.Default, path, wal.DefaultOptions())
	require.NoError(t, err)
	return w
}

func commitPage(t *testing.T, p *Pager, data string) PageID {
	t.Helper()
	tx, err := p.Begin()
	require.NoError(t, err)
	id, err := tx.Allocate()
	require.NoError(t, err)
	require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte(data)))
	require.NoError(t, tx.Commit(context.Background(), nil))
	return id
}

// failingStore fails header puts while armed.
type failingStore struct {
	*blobstore.MemoryStore
	failHeader bool
}

func (s *failingStore) Put(ctx context.Context, name string, data []byte) error {
	if s.failHeader && name == headerBlob {
		return errors.New("header put failed")
	}
	return s.MemoryStore.Put(ctx, name, data)
}

func TestPager_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	p := openMemory(t, Options{PageSize: 512})

	tx, err := p.Begin()
	require.NoError(t, err)

	id, err := tx.Allocate()
	require.NoError(t, err)
	assert.Equal(t, PageID(1), id)

	require.NoError(t, tx.Write(id, PageTypeCollection, InvalidPage, []byte("meta")))
	tx.SetRoot("users", id)

	// Visible to the writer, invisible to everybody else.
	page, err := tx.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "meta", string(page.Data))
	_, err = p.ReadCommitted(ctx, id)
	require.ErrorIs(t, err, ErrInvalidPage)

	published := false
	require.NoError(t, tx.Commit(ctx, func() { published = true }))
	assert.True(t, published)
	assert.Equal(t, uint64(1), p.LSN())

	page, err = p.ReadCommitted(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PageTypeCollection, page.Type)
	assert.Equal(t, "meta", string(page.Data))
	assert.Equal(t, map[string]PageID{"users": id}, p.Catalog())

	require.ErrorIs(t, tx.Write(id, PageTypeData, InvalidPage, nil), ErrTxDone)
	require.ErrorIs(t, tx.Commit(ctx, nil), ErrTxDone)
}

func TestPager_WriteTooLarge(t *testing.T) {
	p := openMemory(t, Options{PageSize: MinPageSize})
	tx, err := p.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := tx.Allocate()
	require.NoError(t, err)
	err = tx.Write(id, PageTypeData, InvalidPage, make([]byte, tx.Capacity()+1))
	require.ErrorIs(t, err, ErrPageTooLarge)
	require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, make([]byte, tx.Capacity())))
}

func TestPager_RollbackReturnsPages(t *testing.T) {
	p := openMemory(t, Options{})
	commitPage(t, p, "keep")

	tx, err := p.Begin()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id, err := tx.Allocate()
		require.NoError(t, err)
		require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte("x")))
	}
	assert.Equal(t, uint64(3), p.Stats().ReservedPages)
	tx.Rollback()

	st := p.Stats()
	assert.Equal(t, uint64(0), st.ReservedPages)
	assert.Equal(t, uint64(3), st.FreePages)
	assert.Equal(t, uint64(1), st.LSN)

	// The next allocation reuses the lowest released page.
	tx, err = p.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	id, err := tx.Allocate()
	require.NoError(t, err)
	assert.Equal(t, PageID(2), id)
}

func TestPager_FreeBecomesAllocatableAtCommit(t *testing.T) {
	ctx := context.Background()
	p := openMemory(t, Options{})
	id := commitPage(t, p, "old")

	tx, err := p.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Free(id))
	require.ErrorIs(t, tx.Free(id), ErrInvalidPage)
	_, err = tx.Read(ctx, id)
	require.ErrorIs(t, err, ErrInvalidPage)

	other, err := p.Begin()
	require.NoError(t, err)
	got, err := other.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, id, got, "freed page must not be reused before commit")
	other.Rollback()

	require.NoError(t, tx.Commit(ctx, nil))

	tx, err = p.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	got, err = tx.Allocate()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestPager_FreeOwnAllocation(t *testing.T) {
	p := openMemory(t, Options{})
	tx, err := p.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := tx.Allocate()
	require.NoError(t, err)
	require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte("tmp")))
	require.NoError(t, tx.Free(id))

	assert.Equal(t, 0, tx.DirtyPages())
	assert.Equal(t, uint64(1), p.Stats().FreePages)
	assert.Equal(t, uint64(0), p.Stats().ReservedPages)
}

func TestPager_StorageExhausted(t *testing.T) {
	p := openMemory(t, Options{MaxPages: 2})
	tx, err := p.Begin()
	require.NoError(t, err)

	_, err = tx.Allocate()
	require.NoError(t, err)
	_, err = tx.Allocate()
	require.NoError(t, err)
	_, err = tx.Allocate()
	require.ErrorIs(t, err, ErrStorageExhausted)

	tx.Rollback()
	st := p.Stats()
	assert.Equal(t, uint64(2), st.FreePages)
	assert.Equal(t, uint64(0), st.ReservedPages)
}

func TestPager_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	p, err := Open(ctx, store, nil, Options{CacheBytes: -1})
	require.NoError(t, err)
	defer p.Close()

	id := commitPage(t, p, "payload")

	raw, err := blobstore.ReadAll(ctx, store, pageName(id))
	require.NoError(t, err)
	raw = bytes.Clone(raw)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, store.Put(ctx, pageName(id), raw))

	_, err = p.ReadCommitted(ctx, id)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestPager_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blobstore.NewLocalStore(dir)

	p, err := Open(ctx, store, openWAL(t, filepath.Join(dir, "docstore.wal")), Options{PageSize: 512, Codec: "bson"})
	require.NoError(t, err)
	id := commitPage(t, p, "durable")
	tx, err := p.Begin()
	require.NoError(t, err)
	tx.SetRoot("users", id)
	require.NoError(t, tx.Commit(ctx, nil))
	require.NoError(t, p.Close())

	p, err = Open(ctx, store, openWAL(t, filepath.Join(dir, "docstore.wal")), Options{PageSize: 4096, Codec: "bson+zstd"})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 512, p.PageSize())
	assert.Equal(t, "bson", p.Codec())
	assert.Equal(t, uint64(2), p.LSN())
	assert.Equal(t, map[string]PageID{"users": id}, p.Catalog())

	page, err := p.ReadCommitted(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(page.Data))
}

func TestPager_SpillAndReadBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := blobstore.NewLocalStore(dir)
	p, err := Open(ctx, store, openWAL(t, filepath.Join(dir, "docstore.wal")), Options{})
	require.NoError(t, err)
	defer p.Close()

	tx, err := p.Begin()
	require.NoError(t, err)

	var ids []PageID
	for i := 0; i < 5; i++ {
		id, err := tx.Allocate()
		require.NoError(t, err)
		require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte{byte(i)}))
		ids = append(ids, id)
	}
	require.NoError(t, tx.Spill(ctx))
	assert.Equal(t, 0, tx.DirtyPages())
	assert.Equal(t, 5, tx.SpilledPages())

	// Spilled pages are private to the transaction.
	_, err = p.ReadCommitted(ctx, ids[0])
	require.ErrorIs(t, err, ErrInvalidPage)

	for i, id := range ids {
		page, err := tx.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, page.Data)
	}

	// A rewrite after the spill supersedes the logged image.
	require.NoError(t, tx.Write(ids[0], PageTypeData, InvalidPage, []byte("new")))
	require.NoError(t, tx.Commit(ctx, nil))

	page, err := p.ReadCommitted(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "new", string(page.Data))
	page, err = p.ReadCommitted(ctx, ids[4])
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, page.Data)
}

func TestPager_MemoryPressure(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2 * DefaultPageSize})
	p := openMemory(t, Options{ResourceController: rc, CacheBytes: -1})

	tx, err := p.Begin()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id, err := tx.Allocate()
		require.NoError(t, err)
		require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte("x")))
	}
	assert.True(t, tx.UnderPressure())
	assert.Equal(t, int64(2*DefaultPageSize), rc.MemoryUsage())

	require.NoError(t, tx.Spill(context.Background()))
	assert.False(t, tx.UnderPressure())

	tx.Rollback()
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

// concurrencyStore records the highest number of concurrent puts.
type concurrencyStore struct {
	*blobstore.MemoryStore
	cur, peak atomic.Int32
}

func (s *concurrencyStore) Put(ctx context.Context, name string, data []byte) error {
	n := s.cur.Add(1)
	defer s.cur.Add(-1)
	for {
		old := s.peak.Load()
		if n <= old || s.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return s.MemoryStore.Put(ctx, name, data)
}

func TestPager_CommitHonorsWriterLimit(t *testing.T) {
	ctx := context.Background()
	for _, workers := range []int64{1, 3} {
		store := &concurrencyStore{MemoryStore: blobstore.NewMemoryStore()}
		rc := resource.NewController(resource.Config{MaxIOWorkers: workers})
		p, err := Open(ctx, store, nil, Options{PageSize: 512, ResourceController: rc})
		require.NoError(t, err)

		tx, err := p.Begin()
		require.NoError(t, err)
		for i := 0; i < 16; i++ {
			id, err := tx.Allocate()
			require.NoError(t, err)
			require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte("x")))
		}
		require.NoError(t, tx.Commit(ctx, nil))

		assert.LessOrEqual(t, store.peak.Load(), int32(workers))
		assert.Positive(t, store.peak.Load())
		require.NoError(t, p.Close())
	}
}

func TestPager_RecoversCommittedTransaction(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	walPath := filepath.Join(dir, "docstore.wal")
	store := &failingStore{MemoryStore: blobstore.NewMemoryStore()}

	p, err := Open(ctx, store, openWAL(t, walPath), Options{})
	require.NoError(t, err)
	first := commitPage(t, p, "first")

	// The commit is durable in the log but never reaches the header.
	store.failHeader = true
	tx, err := p.Begin()
	require.NoError(t, err)
	second, err := tx.Allocate()
	require.NoError(t, err)
	require.NoError(t, tx.Write(second, PageTypeData, InvalidPage, []byte("second")))
	require.NoError(t, tx.Write(first, PageTypeData, InvalidPage, []byte("first v2")))
	tx.SetRoot("c", second)
	require.Error(t, tx.Commit(ctx, nil))

	_, err = p.Begin()
	require.ErrorIs(t, err, ErrFailed)
	require.NoError(t, p.Close())

	store.failHeader = false
	p, err = Open(ctx, store, openWAL(t, walPath), Options{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, uint64(2), p.LSN())
	assert.Equal(t, map[string]PageID{"c": second}, p.Catalog())

	page, err := p.ReadCommitted(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(page.Data))
	page, err = p.ReadCommitted(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "first v2", string(page.Data))
}

func TestPager_DiscardsUncommittedOnRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	walPath := filepath.Join(dir, "docstore.wal")
	store := blobstore.NewMemoryStore()

	p, err := Open(ctx, store, openWAL(t, walPath), Options{})
	require.NoError(t, err)

	tx, err := p.Begin()
	require.NoError(t, err)
	id, err := tx.Allocate()
	require.NoError(t, err)
	require.NoError(t, tx.Write(id, PageTypeData, InvalidPage, []byte("lost")))
	require.NoError(t, tx.Spill(ctx))

	// Simulate a crash: the transaction never commits or rolls back.
	require.NoError(t, p.Close())

	p, err = Open(ctx, store, openWAL(t, walPath), Options{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, uint64(0), p.LSN())
	_, err = p.ReadCommitted(ctx, id)
	require.ErrorIs(t, err, ErrInvalidPage)
	assert.Equal(t, 0, store.Len())
}

func TestPager_Closed(t *testing.T) {
	p, err := Open(context.Background(), blobstore.NewMemoryStore(), nil, Options{})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Begin()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, p.Close(), ErrClosed)
}
