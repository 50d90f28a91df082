package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/autoid"
)

func writeSnapshot(t *testing.T, e *Engine, collection string) (*Transaction, *Snapshot) {
	t.Helper()
	tx, err := e.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(tx.Rollback)
	s, err := tx.CreateSnapshot(context.Background(), ModeWrite, collection, true)
	require.NoError(t, err)
	return tx, s
}

func TestDataService(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t, WithPageSize(256))
	capacity := e.pager.Capacity()

	t.Run("multi page chain", func(t *testing.T) {
		_, s := writeSnapshot(t, e, "data")
		payload := bytes.Repeat([]byte("abcdefg"), capacity)

		loc, err := s.Data().Insert(ctx, payload)
		require.NoError(t, err)
		got, err := s.Data().Read(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Equal(t, uint64(7), e.Stats().ReservedPages)
	})

	t.Run("empty payload takes one page", func(t *testing.T) {
		_, s := writeSnapshot(t, e, "data")
		loc, err := s.Data().Insert(ctx, nil)
		require.NoError(t, err)
		got, err := s.Data().Read(ctx, loc)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, uint64(1), e.Stats().ReservedPages)
	})

	t.Run("shrinking update keeps the location", func(t *testing.T) {
		_, s := writeSnapshot(t, e, "data")
		loc, err := s.Data().Insert(ctx, bytes.Repeat([]byte{1}, 3*capacity))
		require.NoError(t, err)

		moved, err := s.Data().Update(ctx, loc, []byte("small"))
		require.NoError(t, err)
		assert.Equal(t, loc, moved)
		assert.Equal(t, uint64(1), e.Stats().ReservedPages)

		got, err := s.Data().Read(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, []byte("small"), got)
	})

	t.Run("growing update moves the data", func(t *testing.T) {
		_, s := writeSnapshot(t, e, "data")
		loc, err := s.Data().Insert(ctx, []byte("small"))
		require.NoError(t, err)

		large := bytes.Repeat([]byte{2}, 2*capacity+1)
		moved, err := s.Data().Update(ctx, loc, large)
		require.NoError(t, err)
		assert.NotEqual(t, loc, moved)
		assert.Equal(t, uint64(3), e.Stats().ReservedPages)

		got, err := s.Data().Read(ctx, moved)
		require.NoError(t, err)
		assert.Equal(t, large, got)

		_, err = s.Data().Read(ctx, loc)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("delete", func(t *testing.T) {
		_, s := writeSnapshot(t, e, "data")
		loc, err := s.Data().Insert(ctx, bytes.Repeat([]byte{3}, capacity+1))
		require.NoError(t, err)
		require.NoError(t, s.Data().Delete(ctx, loc))
		assert.Zero(t, e.Stats().ReservedPages)

		_, err = s.Data().Read(ctx, loc)
		require.ErrorIs(t, err, ErrCorrupt)
		require.ErrorIs(t, s.Data().Delete(ctx, loc), ErrCorrupt)
	})

	t.Run("invalid location", func(t *testing.T) {
		_, s := writeSnapshot(t, e, "data")
		_, err := s.Data().Read(ctx, InvalidLocation)
		require.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestIndexService(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t)

	_, err := e.EnsureIndex(ctx, "people", "by_city", "city", false)
	require.NoError(t, err)
	_, err = e.EnsureIndex(ctx, "people", "by_mail", "mail", true)
	require.NoError(t, err)

	tx, s := writeSnapshot(t, e, "people")
	idx := s.Index()

	for i, city := range []string{"Berlin", "Paris", "Berlin"} {
		pk := document.Int32(int32(i + 1))
		_, err := idx.Insert(PrimaryIndex, pk, document.Null(), Location(100+i))
		require.NoError(t, err)
		_, err = idx.Insert("by_city", document.String(city), pk, Location(100+i))
		require.NoError(t, err)
	}

	t.Run("find", func(t *testing.T) {
		entry, ok, err := idx.Find(PrimaryIndex, document.Int64(2))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Location(101), entry.Location)

		_, ok, err = idx.Find(PrimaryIndex, document.Int32(9))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("find all orders by primary key", func(t *testing.T) {
		entries, err := idx.FindAll("by_city", document.String("Berlin"))
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, document.Int32(1), entries[0].PK)
		assert.Equal(t, document.Int32(3), entries[1].PK)

		entries, err = idx.FindAll("by_city", document.String("Rome"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unique indexes reject duplicates", func(t *testing.T) {
		_, err := idx.Insert(PrimaryIndex, document.Int32(1), document.Null(), Location(1))
		var dup *DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, PrimaryIndex, dup.Index)
		assert.Equal(t, "people", dup.Collection)

		_, err = idx.Insert("by_mail", document.String("a@example.com"), document.Int32(1), Location(100))
		require.NoError(t, err)
		_, err = idx.Insert("by_mail", document.String("a@example.com"), document.Int32(2), Location(101))
		require.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("update and remove", func(t *testing.T) {
		entry, ok, err := idx.Find(PrimaryIndex, document.Int32(3))
		require.NoError(t, err)
		require.True(t, ok)

		updated, err := idx.Update(PrimaryIndex, entry, Location(500))
		require.NoError(t, err)
		assert.Equal(t, Location(500), updated.Location)

		require.NoError(t, idx.Remove(PrimaryIndex, updated))
		require.ErrorIs(t, idx.Remove(PrimaryIndex, updated), ErrCorrupt)
		_, err = idx.Update(PrimaryIndex, updated, Location(501))
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unknown index", func(t *testing.T) {
		_, _, err := idx.Find("by_age", document.Int32(1))
		require.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("entries are ordered", func(t *testing.T) {
		entries, err := idx.Entries("by_city")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, document.String("Berlin"), entries[0].Key)
		assert.Equal(t, document.String("Berlin"), entries[1].Key)
		assert.Equal(t, document.String("Paris"), entries[2].Key)
	})

	// Nothing leaked into the committed state.
	tx.Rollback()
	n, err := e.Count(ctx, "people")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, _, err = idx.Find(PrimaryIndex, document.Int32(1))
	require.ErrorIs(t, err, ErrTxDone)
}

func TestSnapshot_ReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t)
	_, err := e.InsertOne(ctx, "c", doc(1), autoid.None)
	require.NoError(t, err)

	err = e.View(ctx, "c", func(s *Snapshot) error {
		assert.Equal(t, ModeRead, s.Mode())
		assert.Equal(t, int64(1), s.Count())

		_, err := s.Index().Insert(PrimaryIndex, document.Int32(2), document.Null(), Location(1))
		require.ErrorIs(t, err, ErrInvalidArgument)
		_, err = s.Data().Insert(ctx, []byte("x"))
		require.ErrorIs(t, err, ErrInvalidArgument)

		d, err := s.FindByID(ctx, document.Int32(1))
		require.NoError(t, err)
		assert.Equal(t, document.Int32(1), field(t, d, "_id"))
		return nil
	})
	require.NoError(t, err)

	err = e.View(ctx, "missing", func(*Snapshot) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransaction_SnapshotReuseAndUpgrade(t *testing.T) {
	ctx := context.Background()
	e := openMemory(t)
	_, err := e.InsertOne(ctx, "c", doc(1), autoid.None)
	require.NoError(t, err)

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.CreateSnapshot(ctx, ModeRead, "missing", true)
	require.ErrorIs(t, err, ErrNotFound)

	r, err := tx.CreateSnapshot(ctx, ModeRead, "c", false)
	require.NoError(t, err)
	assert.Equal(t, ModeRead, r.Mode())

	w, err := tx.CreateSnapshot(ctx, ModeWrite, "c", false)
	require.NoError(t, err)
	assert.Same(t, r, w)
	assert.Equal(t, ModeWrite, w.Mode())

	_, err = tx.CreateSnapshot(ctx, ModeWrite, "$system", true)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
