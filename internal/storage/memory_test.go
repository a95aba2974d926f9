package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

func newTestTicks(firstID uint64, count int) []models.Tick {
	ticks := make([]models.Tick, count)
	for i := range ticks {
		ticks[i] = models.Tick{
			ID:     firstID + uint64(i),
			Price:  fmt.Sprintf("%d.25", 50000+i),
			Volume: "0.1",
			TimeUS: 1_700_000_000_000_000 + int64(i)*1_000_000,
		}
	}
	return ticks
}

func TestMemoryAppendAdvancesCursorAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.CreateAssetTable(ctx, "XBTUSD", 1, 8))

	ticks := newTestTicks(100, 5)
	cursor := models.Cursor{Asset: "XBTUSD", NextSeq: 105, NextPage: "token-1"}
	require.NoError(t, store.AppendTicks(ctx, "XBTUSD", ticks, cursor))

	got, err := store.GetCursor(ctx, "XBTUSD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cursor, *got)

	count, err := store.CountTicks(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestMemoryAppendRejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.CreateAssetTable(ctx, "XBTUSD", 1, 8))

	cursor := models.Cursor{Asset: "XBTUSD", NextSeq: 103, NextPage: "a"}
	require.NoError(t, store.AppendTicks(ctx, "XBTUSD", newTestTicks(100, 3), cursor))

	// Overlapping batch: ID 102 already exists.
	overlap := newTestTicks(102, 2)
	err := store.AppendTicks(ctx, "XBTUSD", overlap, models.Cursor{Asset: "XBTUSD", NextSeq: 104, NextPage: "b"})
	require.Error(t, err)

	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "insert", storageErr.Operation)

	// The failed batch must not have advanced the cursor or written anything.
	got, err := store.GetCursor(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, cursor, *got)

	count, err := store.CountTicks(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestMemoryAppendValidatesTicks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.CreateAssetTable(ctx, "XBTUSD", 1, 8))

	bad := []models.Tick{{ID: 1, Price: "-5", Volume: "1", TimeUS: 1}}
	err := store.AppendTicks(ctx, "XBTUSD", bad, models.Cursor{Asset: "XBTUSD", NextSeq: 2})
	assert.Error(t, err)
}

func TestMemoryReadTicksOrderedAndBounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.CreateAssetTable(ctx, "XBTUSD", 1, 8))
	require.NoError(t, store.AppendTicks(ctx, "XBTUSD", newTestTicks(10, 10),
		models.Cursor{Asset: "XBTUSD", NextSeq: 20}))

	ticks, err := store.ReadTicks(ctx, "XBTUSD", 12, 17, 0)
	require.NoError(t, err)
	require.Len(t, ticks, 6)
	for i := 1; i < len(ticks); i++ {
		assert.Less(t, ticks[i-1].ID, ticks[i].ID)
	}

	limited, err := store.ReadTicks(ctx, "XBTUSD", 10, 19, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
	assert.Equal(t, uint64(10), limited[0].ID)
}

func TestMemorySequenceBoundsAndChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.CreateAssetTable(ctx, "ETHUSD", 1, 8))

	_, _, ok, err := store.SequenceBounds(ctx, "ETHUSD")
	require.NoError(t, err)
	assert.False(t, ok, "empty table has no bounds")

	require.NoError(t, store.AppendTicks(ctx, "ETHUSD", newTestTicks(42, 20),
		models.Cursor{Asset: "ETHUSD", NextSeq: 62}))

	first, last, ok, err := store.SequenceBounds(ctx, "ETHUSD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), first)
	assert.Equal(t, uint64(61), last)

	chunk, err := store.SequenceChunk(ctx, "ETHUSD", 50, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{50, 51, 52, 53, 54}, chunk)
}

func TestMemoryUnknownAssetFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.ReadTicks(ctx, "NOSUCH", 0, 100, 0)
	assert.Error(t, err)

	err = store.AppendTicks(ctx, "NOSUCH", newTestTicks(1, 1),
		models.Cursor{Asset: "NOSUCH", NextSeq: 2})
	assert.Error(t, err)
}

func TestMemoryGetCursorMissingIsNil(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	got, err := store.GetCursor(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStatsAndHealth(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.CreateAssetTable(ctx, "XBTUSD", 1, 8))
	require.NoError(t, store.AppendTicks(ctx, "XBTUSD", newTestTicks(1, 4),
		models.Cursor{Asset: "XBTUSD", NextSeq: 5}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalTicks)
	assert.Equal(t, 1, stats.TrackedAssets)

	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
	assert.Error(t, store.HealthCheck(ctx))
}
