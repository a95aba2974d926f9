package integrity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdb/go-tick-archiver/internal/models"
	"github.com/tickdb/go-tick-archiver/internal/storage"
)

func seedIDs(t *testing.T, store *storage.MemoryStorage, asset string, ids []uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateAssetTable(ctx, asset, 1, 8))
	if len(ids) == 0 {
		return
	}

	ticks := make([]models.Tick, len(ids))
	max := ids[0]
	for i, id := range ids {
		ticks[i] = models.Tick{
			ID:     id,
			Price:  fmt.Sprintf("%d.0", 100+i),
			Volume: "1.0",
			TimeUS: 1_700_000_000_000_000 + int64(id)*1_000_000,
		}
		if id > max {
			max = id
		}
	}
	require.NoError(t, store.AppendTicks(ctx, asset, ticks,
		models.Cursor{Asset: asset, NextSeq: max + 1}))
}

func TestCheckFindsGaps(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedIDs(t, store, "XBTUSD", []uint64{1, 2, 3, 7, 8, 10})

	verifier := NewVerifier(store, 0, nil)
	report := verifier.Check(context.Background(), "XBTUSD")

	assert.True(t, report.Ok)
	assert.False(t, report.GapFree())
	assert.Equal(t, []uint64{4, 5, 6, 9}, report.MissingIDs)
	assert.Equal(t, int64(6), report.TotalScanned)
	assert.Equal(t, uint64(1), report.FirstID)
	assert.Equal(t, uint64(10), report.LastID)
	assert.NotEmpty(t, report.ID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestCheckContiguousSequence(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedIDs(t, store, "XBTUSD", []uint64{5, 6, 7, 8, 9})

	report := NewVerifier(store, DefaultChunkSize, nil).Check(context.Background(), "XBTUSD")

	assert.True(t, report.Ok)
	assert.True(t, report.GapFree())
	assert.Empty(t, report.MissingIDs)
	assert.Equal(t, int64(5), report.TotalScanned)
}

func TestCheckEmptyAssetIsConsistent(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedIDs(t, store, "XBTUSD", nil)

	report := NewVerifier(store, DefaultChunkSize, nil).Check(context.Background(), "XBTUSD")

	assert.True(t, report.Ok)
	assert.True(t, report.GapFree())
	assert.Empty(t, report.MissingIDs)
	assert.Equal(t, int64(0), report.TotalScanned)
}

func TestCheckDetectsGapsAcrossChunkBoundaries(t *testing.T) {
	// Chunk size 3 forces the gap to span a chunk boundary.
	store := storage.NewMemoryStorage()
	seedIDs(t, store, "XBTUSD", []uint64{1, 2, 3, 10, 11, 12, 20})

	report := NewVerifier(store, 3, nil).Check(context.Background(), "XBTUSD")

	assert.True(t, report.Ok)
	assert.Equal(t, []uint64{4, 5, 6, 7, 8, 9, 13, 14, 15, 16, 17, 18, 19}, report.MissingIDs)
	assert.Equal(t, int64(7), report.TotalScanned)
}

func TestCheckStorageFailureProducesPartialReport(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedIDs(t, store, "XBTUSD", []uint64{1, 2, 3})
	store.FailSequenceReads = true

	report := NewVerifier(store, DefaultChunkSize, nil).Check(context.Background(), "XBTUSD")

	assert.False(t, report.Ok)
	assert.False(t, report.GapFree())
	assert.NotEmpty(t, report.Error)
	assert.NotEmpty(t, report.ID)
}

func TestCheckCancelledContext(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedIDs(t, store, "XBTUSD", []uint64{1, 2, 3, 4, 5, 6})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewVerifier(store, 2, nil).Check(ctx, "XBTUSD")
	assert.False(t, report.Ok)
	assert.NotEmpty(t, report.Error)
}
