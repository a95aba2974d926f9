// Package storage defines the persistence layer for trade ticks and ingestion
// cursors. These interfaces abstract over storage backends while keeping the
// contracts small enough for dependency injection and mocking in tests.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

// TickStorer handles persisted tick writes. The append-only tick tables are
// exclusively owned by the store; callers hold no copy beyond the page being
// processed.
type TickStorer interface {
	// CreateAssetTable creates the per-asset tick table sized from the given
	// decimal scales for price and volume columns. Idempotent.
	CreateAssetTable(ctx context.Context, asset string, priceScale, volumeScale int) error

	// HasAssetTable reports whether the per-asset tick table already exists.
	HasAssetTable(ctx context.Context, asset string) (bool, error)

	// AppendTicks writes one page of ticks and advances the asset's cursor in
	// a single transaction. The cursor must never point past un-persisted
	// ticks, so a failed write leaves the cursor untouched.
	AppendTicks(ctx context.Context, asset string, ticks []models.Tick, cursor models.Cursor) error
}

// TickReader retrieves persisted ticks for aggregation and inspection.
type TickReader interface {
	// ReadTicks returns ticks with fromID <= id <= toID in ascending sequence
	// order, capped at limit when limit > 0.
	ReadTicks(ctx context.Context, asset string, fromID, toID uint64, limit int) ([]models.Tick, error)

	// CountTicks returns the number of persisted ticks for the asset.
	CountTicks(ctx context.Context, asset string) (int64, error)
}

// CursorStore manages the shared per-asset ingestion cursor table.
type CursorStore interface {
	// GetCursor returns the asset's cursor, or nil if none exists yet.
	GetCursor(ctx context.Context, asset string) (*models.Cursor, error)

	// PutCursor inserts or updates the asset's cursor.
	PutCursor(ctx context.Context, cursor models.Cursor) error
}

// SequenceReader exposes the id column of a tick table for integrity scans
// without materializing whole rows.
type SequenceReader interface {
	// SequenceBounds returns the smallest and largest persisted sequence IDs
	// for the asset. ok is false when the table is empty.
	SequenceBounds(ctx context.Context, asset string) (first, last uint64, ok bool, err error)

	// SequenceChunk returns up to limit sequence IDs starting at fromID, in
	// ascending order, fetching only the id column.
	SequenceChunk(ctx context.Context, asset string, fromID uint64, limit int) ([]uint64, error)
}

// StorageManager handles storage lifecycle and operational concerns.
type StorageManager interface {
	// Initialize prepares the backend: shared tables, indexes, settings.
	// Idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Close gracefully shuts down the backend.
	Close() error

	// GetStats returns operational statistics for monitoring.
	GetStats(ctx context.Context) (*StorageStats, error)

	HealthChecker
}

// HealthChecker provides health monitoring for storage backends.
type HealthChecker interface {
	// HealthCheck performs a lightweight operation to verify connectivity.
	HealthCheck(ctx context.Context) error
}

// FullStorage combines all storage capabilities. The connection pool behind an
// implementation is the only cross-task shared resource in the system and must
// support concurrent use by independent asset pipelines and the verifier
// without external locking.
type FullStorage interface {
	TickStorer
	TickReader
	CursorStore
	SequenceReader
	StorageManager
}

// StorageStats provides operational metrics about the backend.
type StorageStats struct {
	// TotalTicks is the total number of ticks stored across all assets.
	TotalTicks int64

	// TrackedAssets is the number of assets with a cursor row.
	TrackedAssets int

	// StorageSize is the approximate storage space used in bytes.
	StorageSize int64

	// QueryPerformance contains average query times by operation type.
	QueryPerformance map[string]time.Duration
}

// StorageError represents a failure in a storage operation with enough context
// to diagnose which operation and table were involved.
type StorageError struct {
	// Operation is the storage operation that failed (e.g. "insert", "query").
	Operation string

	// Table is the table involved in the operation.
	Table string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the provided details.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// NewInsertError creates a StorageError for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}
