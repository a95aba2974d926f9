// In-memory storage implementation used by tests and as a lightweight backend
// for experimentation. Mirrors the DuckDB semantics: per-asset append-only
// tick sets keyed by sequence ID and a shared cursor map, with the page write
// and cursor advance applied atomically under one lock.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

// MemoryStorage implements FullStorage backed by process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	tables  map[string]map[uint64]models.Tick
	cursors map[string]models.Cursor
	closed  bool

	// FailAppends forces AppendTicks to fail, for exercising the pipeline's
	// write-failure path in tests.
	FailAppends bool

	// FailSequenceReads forces sequence queries to fail, for exercising the
	// verifier's partial-report path in tests.
	FailSequenceReads bool
}

// NewMemoryStorage creates an empty in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tables:  make(map[string]map[uint64]models.Tick),
		cursors: make(map[string]models.Cursor),
	}
}

// Initialize implements StorageManager.Initialize.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	return nil
}

// CreateAssetTable implements TickStorer.CreateAssetTable. Decimal scales are
// accepted for interface parity but carry no meaning in memory.
func (m *MemoryStorage) CreateAssetTable(ctx context.Context, asset string, priceScale, volumeScale int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[asset]; !exists {
		m.tables[asset] = make(map[uint64]models.Tick)
	}
	return nil
}

// HasAssetTable implements TickStorer.HasAssetTable.
func (m *MemoryStorage) HasAssetTable(ctx context.Context, asset string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.tables[asset]
	return exists, nil
}

// AppendTicks implements TickStorer.AppendTicks.
func (m *MemoryStorage) AppendTicks(ctx context.Context, asset string, ticks []models.Tick, cursor models.Cursor) error {
	for i := range ticks {
		if err := ticks[i].Validate(); err != nil {
			return NewInsertError(asset, fmt.Errorf("invalid tick at index %d: %w", i, err))
		}
	}
	if err := cursor.Validate(); err != nil {
		return NewInsertError(cursorTable, fmt.Errorf("invalid cursor: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppends {
		return NewInsertError(asset, fmt.Errorf("append failure injected"))
	}

	table, exists := m.tables[asset]
	if !exists {
		return NewInsertError(asset, fmt.Errorf("no table for asset %s", asset))
	}

	for _, t := range ticks {
		if _, dup := table[t.ID]; dup {
			return NewInsertError(asset, fmt.Errorf("duplicate sequence id %d", t.ID))
		}
	}
	for _, t := range ticks {
		table[t.ID] = t
	}
	m.cursors[cursor.Asset] = cursor

	return nil
}

// ReadTicks implements TickReader.ReadTicks.
func (m *MemoryStorage) ReadTicks(ctx context.Context, asset string, fromID, toID uint64, limit int) ([]models.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tables[asset]
	if !exists {
		return nil, NewQueryError(asset, fmt.Errorf("no table for asset %s", asset))
	}

	var ticks []models.Tick
	for id, t := range table {
		if id >= fromID && id <= toID {
			ticks = append(ticks, t)
		}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].ID < ticks[j].ID })

	if limit > 0 && len(ticks) > limit {
		ticks = ticks[:limit]
	}
	return ticks, nil
}

// CountTicks implements TickReader.CountTicks.
func (m *MemoryStorage) CountTicks(ctx context.Context, asset string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tables[asset]
	if !exists {
		return 0, NewQueryError(asset, fmt.Errorf("no table for asset %s", asset))
	}
	return int64(len(table)), nil
}

// GetCursor implements CursorStore.GetCursor.
func (m *MemoryStorage) GetCursor(ctx context.Context, asset string) (*models.Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.cursors[asset]
	if !exists {
		return nil, nil
	}
	return &c, nil
}

// PutCursor implements CursorStore.PutCursor.
func (m *MemoryStorage) PutCursor(ctx context.Context, cursor models.Cursor) error {
	if err := cursor.Validate(); err != nil {
		return NewInsertError(cursorTable, fmt.Errorf("invalid cursor: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[cursor.Asset] = cursor
	return nil
}

// SequenceBounds implements SequenceReader.SequenceBounds.
func (m *MemoryStorage) SequenceBounds(ctx context.Context, asset string) (uint64, uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailSequenceReads {
		return 0, 0, false, NewQueryError(asset, fmt.Errorf("sequence read failure injected"))
	}

	table, exists := m.tables[asset]
	if !exists {
		return 0, 0, false, NewQueryError(asset, fmt.Errorf("no table for asset %s", asset))
	}
	if len(table) == 0 {
		return 0, 0, false, nil
	}

	first := false
	var min, max uint64
	for id := range table {
		if !first {
			min, max = id, id
			first = true
			continue
		}
		if id < min {
			min = id
		}
		if id > max {
			max = id
		}
	}
	return min, max, true, nil
}

// SequenceChunk implements SequenceReader.SequenceChunk.
func (m *MemoryStorage) SequenceChunk(ctx context.Context, asset string, fromID uint64, limit int) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailSequenceReads {
		return nil, NewQueryError(asset, fmt.Errorf("sequence read failure injected"))
	}

	table, exists := m.tables[asset]
	if !exists {
		return nil, NewQueryError(asset, fmt.Errorf("no table for asset %s", asset))
	}

	ids := make([]uint64, 0, len(table))
	for id := range table {
		if id >= fromID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetStats implements StorageManager.GetStats.
func (m *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StorageStats{
		TrackedAssets:    len(m.cursors),
		QueryPerformance: make(map[string]time.Duration),
	}
	for _, table := range m.tables {
		stats.TotalTicks += int64(len(table))
	}
	return stats, nil
}

// HealthCheck implements HealthChecker.HealthCheck.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return NewStorageError("health_check", "", fmt.Errorf("storage is closed"))
	}
	return nil
}

// Close implements StorageManager.Close.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Compile-time interface compliance check
var _ FullStorage = (*MemoryStorage)(nil)
