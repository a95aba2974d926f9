// DuckDB-backed storage implementation. Tick tables are append-only and one
// per asset; the shared cursor table maps each asset to its next expected
// sequence ID and pagination token. Page writes and cursor advances share one
// transaction so a cancelled or failed write can never leave the cursor
// pointing past un-persisted ticks.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

const (
	// decimalWidth is the total precision of price/volume columns.
	decimalWidth = 18

	// minDecimalScale is the floor for the decimal scale of price/volume
	// columns. Exchange metadata may advertise fewer decimals; the floor is
	// enforced regardless so re-listings with increased precision do not
	// truncate.
	minDecimalScale = 4

	cursorTable = "ingestion_cursors"
)

// DuckDBStorage implements FullStorage on top of DuckDB.
type DuckDBStorage struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex

	queryTimes map[string][]time.Duration
	queryMu    sync.Mutex
}

// NewDuckDBStorage creates a new DuckDB storage instance. The dbPath can be
// ":memory:" for an in-memory database or a file path for persistent storage.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer pattern as recommended for DuckDB; readers multiplex over
	// the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:         db,
		dbPath:     dbPath,
		logger:     logger,
		queryTimes: make(map[string][]time.Duration),
	}, nil
}

// Initialize implements StorageManager.Initialize.
// Creates the shared cursor table; per-asset tick tables are created lazily by
// the ingestion pipeline on first contact with an asset.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		asset VARCHAR PRIMARY KEY,
		next_seq BIGINT NOT NULL,
		next_page VARCHAR NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, cursorTable)

	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return NewStorageError("initialize", cursorTable, fmt.Errorf("failed to create cursor table: %w", err))
	}

	d.logger.Info("DuckDB storage initialized")
	return nil
}

// tickTableName maps an asset identifier to its tick table name. Assets come
// from configuration, not user input, but the name still goes through a strict
// whitelist so it can be interpolated into DDL.
func tickTableName(asset string) string {
	var b strings.Builder
	b.WriteString("ticks_")
	for _, r := range strings.ToLower(asset) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// CreateAssetTable implements TickStorer.CreateAssetTable.
// Decimal column scales come from exchange precision metadata, clamped to the
// minimum floor.
func (d *DuckDBStorage) CreateAssetTable(ctx context.Context, asset string, priceScale, volumeScale int) error {
	if priceScale < minDecimalScale {
		priceScale = minDecimalScale
	}
	if volumeScale < minDecimalScale {
		volumeScale = minDecimalScale
	}

	table := tickTableName(asset)
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		price DECIMAL(%d, %d) NOT NULL,
		volume DECIMAL(%d, %d) NOT NULL,
		time BIGINT NOT NULL,
		buy_side BOOLEAN NOT NULL,
		market BOOLEAN NOT NULL,
		misc VARCHAR NOT NULL DEFAULT '',
		CONSTRAINT %s_price_positive CHECK (price > 0),
		CONSTRAINT %s_volume_non_negative CHECK (volume >= 0)
	)`, table, decimalWidth, priceScale, decimalWidth, volumeScale, table, table)

	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return NewStorageError("create_table", table, fmt.Errorf("failed to create tick table: %w", err))
	}

	d.logger.Info("created tick table",
		"asset", asset,
		"table", table,
		"price_scale", priceScale,
		"volume_scale", volumeScale)
	return nil
}

// HasAssetTable implements TickStorer.HasAssetTable.
func (d *DuckDBStorage) HasAssetTable(ctx context.Context, asset string) (bool, error) {
	table := tickTableName(asset)

	var count int
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1"
	if err := d.db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false, NewQueryError(table, fmt.Errorf("failed to check table existence: %w", err))
	}
	return count > 0, nil
}

// AppendTicks implements TickStorer.AppendTicks.
// The tick batch and the cursor advance commit as one transaction.
func (d *DuckDBStorage) AppendTicks(ctx context.Context, asset string, ticks []models.Tick, cursor models.Cursor) error {
	start := time.Now()
	defer func() {
		d.recordQueryTime("append_ticks", time.Since(start))
	}()

	table := tickTableName(asset)

	for i := range ticks {
		if err := ticks[i].Validate(); err != nil {
			return NewInsertError(table, fmt.Errorf("invalid tick at index %d: %w", i, err))
		}
	}
	if err := cursor.Validate(); err != nil {
		return NewInsertError(cursorTable, fmt.Errorf("invalid cursor: %w", err))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewInsertError(table, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if len(ticks) > 0 {
		insert := fmt.Sprintf(
			"INSERT INTO %s (id, price, volume, time, buy_side, market, misc) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			table)
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return NewInsertError(table, fmt.Errorf("failed to prepare insert: %w", err))
		}
		defer stmt.Close()

		for _, t := range ticks {
			if _, err := stmt.ExecContext(ctx, int64(t.ID), t.Price, t.Volume, t.TimeUS, t.BuySide, t.Market, t.Misc); err != nil {
				return NewInsertError(table, fmt.Errorf("failed to insert tick %d: %w", t.ID, err))
			}
		}
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (asset, next_seq, next_page, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (asset) DO UPDATE SET
			next_seq = excluded.next_seq,
			next_page = excluded.next_page,
			updated_at = now()`, cursorTable)

	if _, err := tx.ExecContext(ctx, upsert, cursor.Asset, int64(cursor.NextSeq), cursor.NextPage); err != nil {
		return NewInsertError(cursorTable, fmt.Errorf("failed to advance cursor: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError(table, fmt.Errorf("failed to commit tick page: %w", err))
	}

	d.logger.Debug("appended tick page",
		"asset", asset,
		"count", len(ticks),
		"next_seq", cursor.NextSeq,
		"duration", time.Since(start))
	return nil
}

// ReadTicks implements TickReader.ReadTicks.
func (d *DuckDBStorage) ReadTicks(ctx context.Context, asset string, fromID, toID uint64, limit int) ([]models.Tick, error) {
	start := time.Now()
	defer func() {
		d.recordQueryTime("read_ticks", time.Since(start))
	}()

	table := tickTableName(asset)
	query := fmt.Sprintf(
		"SELECT id, price, volume, time, buy_side, market, misc FROM %s WHERE id >= $1 AND id <= $2 ORDER BY id ASC",
		table)
	args := []interface{}{int64(fromID), int64(toID)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(table, fmt.Errorf("failed to read ticks: %w", err))
	}
	defer rows.Close()

	var ticks []models.Tick
	for rows.Next() {
		var t models.Tick
		var id int64
		var price, volume interface{}

		if err := rows.Scan(&id, &price, &volume, &t.TimeUS, &t.BuySide, &t.Market, &t.Misc); err != nil {
			return nil, NewQueryError(table, fmt.Errorf("failed to scan tick: %w", err))
		}
		t.ID = uint64(id)
		t.Price = decimalToString(price)
		t.Volume = decimalToString(volume)
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(table, fmt.Errorf("tick rows iteration error: %w", err))
	}

	return ticks, nil
}

// CountTicks implements TickReader.CountTicks.
func (d *DuckDBStorage) CountTicks(ctx context.Context, asset string) (int64, error) {
	table := tickTableName(asset)

	var count int64
	if err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, NewQueryError(table, fmt.Errorf("failed to count ticks: %w", err))
	}
	return count, nil
}

// GetCursor implements CursorStore.GetCursor.
func (d *DuckDBStorage) GetCursor(ctx context.Context, asset string) (*models.Cursor, error) {
	query := fmt.Sprintf("SELECT asset, next_seq, next_page FROM %s WHERE asset = $1", cursorTable)

	var c models.Cursor
	var nextSeq int64
	err := d.db.QueryRowContext(ctx, query, asset).Scan(&c.Asset, &nextSeq, &c.NextPage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError(cursorTable, fmt.Errorf("failed to get cursor: %w", err))
	}
	c.NextSeq = uint64(nextSeq)

	return &c, nil
}

// PutCursor implements CursorStore.PutCursor.
func (d *DuckDBStorage) PutCursor(ctx context.Context, cursor models.Cursor) error {
	if err := cursor.Validate(); err != nil {
		return NewInsertError(cursorTable, fmt.Errorf("invalid cursor: %w", err))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (asset, next_seq, next_page, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (asset) DO UPDATE SET
			next_seq = excluded.next_seq,
			next_page = excluded.next_page,
			updated_at = now()`, cursorTable)

	if _, err := d.db.ExecContext(ctx, query, cursor.Asset, int64(cursor.NextSeq), cursor.NextPage); err != nil {
		return NewInsertError(cursorTable, fmt.Errorf("failed to put cursor: %w", err))
	}
	return nil
}

// SequenceBounds implements SequenceReader.SequenceBounds.
func (d *DuckDBStorage) SequenceBounds(ctx context.Context, asset string) (uint64, uint64, bool, error) {
	table := tickTableName(asset)

	var first, last sql.NullInt64
	query := fmt.Sprintf("SELECT MIN(id), MAX(id) FROM %s", table)
	if err := d.db.QueryRowContext(ctx, query).Scan(&first, &last); err != nil {
		return 0, 0, false, NewQueryError(table, fmt.Errorf("failed to get sequence bounds: %w", err))
	}
	if !first.Valid || !last.Valid {
		return 0, 0, false, nil
	}
	return uint64(first.Int64), uint64(last.Int64), true, nil
}

// SequenceChunk implements SequenceReader.SequenceChunk.
// Fetches only the id column so million-row scans stay cheap.
func (d *DuckDBStorage) SequenceChunk(ctx context.Context, asset string, fromID uint64, limit int) ([]uint64, error) {
	start := time.Now()
	defer func() {
		d.recordQueryTime("sequence_chunk", time.Since(start))
	}()

	table := tickTableName(asset)
	query := fmt.Sprintf("SELECT id FROM %s WHERE id >= $1 ORDER BY id ASC LIMIT $2", table)

	rows, err := d.db.QueryContext(ctx, query, int64(fromID), limit)
	if err != nil {
		return nil, NewQueryError(table, fmt.Errorf("failed to fetch sequence chunk: %w", err))
	}
	defer rows.Close()

	ids := make([]uint64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, NewQueryError(table, fmt.Errorf("failed to scan sequence id: %w", err))
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(table, fmt.Errorf("sequence rows iteration error: %w", err))
	}

	return ids, nil
}

// GetStats implements StorageManager.GetStats.
func (d *DuckDBStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{QueryPerformance: make(map[string]time.Duration)}

	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf("SELECT asset FROM %s ORDER BY asset", cursorTable))
	if err != nil {
		return nil, NewQueryError(cursorTable, fmt.Errorf("failed to list tracked assets: %w", err))
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, NewQueryError(cursorTable, fmt.Errorf("failed to scan asset: %w", err))
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(cursorTable, fmt.Errorf("asset rows iteration error: %w", err))
	}

	stats.TrackedAssets = len(assets)
	for _, asset := range assets {
		count, err := d.CountTicks(ctx, asset)
		if err != nil {
			return nil, err
		}
		stats.TotalTicks += count
	}

	// Approximate size from row count; DuckDB does not expose per-table bytes.
	stats.StorageSize = stats.TotalTicks * 64

	d.queryMu.Lock()
	for operation, times := range d.queryTimes {
		if len(times) == 0 {
			continue
		}
		var total time.Duration
		for _, t := range times {
			total += t
		}
		stats.QueryPerformance[operation] = total / time.Duration(len(times))
	}
	d.queryMu.Unlock()

	return stats, nil
}

// HealthCheck implements HealthChecker.HealthCheck.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()

	if db == nil {
		return NewStorageError("health_check", "", fmt.Errorf("database connection is closed"))
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", fmt.Errorf("database health check failed: %w", err))
	}
	return nil
}

// Close implements StorageManager.Close.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}

// recordQueryTime tracks query durations for monitoring. Only the last 100
// measurements per operation are kept.
func (d *DuckDBStorage) recordQueryTime(operation string, duration time.Duration) {
	d.queryMu.Lock()
	defer d.queryMu.Unlock()

	times := d.queryTimes[operation]
	if len(times) >= 100 {
		times = times[1:]
	}
	d.queryTimes[operation] = append(times, duration)
}

// decimalToString converts scanned DECIMAL values to their string form. The
// driver hands DECIMAL columns back as a duckdb.Decimal struct, whose String
// method has a pointer receiver, so the value must be taken addressably before
// formatting.
func decimalToString(value interface{}) string {
	switch v := value.(type) {
	case duckdb.Decimal:
		return v.String()
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Compile-time interface compliance check
var (
	_ FullStorage    = (*DuckDBStorage)(nil)
	_ TickStorer     = (*DuckDBStorage)(nil)
	_ TickReader     = (*DuckDBStorage)(nil)
	_ CursorStore    = (*DuckDBStorage)(nil)
	_ SequenceReader = (*DuckDBStorage)(nil)
	_ StorageManager = (*DuckDBStorage)(nil)
)
