// Package ingest implements resumable, paginated trade ingestion from an
// exchange into the tick store.
//
// Each asset runs as a sequential state machine: page N+1 depends on the
// cursor produced by page N, so there is no intra-asset parallelism. Multiple
// assets may ingest concurrently as independent pipelines; they share nothing
// but the storage connection pool. Progress flows to the consumer over an
// emit-only channel the core never reads or blocks on.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tickdb/go-tick-archiver/internal/exchange"
	"github.com/tickdb/go-tick-archiver/internal/models"
	"github.com/tickdb/go-tick-archiver/internal/period"
	"github.com/tickdb/go-tick-archiver/internal/storage"
)

const (
	// DefaultFullPageSize is the page size at which the exchange is assumed
	// to have more data. A page with fewer rows means the asset is caught up.
	DefaultFullPageSize = 1000

	// DefaultPageDelay is the courtesy pause between page requests.
	DefaultPageDelay = 2 * time.Second
)

// Config tunes pipeline behavior. Zero values fall back to defaults.
type Config struct {
	// HistoryWindow is a period expression ("2w", "30d") bounding how far
	// back the first ingestion of an asset reaches. Tick-count periods are
	// rejected at validation.
	HistoryWindow string

	// PageDelay is the sleep between page requests (skipped after the
	// terminal page).
	PageDelay time.Duration

	// FullPageSize is the row count at which a page is considered full.
	FullPageSize int

	Logger *slog.Logger

	// Now is an injectable clock for tests; defaults to time.Now.
	Now func() time.Time
}

// Pipeline ingests trade ticks for individual assets.
type Pipeline struct {
	store  storage.FullStorage
	client exchange.Client
	window time.Duration
	delay  time.Duration
	full   int
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline creates a pipeline over the given store and exchange client.
func NewPipeline(store storage.FullStorage, client exchange.Client, cfg Config) (*Pipeline, error) {
	window, err := historyWindow(cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}

	delay := cfg.PageDelay
	if delay <= 0 {
		delay = DefaultPageDelay
	}
	full := cfg.FullPageSize
	if full <= 0 {
		full = DefaultFullPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		store:  store,
		client: client,
		window: window,
		delay:  delay,
		full:   full,
		logger: logger.With("component", "ingest"),
		now:    now,
	}, nil
}

// historyWindow converts a period expression into an elapsed-time window.
// Calendar units are approximated (a week as 7 days, a month as 30) since the
// window only seeds the very first pagination token.
func historyWindow(text string) (time.Duration, error) {
	spec, err := period.Parse(text)
	if err != nil {
		return 0, fmt.Errorf("invalid history window: %w", err)
	}

	if seconds, ok := spec.Seconds(); ok {
		return time.Duration(seconds) * time.Second, nil
	}
	switch spec.Unit {
	case period.Week:
		return time.Duration(spec.Count) * 7 * 24 * time.Hour, nil
	case period.Month:
		return time.Duration(spec.Count) * 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: history window cannot be tick-count", period.ErrInvalidPeriod)
	}
}

// Ingest pulls pages for one asset until the exchange reports it caught up.
//
// Failure semantics: network, deserialization, and storage errors abort the
// run and surface as an EventError; nothing retries inside the pipeline
// (retry policy belongs to the caller or its scheduler). A failed write never
// advances the cursor, so the next run re-fetches the same page and the
// sequence-ID dedup makes the replay idempotent.
func (p *Pipeline) Ingest(ctx context.Context, asset string, events chan<- Event) error {
	run := uuid.New()
	logger := p.logger.With("asset", asset, "run", run.String())

	cursor, firstKnown, err := p.bootstrap(ctx, asset)
	if err != nil {
		p.emit(events, Event{Kind: EventError, Asset: asset, Run: run, Err: err.Error(), At: p.now()})
		return err
	}

	logger.Info("ingestion started", "next_seq", cursor.NextSeq, "next_page", cursor.NextPage)
	p.emit(events, Event{Kind: EventStarted, Asset: asset, Run: run, At: p.now()})

	for {
		page, err := p.client.FetchTrades(ctx, asset, cursor.NextPage)
		if err != nil {
			err = fmt.Errorf("fetching page for %s: %w", asset, err)
			p.emit(events, Event{Kind: EventError, Asset: asset, Run: run, Err: err.Error(), At: p.now()})
			return err
		}

		// Pages may overlap at the boundary; anything below the cursor's
		// next expected sequence ID is already persisted.
		fresh := page.Ticks[:0:0]
		for _, t := range page.Ticks {
			if t.ID >= cursor.NextSeq {
				fresh = append(fresh, t)
			}
		}

		if len(fresh) > 0 {
			maxID := fresh[0].ID
			lastTime := fresh[0].TimeUS
			for _, t := range fresh {
				if t.ID > maxID {
					maxID = t.ID
				}
				if t.TimeUS > lastTime {
					lastTime = t.TimeUS
				}
			}

			next := models.Cursor{Asset: asset, NextSeq: maxID + 1, NextPage: page.Last}
			if err := p.store.AppendTicks(ctx, asset, fresh, next); err != nil {
				err = fmt.Errorf("writing page for %s: %w", asset, err)
				p.emit(events, Event{Kind: EventError, Asset: asset, Run: run, Err: err.Error(), At: p.now()})
				return err
			}
			cursor = next

			if firstKnown.IsZero() {
				firstKnown = time.UnixMicro(fresh[0].TimeUS).UTC()
			}

			logger.Debug("page persisted",
				"ticks", len(fresh),
				"dropped", len(page.Ticks)-len(fresh),
				"next_seq", cursor.NextSeq)

			if len(page.Ticks) < p.full {
				p.emit(events, Event{Kind: EventProgress, Asset: asset, Run: run, Percent: 100, At: p.now()})
				p.emit(events, Event{Kind: EventFinished, Asset: asset, Run: run, At: p.now()})
				logger.Info("ingestion caught up", "next_seq", cursor.NextSeq)
				return nil
			}

			percent := progressPercent(p.now(), time.UnixMicro(lastTime).UTC(), firstKnown)
			p.emit(events, Event{Kind: EventProgress, Asset: asset, Run: run, Percent: percent, At: p.now()})
		} else {
			// Fully overlapping page: advance only the pagination token so
			// the next request moves forward.
			if page.Last != "" && page.Last != cursor.NextPage {
				cursor.NextPage = page.Last
				if err := p.store.PutCursor(ctx, cursor); err != nil {
					err = fmt.Errorf("advancing cursor for %s: %w", asset, err)
					p.emit(events, Event{Kind: EventError, Asset: asset, Run: run, Err: err.Error(), At: p.now()})
					return err
				}
			} else if len(page.Ticks) >= p.full {
				// A full page of already-persisted ticks with an unchanged
				// token can never advance; refetching it would loop forever.
				logger.Warn("pagination token did not advance on overlapping page, stopping",
					"next_seq", cursor.NextSeq,
					"next_page", cursor.NextPage)
				p.emit(events, Event{Kind: EventProgress, Asset: asset, Run: run, Percent: 100, At: p.now()})
				p.emit(events, Event{Kind: EventFinished, Asset: asset, Run: run, At: p.now()})
				return nil
			}

			if len(page.Ticks) < p.full {
				p.emit(events, Event{Kind: EventProgress, Asset: asset, Run: run, Percent: 100, At: p.now()})
				p.emit(events, Event{Kind: EventFinished, Asset: asset, Run: run, At: p.now()})
				logger.Info("ingestion caught up", "next_seq", cursor.NextSeq)
				return nil
			}
		}

		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			err := fmt.Errorf("ingestion cancelled for %s: %w", asset, ctx.Err())
			p.emit(events, Event{Kind: EventError, Asset: asset, Run: run, Err: err.Error(), At: p.now()})
			return err
		}
	}
}

// bootstrap loads or creates the asset's cursor and table, and determines the
// earliest known trade time for percent-complete math.
func (p *Pipeline) bootstrap(ctx context.Context, asset string) (models.Cursor, time.Time, error) {
	cursor, err := p.store.GetCursor(ctx, asset)
	if err != nil {
		return models.Cursor{}, time.Time{}, fmt.Errorf("loading cursor for %s: %w", asset, err)
	}

	exists, err := p.store.HasAssetTable(ctx, asset)
	if err != nil {
		return models.Cursor{}, time.Time{}, fmt.Errorf("checking table for %s: %w", asset, err)
	}

	if cursor != nil && exists {
		var firstKnown time.Time
		if first, _, ok, err := p.store.SequenceBounds(ctx, asset); err == nil && ok {
			if ticks, err := p.store.ReadTicks(ctx, asset, first, first, 1); err == nil && len(ticks) > 0 {
				firstKnown = ticks[0].Time()
			}
		}
		return *cursor, firstKnown, nil
	}

	// First contact with this asset: size the table from exchange precision
	// metadata and seed the cursor from the configured history window.
	meta, err := p.client.AssetMeta(ctx, asset)
	if err != nil {
		return models.Cursor{}, time.Time{}, fmt.Errorf("fetching asset metadata for %s: %w", asset, err)
	}

	if err := p.store.CreateAssetTable(ctx, asset, meta.PriceDecimals, meta.VolumeDecimals); err != nil {
		return models.Cursor{}, time.Time{}, fmt.Errorf("creating table for %s: %w", asset, err)
	}

	start := p.now().Add(-p.window)
	fresh := models.Cursor{Asset: asset, NextSeq: 0, NextPage: p.client.SinceToken(start)}
	if err := p.store.PutCursor(ctx, fresh); err != nil {
		return models.Cursor{}, time.Time{}, fmt.Errorf("seeding cursor for %s: %w", asset, err)
	}

	p.logger.Info("bootstrapped asset",
		"asset", asset,
		"price_decimals", meta.PriceDecimals,
		"volume_decimals", meta.VolumeDecimals,
		"history_start", start)

	return fresh, start, nil
}

// progressPercent estimates catch-up progress from how far the newest
// persisted trade lags the present, relative to the full span being ingested.
// Clock skew can push lastTick past now, so the result is clamped to [0, 100]
// in signed arithmetic rather than trusting unsigned wraparound.
func progressPercent(now, lastTick, firstKnown time.Time) int {
	total := now.Sub(firstKnown)
	if total <= 0 {
		return 100
	}

	behind := now.Sub(lastTick)
	if behind < 0 {
		behind = 0
	}

	percent := 100 - int(math.Ceil(100*float64(behind)/float64(total)))
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// emit delivers an event without ever blocking the pipeline. A full channel
// drops the event with a warning; the consumer owns buffer sizing.
func (p *Pipeline) emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
		p.logger.Warn("progress event dropped, consumer too slow",
			"asset", ev.Asset,
			"kind", ev.Kind.String())
	}
}
