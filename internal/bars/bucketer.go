// Package bars aggregates ordered trade ticks into fixed-period OHLCV bars.
// Bucketing supports three modes: tick-count grouping on an absolute sequence
// grid, fixed-duration grouping aligned to the epoch grid, and calendar
// grouping for weeks and months where bar width varies with the calendar.
package bars

import (
	"fmt"
	"time"

	"github.com/tickdb/go-tick-archiver/internal/models"
	"github.com/tickdb/go-tick-archiver/internal/period"
)

// boundary marks where one bar begins in the backing tick slice and the bar's
// open/close timestamps. The bar's tick range runs from start to the next
// boundary's start (or the end of input for the final bar).
type boundary struct {
	start   int
	openAt  time.Time
	closeAt time.Time
}

// computeBoundaries cuts an ordered tick slice into bar boundaries for the
// given spec. Empty or single-tick input yields period.ErrNotEnoughData, as
// does a tick-count period larger than the input.
func computeBoundaries(ticks []models.Tick, spec period.Spec) ([]boundary, error) {
	if len(ticks) < 2 {
		return nil, fmt.Errorf("%w: %d ticks", period.ErrNotEnoughData, len(ticks))
	}

	var bounds []boundary
	var err error

	switch {
	case spec.Unit == period.Ticks:
		bounds, err = tickCountBoundaries(ticks, spec.Count)
	case spec.Calendar():
		bounds, err = calendarBoundaries(ticks, spec)
	default:
		bounds, err = fixedDurationBoundaries(ticks, spec)
	}
	if err != nil {
		return nil, err
	}

	if len(bounds) == 0 {
		return nil, fmt.Errorf("%w: no boundaries for %s", period.ErrNotEnoughData, spec)
	}
	return bounds, nil
}

// tickCountBoundaries groups every count ticks, anchored to the absolute
// sequence-ID grid: a tick with ID n belongs to bucket n/count. Anchoring to
// multiples of count (rather than to the window's first tick) means
// re-bucketing an overlapping window yields identical cuts.
func tickCountBoundaries(ticks []models.Tick, count uint64) ([]boundary, error) {
	if uint64(len(ticks)) < count {
		return nil, fmt.Errorf("%w: %d ticks for tick-count period %d", period.ErrNotEnoughData, len(ticks), count)
	}

	bounds := make([]boundary, 0, uint64(len(ticks))/count+1)
	bucket := ticks[0].ID / count
	bounds = append(bounds, boundary{start: 0, openAt: ticks[0].Time()})

	for i := 1; i < len(ticks); i++ {
		b := ticks[i].ID / count
		if b == bucket {
			continue
		}
		bucket = b
		bounds[len(bounds)-1].closeAt = ticks[i-1].Time()
		bounds = append(bounds, boundary{start: i, openAt: ticks[i].Time()})
	}
	bounds[len(bounds)-1].closeAt = ticks[len(ticks)-1].Time()

	return bounds, nil
}

// fixedDurationBoundaries groups ticks into fixed-width windows aligned to the
// epoch grid: open = ts - (ts mod period), close = open + period. A new bar
// starts whenever a tick reaches or passes the current close; the next window
// is recomputed from that tick's normalized timestamp, so bars stay on the
// absolute grid with no accumulated drift and empty periods produce no bars.
func fixedDurationBoundaries(ticks []models.Tick, spec period.Spec) ([]boundary, error) {
	periodSeconds, ok := spec.Seconds()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no fixed duration", period.ErrInvalidPeriod, spec)
	}
	periodUS := periodSeconds * int64(time.Second/time.Microsecond)

	openUS := ticks[0].TimeUS - mod(ticks[0].TimeUS, periodUS)
	closeUS := openUS + periodUS

	bounds := []boundary{{start: 0, openAt: time.UnixMicro(openUS).UTC(), closeAt: time.UnixMicro(closeUS).UTC()}}

	for i := 1; i < len(ticks); i++ {
		ts := ticks[i].TimeUS
		if ts < closeUS {
			continue
		}
		openUS = ts - mod(ts, periodUS)
		closeUS = openUS + periodUS
		bounds = append(bounds, boundary{
			start:   i,
			openAt:  time.UnixMicro(openUS).UTC(),
			closeAt: time.UnixMicro(closeUS).UTC(),
		})
	}

	return bounds, nil
}

// calendarBoundaries groups ticks on calendar boundaries. The open boundary
// for a week is the next Sunday 00:00 UTC after the tick's date (the start of
// the following week); for a month it is the first day of the following month.
// Close is the same rule applied count units ahead. Widths vary with the
// calendar (a month is 28-31 days), so boundaries come from year/month/day
// arithmetic rather than elapsed seconds.
func calendarBoundaries(ticks []models.Tick, spec period.Spec) ([]boundary, error) {
	key := nextWeekStart
	if spec.Unit == period.Month {
		key = nextMonthStart
	}

	first, err := calendarKey(ticks[0], key)
	if err != nil {
		return nil, err
	}

	open := first
	closeAt := advanceCalendar(open, spec)
	bounds := []boundary{{start: 0, openAt: open, closeAt: closeAt}}

	for i := 1; i < len(ticks); i++ {
		k, err := calendarKey(ticks[i], key)
		if err != nil {
			return nil, err
		}
		if k.Before(closeAt) {
			continue
		}
		open = k
		closeAt = advanceCalendar(open, spec)
		bounds = append(bounds, boundary{start: i, openAt: open, closeAt: closeAt})
	}

	return bounds, nil
}

func calendarKey(t models.Tick, key func(time.Time) time.Time) (time.Time, error) {
	if t.TimeUS <= 0 {
		return time.Time{}, fmt.Errorf("%w: tick %d has timestamp %d", period.ErrDateConversion, t.ID, t.TimeUS)
	}
	return key(t.Time()), nil
}

// nextWeekStart returns the Sunday 00:00 UTC that starts the week following t.
// A tick already on a Sunday maps to the Sunday seven days later.
func nextWeekStart(t time.Time) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := (7 - int(t.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	return midnight.AddDate(0, 0, days)
}

// nextMonthStart returns the first day 00:00 UTC of the month following t.
// time.Date normalizes month overflow, so December rolls into January.
func nextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func advanceCalendar(open time.Time, spec period.Spec) time.Time {
	if spec.Unit == period.Month {
		return open.AddDate(0, int(spec.Count), 0)
	}
	return open.AddDate(0, 0, 7*int(spec.Count))
}

// mod is a floored modulo so pre-epoch timestamps still land on the grid.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
