package bars

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

// Bar is an OHLCV aggregate over a contiguous tick range. SourceStart and
// SourceEnd are [start, end) indices into the series' backing tick slice.
type Bar struct {
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`

	OpenAt  time.Time `json:"open_at"`
	CloseAt time.Time `json:"close_at"`

	SourceStart int `json:"source_start"`
	SourceEnd   int `json:"source_end"`
}

// String returns a human-readable representation of the bar.
func (b Bar) String() string {
	return fmt.Sprintf("Bar{O: %s, H: %s, L: %s, C: %s, V: %s, OpenAt: %s, Range: [%d, %d)}",
		b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenAt.Format(time.RFC3339), b.SourceStart, b.SourceEnd)
}

// Aggregate reduces a non-empty tick slice into a single OHLCV bar. Open and
// close are taken from the first and last tick by input order (ticks are
// pre-ordered, never re-sorted here); high, low and volume are computed in one
// pass. An empty slice or a tick with an unparseable price is a caller
// contract violation: ticks are validated at ingestion, so Aggregate panics
// rather than returning an error.
func Aggregate(ticks []models.Tick) Bar {
	if len(ticks) == 0 {
		panic("bars: Aggregate called with empty tick slice")
	}

	open := decimal.RequireFromString(ticks[0].Price)
	high := open
	low := open
	volume := decimal.RequireFromString(ticks[0].Volume)

	for _, t := range ticks[1:] {
		price := decimal.RequireFromString(t.Price)
		if price.GreaterThan(high) {
			high = price
		}
		if price.LessThan(low) {
			low = price
		}
		volume = volume.Add(decimal.RequireFromString(t.Volume))
	}

	return Bar{
		Open:    open,
		High:    high,
		Low:     low,
		Close:   decimal.RequireFromString(ticks[len(ticks)-1].Price),
		Volume:  volume,
		OpenAt:  ticks[0].Time(),
		CloseAt: ticks[len(ticks)-1].Time(),
	}
}
