package bars

import (
	"fmt"

	"github.com/tickdb/go-tick-archiver/internal/models"
	"github.com/tickdb/go-tick-archiver/internal/period"
)

// Series is an ordered, fully materialized sequence of bars over a backing
// tick slice. Bars are gapless and ordered by open time; every backing tick
// belongs to exactly one bar and the union of all source ranges covers the
// whole input. External renderers only read this.
type Series struct {
	Bars  []Bar
	Ticks []models.Tick
	Spec  period.Spec
}

// BuildSeries parses the period expression, computes bar boundaries over the
// tick slice, and aggregates each range into a bar, including the final
// partial range from the last boundary to the end of input. Parsing and
// bucketing failures abort construction for this request only.
func BuildSeries(ticks []models.Tick, periodText string) (*Series, error) {
	spec, err := period.Parse(periodText)
	if err != nil {
		return nil, fmt.Errorf("building bar series: %w", err)
	}

	bounds, err := computeBoundaries(ticks, spec)
	if err != nil {
		return nil, fmt.Errorf("building bar series for %s: %w", spec, err)
	}

	series := &Series{
		Bars:  make([]Bar, 0, len(bounds)),
		Ticks: ticks,
		Spec:  spec,
	}

	for i, b := range bounds {
		end := len(ticks)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}

		bar := Aggregate(ticks[b.start:end])
		bar.OpenAt = b.openAt
		bar.CloseAt = b.closeAt
		bar.SourceStart = b.start
		bar.SourceEnd = end
		series.Bars = append(series.Bars, bar)
	}

	return series, nil
}

// Len returns the number of bars in the series.
func (s *Series) Len() int {
	return len(s.Bars)
}

// IntegrityCheck independently re-derives bar boundaries from the stored tick
// data and confirms the series' source ranges match: no duplicates, no
// overlaps, no gaps, and full coverage of the input from the first boundary
// onward. This is a self-consistency check over in-memory bars, distinct from
// the persisted-sequence verifier.
func (s *Series) IntegrityCheck() bool {
	bounds, err := computeBoundaries(s.Ticks, s.Spec)
	if err != nil {
		return false
	}
	if len(bounds) != len(s.Bars) {
		return false
	}

	prevEnd := -1
	for i, bar := range s.Bars {
		if bar.SourceStart != bounds[i].start {
			return false
		}
		if bar.SourceEnd <= bar.SourceStart {
			return false
		}
		// Contiguity: each bar starts exactly where the previous ended.
		if prevEnd >= 0 && bar.SourceStart != prevEnd {
			return false
		}
		prevEnd = bar.SourceEnd
	}

	return prevEnd == len(s.Ticks)
}
