// Package period parses period expressions into typed bucketing rules.
// A period expression is a positive integer count followed by a single unit
// symbol: "30s", "5m", "4h", "1d", "2w", "1M", or "100t". The trailing "t"
// means "group every N ticks" regardless of elapsed time; week and month are
// calendar-relative and carry no fixed number of seconds.
package period

import (
	"errors"
	"fmt"
	"strconv"
)

// Unit identifies how a period groups ticks into bars.
type Unit int

const (
	Second Unit = iota
	Minute
	Hour
	Day
	Week
	Month
	Ticks
)

// String returns the unit symbol used in period expressions.
func (u Unit) String() string {
	switch u {
	case Second:
		return "s"
	case Minute:
		return "m"
	case Hour:
		return "h"
	case Day:
		return "d"
	case Week:
		return "w"
	case Month:
		return "M"
	case Ticks:
		return "t"
	default:
		return "?"
	}
}

// Sentinel errors for period parsing and bucketing.
var (
	// ErrInvalidPeriod indicates a malformed or unrecognized period expression.
	ErrInvalidPeriod = errors.New("invalid period expression")

	// ErrNotEnoughData indicates the input holds too few ticks to produce a
	// single bar for the requested period.
	ErrNotEnoughData = errors.New("not enough data for period")

	// ErrDateConversion indicates a timestamp could not be mapped onto the
	// calendar grid.
	ErrDateConversion = errors.New("date conversion failed")
)

// Spec is a parsed bucketing rule: group every Count units.
type Spec struct {
	Unit  Unit
	Count uint64
}

// Parse decodes a period expression into a Spec. The final character is the
// unit symbol; all preceding characters must parse as a positive integer.
// Strings shorter than two characters, non-digit prefixes, zero counts, and
// unrecognized unit symbols fail with ErrInvalidPeriod.
func Parse(text string) (Spec, error) {
	if len(text) < 2 {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, text)
	}

	var unit Unit
	switch text[len(text)-1] {
	case 's':
		unit = Second
	case 'm':
		unit = Minute
	case 'h':
		unit = Hour
	case 'd':
		unit = Day
	case 'w':
		unit = Week
	case 'M':
		unit = Month
	case 't':
		unit = Ticks
	default:
		return Spec{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidPeriod, text)
	}

	count, err := strconv.ParseUint(text[:len(text)-1], 10, 64)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: bad count in %q", ErrInvalidPeriod, text)
	}
	if count == 0 {
		return Spec{}, fmt.Errorf("%w: zero count in %q", ErrInvalidPeriod, text)
	}

	return Spec{Unit: unit, Count: count}, nil
}

// Seconds returns the fixed length of the period in seconds. The second return
// value is false for tick-count periods and for calendar-relative units (week,
// month), which have no fixed seconds value and must be bucketed structurally.
func (s Spec) Seconds() (int64, bool) {
	var unitSeconds int64
	switch s.Unit {
	case Second:
		unitSeconds = 1
	case Minute:
		unitSeconds = 60
	case Hour:
		unitSeconds = 3600
	case Day:
		unitSeconds = 86400
	default:
		return 0, false
	}
	return unitSeconds * int64(s.Count), true
}

// Calendar reports whether the spec buckets on calendar boundaries rather than
// fixed elapsed seconds.
func (s Spec) Calendar() bool {
	return s.Unit == Week || s.Unit == Month
}

// String returns the canonical expression for the spec, e.g. "5m" or "100t".
func (s Spec) String() string {
	return fmt.Sprintf("%d%s", s.Count, s.Unit)
}
