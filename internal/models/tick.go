// Package models provides data structures and validation for trade-tick market data.
// This package contains the core value types shared across the archiver: ticks,
// ingestion cursors, and integrity reports.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single exchange-reported trade execution. Sequence IDs are
// exchange-assigned and strictly increasing per asset; contiguity is verified
// downstream, never assumed.
type Tick struct {
	ID      uint64 `json:"id" db:"id"`
	Price   string `json:"price" db:"price"`
	Volume  string `json:"volume" db:"volume"`
	TimeUS  int64  `json:"time_us" db:"time"`
	BuySide bool   `json:"buy_side" db:"buy_side"`
	Market  bool   `json:"market" db:"market"`
	Misc    string `json:"misc" db:"misc"`
}

// ValidationError represents a field-level validation failure with context about
// which field was rejected and why.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that the tick carries a usable price, volume, and timestamp.
// Price must be a positive decimal, volume a non-negative decimal, and the
// timestamp must not be zero.
func (t *Tick) Validate() error {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return &ValidationError{Field: "price", Message: fmt.Sprintf("invalid price format: %v", err)}
	}

	volume, err := decimal.NewFromString(t.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	if price.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "price", Message: "price must be greater than 0"}
	}
	if volume.LessThan(decimal.Zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	if t.TimeUS <= 0 {
		return &ValidationError{Field: "time_us", Message: "timestamp cannot be zero or negative"}
	}

	return nil
}

// PriceDecimal returns the trade price as a decimal.Decimal for precise calculations.
func (t *Tick) PriceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(t.Price)
}

// VolumeDecimal returns the trade volume as a decimal.Decimal for precise calculations.
func (t *Tick) VolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(t.Volume)
}

// Time returns the trade execution time as a time.Time in UTC.
func (t *Tick) Time() time.Time {
	return time.UnixMicro(t.TimeUS).UTC()
}

// String returns a human-readable representation of the tick.
func (t *Tick) String() string {
	return fmt.Sprintf("Tick{ID: %d, Price: %s, Volume: %s, Time: %s}",
		t.ID, t.Price, t.Volume, t.Time().Format(time.RFC3339Nano))
}
