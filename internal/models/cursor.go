package models

import "fmt"

// Cursor is the persisted per-asset ingestion bookmark. NextSeq is the lowest
// sequence ID not yet persisted; NextPage is the exchange-opaque pagination
// token to request the following page with. One cursor row exists per tracked
// asset, created on first ingestion and mutated after every successful page
// write. The cursor must never point past un-persisted ticks, so it is only
// advanced in the same transaction as the tick write it describes.
type Cursor struct {
	Asset    string `json:"asset" db:"asset"`
	NextSeq  uint64 `json:"next_seq" db:"next_seq"`
	NextPage string `json:"next_page" db:"next_page"`
}

// Validate checks that the cursor identifies an asset.
func (c *Cursor) Validate() error {
	if c.Asset == "" {
		return &ValidationError{Field: "asset", Message: "asset cannot be empty"}
	}
	return nil
}

// String returns a human-readable representation of the cursor.
func (c *Cursor) String() string {
	return fmt.Sprintf("Cursor{Asset: %s, NextSeq: %d, NextPage: %q}", c.Asset, c.NextSeq, c.NextPage)
}
