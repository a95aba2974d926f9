package models

import (
	"fmt"
	"time"
)

// IntegrityReport is the result of scanning one asset's persisted sequence for
// gaps. A report is created fresh per invocation, populated incrementally while
// scanning, and immutable once returned.
//
// Ok means "the scan completed without a storage error". A completed scan that
// found gaps still reports Ok=true; use GapFree to ask whether the sequence is
// actually contiguous. The two questions are deliberately kept separate so that
// a partial report produced by a failed scan is distinguishable from a clean
// one.
type IntegrityReport struct {
	ID           string    `json:"id"`
	Table        string    `json:"table"`
	FirstID      uint64    `json:"first_id"`
	LastID       uint64    `json:"last_id"`
	TotalScanned int64     `json:"total_scanned"`
	MissingIDs   []uint64  `json:"missing_ids"`
	Ok           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// GapFree reports whether the scan completed and found no missing sequence IDs.
func (r *IntegrityReport) GapFree() bool {
	return r.Ok && len(r.MissingIDs) == 0
}

// String returns a one-line summary of the report.
func (r *IntegrityReport) String() string {
	if !r.Ok {
		return fmt.Sprintf("IntegrityReport{Table: %s, Ok: false, Error: %q, Scanned: %d}",
			r.Table, r.Error, r.TotalScanned)
	}
	return fmt.Sprintf("IntegrityReport{Table: %s, Range: [%d, %d], Scanned: %d, Missing: %d}",
		r.Table, r.FirstID, r.LastID, r.TotalScanned, len(r.MissingIDs))
}
