package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind tags a progress event.
type EventKind int

const (
	// EventStarted is emitted once when an asset's ingestion run begins.
	EventStarted EventKind = iota

	// EventProgress reports percent complete for the running ingestion.
	EventProgress

	// EventFinished is emitted once when the asset is caught up.
	EventFinished

	// EventError is emitted when the run aborts; Err carries the cause.
	EventError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry in the pipeline's progress stream. Events for a single
// asset are emitted in order and delivered at least once; the consumer is
// responsible for idempotent rendering. The core only writes to the channel
// and never blocks on a slow consumer, so an undersized buffer can drop
// events but never stall ingestion.
type Event struct {
	Kind    EventKind
	Asset   string
	Run     uuid.UUID
	Percent int
	Err     string
	At      time.Time
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	switch e.Kind {
	case EventProgress:
		return fmt.Sprintf("%s %s %d%%", e.Asset, e.Kind, e.Percent)
	case EventError:
		return fmt.Sprintf("%s %s: %s", e.Asset, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s %s", e.Asset, e.Kind)
	}
}
