// Package exchange provides the exchange client capability used by the
// ingestion pipeline. The pipeline depends only on the Client interface;
// concrete implementations are selected by configuration, never by string
// comparison inside the pipeline.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

// TradePage is one page of trades returned by an exchange. Last is the
// exchange-opaque pagination token to request the following page with. Ticks
// are ordered by ascending sequence ID.
type TradePage struct {
	Ticks []models.Tick
	Last  string
}

// AssetMeta carries per-asset decimal precision metadata used to size the
// persisted price and volume columns.
type AssetMeta struct {
	Altname        string
	PriceDecimals  int
	VolumeDecimals int
}

// Client is the pagination capability one exchange exposes: fetch a page of
// trades since an opaque token, describe an asset's precision, and answer a
// health probe.
type Client interface {
	// FetchTrades requests one page of trades for the asset starting at the
	// given pagination token. An empty token asks for the oldest available
	// page; callers normally derive the initial token from their history
	// window via SinceToken.
	FetchTrades(ctx context.Context, asset, since string) (*TradePage, error)

	// AssetMeta returns the exchange's precision metadata for the asset.
	AssetMeta(ctx context.Context, asset string) (*AssetMeta, error)

	// SinceToken derives an initial pagination token from a point in time.
	// Token encoding is exchange-specific and opaque to callers.
	SinceToken(t time.Time) string

	// HealthCheck verifies the exchange API is reachable.
	HealthCheck(ctx context.Context) error
}

// ErrorKind classifies exchange failures for callers that branch on failure
// mode without parsing messages.
type ErrorKind string

const (
	// KindNetwork covers transport-level failures: dial, TLS, timeouts.
	KindNetwork ErrorKind = "network"

	// KindBadStatus covers non-2xx HTTP responses.
	KindBadStatus ErrorKind = "bad_status"

	// KindDeserialize covers unparseable or structurally missing payloads.
	KindDeserialize ErrorKind = "deserialize"

	// KindRejected covers responses the exchange itself marked as errors.
	KindRejected ErrorKind = "exchange_rejected"
)

// Error is a classified exchange failure.
type Error struct {
	Kind  ErrorKind
	Asset string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("exchange %s error for %s: %v", e.Kind, e.Asset, e.Err)
	}
	return fmt.Sprintf("exchange %s error: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two exchange errors by kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError creates a classified exchange error.
func NewError(kind ErrorKind, asset string, err error) *Error {
	return &Error{Kind: kind, Asset: asset, Err: err}
}
