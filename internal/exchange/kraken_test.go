package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *KrakenClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewKrakenClientWithBaseURL(server.URL, nil)
}

func TestFetchTradesParsesRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tradesEndpoint, r.URL.Path)
		assert.Equal(t, "XBTUSD", r.URL.Query().Get("pair"))
		assert.Equal(t, "1700000000000000000", r.URL.Query().Get("since"))

		w.Write([]byte(`{
			"error": [],
			"result": {
				"XXBTZUSD": [
					["50000.1", "0.25", 1700000100.25, "b", "m", "", 42],
					["50001.9", "1.50", 1700000101.5, "s", "l", "note", 43]
				],
				"last": "1700000101500000000"
			}
		}`))
	})

	page, err := client.FetchTrades(context.Background(), "XBTUSD", "1700000000000000000")
	require.NoError(t, err)
	require.Len(t, page.Ticks, 2)
	assert.Equal(t, "1700000101500000000", page.Last)

	first := page.Ticks[0]
	assert.Equal(t, uint64(42), first.ID)
	assert.Equal(t, "50000.1", first.Price)
	assert.Equal(t, "0.25", first.Volume)
	assert.True(t, first.BuySide)
	assert.True(t, first.Market)
	assert.Equal(t, int64(1700000100250000), first.TimeUS)

	second := page.Ticks[1]
	assert.Equal(t, uint64(43), second.ID)
	assert.False(t, second.BuySide)
	assert.False(t, second.Market)
	assert.Equal(t, "note", second.Misc)
}

func TestFetchTradesExchangeRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": ["EQuery:Unknown asset pair"], "result": {}}`))
	})

	_, err := client.FetchTrades(context.Background(), "NOSUCH", "")
	require.Error(t, err)

	var exchErr *Error
	require.ErrorAs(t, err, &exchErr)
	assert.Equal(t, KindRejected, exchErr.Kind)
	assert.Contains(t, err.Error(), "Unknown asset pair")
}

func TestFetchTradesMissingResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": []}`))
	})

	_, err := client.FetchTrades(context.Background(), "XBTUSD", "")
	var exchErr *Error
	require.ErrorAs(t, err, &exchErr)
	assert.Equal(t, KindDeserialize, exchErr.Kind)
}

func TestFetchTradesMalformedRow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": [], "result": {"XXBTZUSD": [["50000.1", "0.25"]], "last": "1"}}`))
	})

	_, err := client.FetchTrades(context.Background(), "XBTUSD", "")
	var exchErr *Error
	require.ErrorAs(t, err, &exchErr)
	assert.Equal(t, KindDeserialize, exchErr.Kind)
}

func TestFetchTradesClientErrorIsPermanent(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchTrades(context.Background(), "XBTUSD", "")
	require.Error(t, err)

	var exchErr *Error
	require.ErrorAs(t, err, &exchErr)
	assert.Equal(t, KindBadStatus, exchErr.Kind)
	assert.Equal(t, 1, calls, "4xx must not retry")
}

func TestFetchTradesRetriesServerError(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"error": [], "result": {"XXBTZUSD": [], "last": "9"}}`))
	})

	page, err := client.FetchTrades(context.Background(), "XBTUSD", "")
	require.NoError(t, err)
	assert.Equal(t, "9", page.Last)
	assert.Equal(t, 2, calls)
}

func TestAssetMetaAndCache(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, assetPairsEndpoint, r.URL.Path)
		w.Write([]byte(`{
			"error": [],
			"result": {
				"XXBTZUSD": {"altname": "XBTUSD", "pair_decimals": 1, "lot_decimals": 8}
			}
		}`))
	})

	meta, err := client.AssetMeta(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", meta.Altname)
	assert.Equal(t, 1, meta.PriceDecimals)
	assert.Equal(t, 8, meta.VolumeDecimals)

	// Second lookup is served from the TTL cache.
	_, err = client.AssetMeta(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestSinceToken(t *testing.T) {
	client := NewKrakenClient(nil)
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "1709251200000000000", client.SinceToken(ts))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
}
