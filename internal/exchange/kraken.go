// Kraken public API client implementing the Client capability.
//
// Pagination follows the Trades endpoint contract: each response carries a
// "last" token the next request passes as "since". The client applies rate
// limiting and retries transient failures with exponential backoff; client
// errors (4xx) and exchange-level rejections are permanent.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tickdb/go-tick-archiver/internal/models"
)

const (
	krakenBaseURL = "https://api.kraken.com"

	tradesEndpoint     = "/0/public/Trades"
	assetPairsEndpoint = "/0/public/AssetPairs"

	// Kraken public endpoints allow roughly one call per second sustained.
	krakenRequestsPerSecond = 1
	krakenBurst             = 1

	requestTimeout = 30 * time.Second

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5

	healthCheckTimeout = 5 * time.Second

	metaCacheTTL = 5 * time.Minute
)

// KrakenClient implements the Client interface against the Kraken public API.
type KrakenClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger

	metaCache   map[string]*AssetMeta
	metaFetched time.Time
	metaMu      sync.RWMutex
}

// NewKrakenClient creates a Kraken client with default transport settings.
func NewKrakenClient(logger *slog.Logger) *KrakenClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &KrakenClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(krakenRequestsPerSecond), krakenBurst),
		baseURL:     krakenBaseURL,
		logger:      logger,
		metaCache:   make(map[string]*AssetMeta),
	}
}

// NewKrakenClientWithBaseURL creates a client pointed at a custom base URL,
// used by tests against a local HTTP server.
func NewKrakenClientWithBaseURL(baseURL string, logger *slog.Logger) *KrakenClient {
	c := NewKrakenClient(logger)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SinceToken implements Client.SinceToken. Kraken's "since" parameter is a
// nanosecond timestamp.
func (k *KrakenClient) SinceToken(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

// krakenEnvelope is the common response wrapper: a non-empty error list is a
// hard failure; a missing result on success is treated as a parse failure.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// FetchTrades implements Client.FetchTrades.
func (k *KrakenClient) FetchTrades(ctx context.Context, asset, since string) (*TradePage, error) {
	params := url.Values{}
	params.Set("pair", asset)
	if since != "" {
		params.Set("since", since)
	}
	requestURL := k.baseURL + tradesEndpoint + "?" + params.Encode()

	k.logger.Debug("fetching trades page", "asset", asset, "since", since)

	body, err := k.getWithRetry(ctx, asset, requestURL)
	if err != nil {
		return nil, err
	}

	result, err := decodeEnvelope(body, asset)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return nil, NewError(KindDeserialize, asset, fmt.Errorf("malformed trades result: %w", err))
	}

	page := &TradePage{}
	if rawLast, ok := fields["last"]; ok {
		if err := json.Unmarshal(rawLast, &page.Last); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("malformed pagination token: %w", err))
		}
	}

	// The result keys the trade list by the exchange's canonical pair name,
	// which may differ from the requested altname.
	for key, raw := range fields {
		if key == "last" {
			continue
		}
		ticks, err := decodeTradeRows(raw, asset)
		if err != nil {
			return nil, err
		}
		page.Ticks = ticks
		break
	}

	k.logger.Debug("fetched trades page", "asset", asset, "count", len(page.Ticks), "last", page.Last)
	return page, nil
}

// decodeTradeRows converts the wire rows into ticks. Each row is
// [price, volume, time, side, type, misc, trade_id]; side and order-type
// flags are carried through opaquely as booleans plus the misc string.
func decodeTradeRows(raw json.RawMessage, asset string) ([]models.Tick, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(KindDeserialize, asset, fmt.Errorf("malformed trade rows: %w", err))
	}

	ticks := make([]models.Tick, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d has %d fields, want 7", i, len(row)))
		}

		var t models.Tick
		var side, orderType string
		var timeSec float64
		var id uint64

		if err := json.Unmarshal(row[0], &t.Price); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d price: %w", i, err))
		}
		if err := json.Unmarshal(row[1], &t.Volume); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d volume: %w", i, err))
		}
		if err := json.Unmarshal(row[2], &timeSec); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d time: %w", i, err))
		}
		if err := json.Unmarshal(row[3], &side); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d side: %w", i, err))
		}
		if err := json.Unmarshal(row[4], &orderType); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d order type: %w", i, err))
		}
		if err := json.Unmarshal(row[5], &t.Misc); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d misc: %w", i, err))
		}
		if err := json.Unmarshal(row[6], &id); err != nil {
			return nil, NewError(KindDeserialize, asset, fmt.Errorf("trade row %d trade id: %w", i, err))
		}

		t.ID = id
		t.TimeUS = int64(timeSec * 1e6)
		t.BuySide = side == "b"
		t.Market = orderType == "m"
		ticks = append(ticks, t)
	}

	return ticks, nil
}

// AssetMeta implements Client.AssetMeta, with a TTL cache over the AssetPairs
// endpoint.
func (k *KrakenClient) AssetMeta(ctx context.Context, asset string) (*AssetMeta, error) {
	k.metaMu.RLock()
	if meta, ok := k.metaCache[asset]; ok && time.Since(k.metaFetched) < metaCacheTTL {
		k.metaMu.RUnlock()
		return meta, nil
	}
	k.metaMu.RUnlock()

	params := url.Values{}
	params.Set("pair", asset)
	requestURL := k.baseURL + assetPairsEndpoint + "?" + params.Encode()

	body, err := k.getWithRetry(ctx, asset, requestURL)
	if err != nil {
		return nil, err
	}

	result, err := decodeEnvelope(body, asset)
	if err != nil {
		return nil, err
	}

	var pairs map[string]struct {
		Altname       string `json:"altname"`
		PairDecimals  int    `json:"pair_decimals"`
		LotDecimals   int    `json:"lot_decimals"`
		CostDecimals  int    `json:"cost_decimals"`
		OrderMin      string `json:"ordermin"`
		TickSize      string `json:"tick_size"`
		Status        string `json:"status"`
		WSName        string `json:"wsname"`
		MarginCall    int    `json:"margin_call"`
		MarginStop    int    `json:"margin_stop"`
		LotMultiplier int    `json:"lot_multiplier"`
	}
	if err := json.Unmarshal(result, &pairs); err != nil {
		return nil, NewError(KindDeserialize, asset, fmt.Errorf("malformed asset pairs result: %w", err))
	}
	if len(pairs) == 0 {
		return nil, NewError(KindDeserialize, asset, fmt.Errorf("asset %s not found in pairs result", asset))
	}

	var meta *AssetMeta
	for _, info := range pairs {
		meta = &AssetMeta{
			Altname:        info.Altname,
			PriceDecimals:  info.PairDecimals,
			VolumeDecimals: info.LotDecimals,
		}
		break
	}

	k.metaMu.Lock()
	k.metaCache[asset] = meta
	k.metaFetched = time.Now()
	k.metaMu.Unlock()

	return meta, nil
}

// HealthCheck implements Client.HealthCheck using the lightweight system
// time endpoint.
func (k *KrakenClient) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, k.baseURL+"/0/public/Time", nil)
	if err != nil {
		return NewError(KindNetwork, "", fmt.Errorf("failed to create health check request: %w", err))
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return NewError(KindNetwork, "", fmt.Errorf("health check request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewError(KindBadStatus, "", fmt.Errorf("health check failed: status %d", resp.StatusCode))
	}
	return nil
}

// decodeEnvelope unwraps the common Kraken response wrapper. A non-empty
// error list is a hard failure; an absent result on a 200 is a parse failure.
func decodeEnvelope(body []byte, asset string) (json.RawMessage, error) {
	var envelope krakenEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, NewError(KindDeserialize, asset, fmt.Errorf("malformed response: %w", err))
	}
	if len(envelope.Error) > 0 {
		return nil, NewError(KindRejected, asset, fmt.Errorf("exchange rejected request: %s", strings.Join(envelope.Error, "; ")))
	}
	if len(envelope.Result) == 0 {
		return nil, NewError(KindDeserialize, asset, fmt.Errorf("response missing result"))
	}
	return envelope.Result, nil
}

// getWithRetry performs a rate-limited GET with exponential backoff. Server
// errors and transport failures retry; 4xx responses are permanent.
func (k *KrakenClient) getWithRetry(ctx context.Context, asset, requestURL string) ([]byte, error) {
	if err := k.rateLimiter.Wait(ctx); err != nil {
		return nil, NewError(KindNetwork, asset, fmt.Errorf("rate limit wait failed: %w", err))
	}

	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = initialRetryDelay
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.Multiplier = retryMultiplier
	backoffConfig.RandomizationFactor = retryJitter
	backoffConfig.MaxElapsedTime = 0 // rely on context

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, backoff.Permanent(NewError(KindNetwork, asset, fmt.Errorf("failed to create request: %w", err)))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "go-tick-archiver/1.0")

		resp, err := k.httpClient.Do(req)
		if err != nil {
			return nil, NewError(KindNetwork, asset, fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
				k.logger.Warn("rate limited by exchange, waiting", "retry_after", retryAfter)
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return nil, backoff.Permanent(NewError(KindNetwork, asset, ctx.Err()))
				}
			}
			return nil, NewError(KindBadStatus, asset, fmt.Errorf("rate limited"))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, NewError(KindNetwork, asset, fmt.Errorf("failed to read response body: %w", err))
		}

		if resp.StatusCode >= 500 {
			return nil, NewError(KindBadStatus, asset, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body)))
		}
		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(NewError(KindBadStatus, asset, fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))))
		}

		return body, nil
	}

	return backoff.RetryWithData(operation, backoff.WithContext(backoffConfig, ctx))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// Compile-time interface compliance check
var _ Client = (*KrakenClient)(nil)
