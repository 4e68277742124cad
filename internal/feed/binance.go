// Package feed fetches live market data from the Binance USDⓈ-M futures REST
// API. It exists so the calculator can pre-fill position parameters with the
// instrument's real price and funding rate; every calculation still works
// offline with caller-supplied values.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
	"github.com/MarcusNeufeldt/fundingscope/pkg/httpclient"
	"github.com/MarcusNeufeldt/fundingscope/pkg/telemetry"
)

const (
	// DefaultBaseURL is the Binance USDⓈ-M futures REST endpoint.
	DefaultBaseURL = "https://fapi.binance.com"

	// DefaultFundingRatePct is assumed when the funding fetch fails:
	// 0.01% per 8-hour interval, the long-run market norm.
	DefaultFundingRatePct = 0.01

	defaultCacheTTL = 30 * time.Second
	defaultTimeout  = 10 * time.Second
)

// BinanceFeed implements core.PriceFeed against the Binance futures REST API.
type BinanceFeed struct {
	client   *httpclient.Client
	logger   core.Logger
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSnapshot
}

type cachedSnapshot struct {
	snap      core.MarketSnapshot
	fetchedAt time.Time
}

// Config holds feed construction parameters.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// New creates a Binance-backed feed. Zero-value config fields fall back to
// defaults.
func New(cfg Config, logger core.Logger, opts ...httpclient.Option) *BinanceFeed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	return &BinanceFeed{
		client:   httpclient.NewClient(cfg.BaseURL, cfg.Timeout, opts...),
		logger:   logger,
		cacheTTL: cfg.CacheTTL,
		cache:    make(map[string]cachedSnapshot),
	}
}

func normalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("%w: empty symbol", apperrors.ErrInvalidSymbol)
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidSymbol, symbol)
		}
	}
	return s, nil
}

// CurrentPrice returns the instrument's last traded price.
func (f *BinanceFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return 0, err
	}

	body, err := f.client.Get(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": sym})
	telemetry.GetGlobalMetrics().RecordFeedFetch(ctx, "ticker_price", err != nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrFeedUnavailable, err)
	}

	var data struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("%w: malformed ticker response: %v", apperrors.ErrFeedUnavailable, err)
	}

	price, err := decimal.NewFromString(data.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable price %q", apperrors.ErrFeedUnavailable, data.Price)
	}
	return price.InexactFloat64(), nil
}

// FundingRate returns the instrument's current funding rate in percent per
// 8-hour interval. On fetch failure it falls back to DefaultFundingRatePct
// and reports defaulted=true instead of an error, so the calculator stays
// usable when the venue is unreachable.
func (f *BinanceFeed) FundingRate(ctx context.Context, symbol string) (rate float64, defaulted bool, err error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return 0, false, err
	}

	rate, fetchErr := f.fetchFundingRate(ctx, sym)
	if fetchErr != nil {
		telemetry.GetGlobalMetrics().RecordFundingDefault(ctx)
		if f.logger != nil {
			f.logger.Warn("Funding rate fetch failed, using default",
				"symbol", sym, "default_pct", DefaultFundingRatePct, "error", fetchErr)
		}
		return DefaultFundingRatePct, true, nil
	}
	return rate, false, nil
}

func (f *BinanceFeed) fetchFundingRate(ctx context.Context, sym string) (float64, error) {
	body, err := f.client.Get(ctx, "/fapi/v1/premiumIndex", map[string]string{"symbol": sym})
	telemetry.GetGlobalMetrics().RecordFeedFetch(ctx, "premium_index", err != nil)
	if err != nil {
		return 0, err
	}

	var data struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
		Time            int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("malformed premiumIndex response: %w", err)
	}

	rate, err := decimal.NewFromString(data.LastFundingRate)
	if err != nil {
		return 0, fmt.Errorf("unparseable funding rate %q: %w", data.LastFundingRate, err)
	}

	// The venue reports a fraction (0.0001 = 0.01%); the calculator works in
	// percent per interval.
	return rate.Mul(decimal.NewFromInt(100)).InexactFloat64(), nil
}

// Instruments lists actively trading perpetual contracts.
func (f *BinanceFeed) Instruments(ctx context.Context) ([]core.Instrument, error) {
	body, err := f.client.Get(ctx, "/fapi/v1/exchangeInfo", nil)
	telemetry.GetGlobalMetrics().RecordFeedFetch(ctx, "exchange_info", err != nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFeedUnavailable, err)
	}

	var data struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
			BaseAsset    string `json:"baseAsset"`
			QuoteAsset   string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed exchangeInfo response: %v", apperrors.ErrFeedUnavailable, err)
	}

	instruments := make([]core.Instrument, 0, len(data.Symbols))
	for _, s := range data.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" {
			continue
		}
		instruments = append(instruments, core.Instrument{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		})
	}
	return instruments, nil
}

// Snapshot returns price and funding for a symbol, fetched in parallel and
// cached for the configured TTL.
func (f *BinanceFeed) Snapshot(ctx context.Context, symbol string) (core.MarketSnapshot, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return core.MarketSnapshot{}, err
	}

	f.mu.RLock()
	if entry, ok := f.cache[sym]; ok && time.Since(entry.fetchedAt) < f.cacheTTL {
		f.mu.RUnlock()
		return entry.snap, nil
	}
	f.mu.RUnlock()

	var (
		price     float64
		rate      float64
		defaulted bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := f.CurrentPrice(gctx, sym)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	g.Go(func() error {
		r, d, err := f.FundingRate(gctx, sym)
		if err != nil {
			return err
		}
		rate, defaulted = r, d
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.MarketSnapshot{}, err
	}

	snap := core.MarketSnapshot{
		Symbol:           sym,
		Price:            price,
		FundingRate:      rate,
		FundingDefaulted: defaulted,
		FetchedAt:        time.Now(),
	}

	f.mu.Lock()
	f.cache[sym] = cachedSnapshot{snap: snap, fetchedAt: snap.FetchedAt}
	f.mu.Unlock()

	return snap, nil
}

// InvalidateCache drops all cached snapshots.
func (f *BinanceFeed) InvalidateCache() {
	f.mu.Lock()
	f.cache = make(map[string]cachedSnapshot)
	f.mu.Unlock()
}
