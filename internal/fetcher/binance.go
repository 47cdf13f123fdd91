package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const binanceTickerPath = "/api/v3/ticker/price"

// BinanceOptions parameterise the ticker fetcher.
type BinanceOptions struct {
	BaseURL string
	Symbol  string
	Timeout time.Duration
}

// Binance reads the native/USD rate from the Binance spot ticker.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs a ticker fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if opts.Symbol == "" {
		opts.Symbol = "ETHUSDT"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchRate returns the last traded price of the configured symbol.
func (b *Binance) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	endpoint := b.baseURL + binanceTickerPath + "?symbol=" + url.QueryEscape(b.opts.Symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("binance api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return decimal.Decimal{}, err
	}

	rate, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse ticker price: %w", err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, errors.New("ticker price returned zero")
	}
	return rate, nil
}

var _ RateFetcher = (*Binance)(nil)
