// Package stocks fetches company profiles (identity, price, market cap) from
// the Financial Modeling Prep API and stores them as tickers and ticker
// values.
package stocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/etfwatch/connectivity"
	"github.com/hazyhaar/etfwatch/horosafe"
)

// ErrNotFound means the API has no profile for the symbol. It is final:
// the symbol is not retried.
var ErrNotFound = errors.New("stocks: symbol not found")

// DefaultBaseURL is the FMP stable API root.
const DefaultBaseURL = "https://financialmodelingprep.com/stable"

// Profile is the subset of a company profile the pipeline uses.
type Profile struct {
	Symbol    string
	ISIN      string
	CIK       string
	Exchange  string
	Name      string
	Industry  string
	Sector    string
	Price     decimal.NullDecimal
	MarketCap decimal.NullDecimal
}

// Config configures a Client.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`   // per attempt, default 15s
	Retries  int           `yaml:"retries"`   // default 2, negative for none
	Backoff  time.Duration `yaml:"backoff"`   // default 1s, doubled per retry
	CacheTTL time.Duration `yaml:"cache_ttl"` // default 6h
	// BreakerThreshold consecutive failures open the circuit. Default: 10.
	BreakerThreshold int `yaml:"breaker_threshold"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 6 * time.Hour
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 10
	}
}

// Client fetches profiles. Every attempt, retries included, passes through
// the shared limiter. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	call   connectivity.Handler
	memo   *cache.Cache
	logger *slog.Logger
}

// NewClient creates a Client paced by limiter.
func NewClient(cfg Config, limiter connectivity.Waiter, logger *slog.Logger) (*Client, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("stocks: invalid base url %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("stocks: cookie jar: %w", err)
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Jar: jar},
		memo:   cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger: logger,
	}
	breaker := connectivity.NewCircuitBreaker(connectivity.WithBreakerThreshold(cfg.BreakerThreshold))
	c.call = connectivity.Chain(
		connectivity.Recovery(logger),
		connectivity.Logging(logger),
		connectivity.WithRetry(cfg.Retries, cfg.Backoff, logger),
		connectivity.WithCircuitBreaker(breaker, "fmp_profile"),
		connectivity.WithLimiter(limiter),
		connectivity.Timeout(cfg.Timeout),
	)(c.fetch)
	return c, nil
}

// Profile returns the profile of symbol. Profiles are memoised for
// Config.CacheTTL; not-found answers are not.
func (c *Client) Profile(ctx context.Context, symbol string) (*Profile, error) {
	if v, ok := c.memo.Get(symbol); ok {
		return v.(*Profile), nil
	}
	body, err := c.call(ctx, []byte(symbol))
	if err != nil {
		return nil, err
	}
	p, err := parseProfile(symbol, body)
	if err != nil {
		return nil, err
	}
	c.memo.Set(symbol, p, cache.DefaultExpiration)
	return p, nil
}

// fetch is the innermost handler: one GET of /profile for the symbol in
// payload. 404 and other 4xx answers are permanent, 429 and 5xx retryable.
func (c *Client) fetch(ctx context.Context, payload []byte) ([]byte, error) {
	q := url.Values{"symbol": {string(payload)}, "apikey": {c.cfg.APIKey}}
	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/profile?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, connectivity.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, connectivity.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("stocks: profile %s: HTTP %d", payload, resp.StatusCode)
	default:
		return nil, connectivity.Permanent(fmt.Errorf("stocks: profile %s: HTTP %d: %s",
			payload, resp.StatusCode, bytes.TrimSpace(body)))
	}
}

// parseProfile reads the first element of the profile array. An empty array
// is ErrNotFound.
func parseProfile(symbol string, body []byte) (*Profile, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("stocks: decode profile %s: %w", symbol, err)
	}
	if arr, ok := doc.([]any); !ok || len(arr) == 0 {
		return nil, ErrNotFound
	}

	p := &Profile{
		Symbol:   symbol,
		ISIN:     textAt(doc, "$[0].isin"),
		CIK:      textAt(doc, "$[0].cik"),
		Exchange: textAt(doc, "$[0].exchange"),
		Name:     textAt(doc, "$[0].companyName"),
		Industry: textAt(doc, "$[0].industry"),
		Sector:   textAt(doc, "$[0].sector"),
	}
	var err error
	if p.Price, err = numberAt(doc, "$[0].price"); err != nil {
		return nil, fmt.Errorf("stocks: profile %s: price: %w", symbol, err)
	}
	if p.MarketCap, err = numberAt(doc, "$[0].marketCap"); err != nil {
		return nil, fmt.Errorf("stocks: profile %s: market cap: %w", symbol, err)
	}
	return p, nil
}

func textAt(doc any, path string) string {
	v, err := jsonpath.Get(path, doc)
	if err != nil || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func numberAt(doc any, path string) (decimal.NullDecimal, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil || v == nil {
		return decimal.NullDecimal{}, nil
	}
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
	default:
		return decimal.NullDecimal{}, fmt.Errorf("unexpected %T", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
