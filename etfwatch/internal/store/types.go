package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Script holds the browser automation columns shared by providers, ETF
// pages and categorizers. Events, Trigger and Mapping are JSON documents
// decoded by the mapping package.
type Script struct {
	URL        string `json:"url"`
	WaitPre    string `json:"wait_pre_events,omitempty"`
	WaitPost   string `json:"wait_post_events,omitempty"`
	Events     string `json:"events,omitempty"`
	Trigger    string `json:"trigger_download,omitempty"`
	Mapping    string `json:"mapping,omitempty"`
	FileFormat string `json:"file_format,omitempty"`
}

// Provider is an ETF issuer website.
type Provider struct {
	ID             int64      `json:"id"`
	CreatedAt      int64      `json:"created_at"`
	Name           string     `json:"name"`
	Domain         string     `json:"domain"`
	Script         Script     `json:"script"`
	Cadence        string     `json:"cadence"`
	Disabled       bool       `json:"disabled"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}

// ProviderEtf is one fund page of a provider.
type ProviderEtf struct {
	ID               int64      `json:"id"`
	CreatedAt        int64      `json:"created_at"`
	ProviderID       int64      `json:"provider_id"`
	Name             string     `json:"name"`
	ISIN             string     `json:"isin,omitempty"`
	CapType          string     `json:"cap_type,omitempty"`
	StyleType        string     `json:"style_type,omitempty"`
	Benchmark        string     `json:"benchmark,omitempty"`
	TradingSince     string     `json:"trading_since,omitempty"`
	NumberOfManagers int        `json:"number_of_managers,omitempty"`
	Script           Script     `json:"script"`
	Disabled         bool       `json:"disabled"`
	DisabledReason   string     `json:"disabled_reason,omitempty"`
	LastDownloaded   *time.Time `json:"last_downloaded,omitempty"`
}

// CategorizeEtf is an index fund whose constituents are tagged with its
// style and cap type.
type CategorizeEtf struct {
	ID             int64      `json:"id"`
	CreatedAt      int64      `json:"created_at"`
	Name           string     `json:"name"`
	CapType        string     `json:"cap_type"`
	StyleType      string     `json:"style_type"`
	Script         Script     `json:"script"`
	Cadence        string     `json:"cadence"`
	Disabled       bool       `json:"disabled"`
	LastDownloaded *time.Time `json:"last_downloaded,omitempty"`
}

// Holding is one persisted line of a provider ETF on a trade date.
type Holding struct {
	ProviderEtfID int64               `json:"provider_etf_id"`
	TradeDate     time.Time           `json:"trade_date"`
	Ticker        string              `json:"ticker"`
	Shares        decimal.Decimal     `json:"shares"`
	MarketValue   decimal.NullDecimal `json:"market_value"`
	Weight        decimal.Decimal     `json:"weight"`
	Extra         map[string]string   `json:"extra,omitempty"`
}

// Ticker is the identity and classification of a listed symbol. A non-empty
// Invalid excludes the symbol from rankings.
type Ticker struct {
	Symbol    string `json:"symbol"`
	CreatedAt int64  `json:"created_at"`
	Source    string `json:"source,omitempty"`
	StyleType string `json:"style_type,omitempty"`
	CapType   string `json:"cap_type,omitempty"`
	TypeFrom  string `json:"type_from,omitempty"`
	ISIN      string `json:"isin,omitempty"`
	CIK       string `json:"cik,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	Name      string `json:"name,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Invalid   string `json:"invalid,omitempty"`
}

// TickerValue is the price and market cap of a symbol on a date.
type TickerValue struct {
	Symbol     string              `json:"symbol"`
	ValueDate  time.Time           `json:"value_date"`
	StockPrice decimal.NullDecimal `json:"stock_price"`
	MarketCap  decimal.NullDecimal `json:"market_cap"`
}

// BestIdea is an overweight position of a provider ETF on a date.
type BestIdea struct {
	ProviderEtfID   int64           `json:"provider_etf_id"`
	Symbol          string          `json:"symbol"`
	ValueDate       time.Time       `json:"value_date"`
	EtfWeight       decimal.Decimal `json:"etf_weight"`
	BenchmarkWeight decimal.Decimal `json:"benchmark_weight"`
	Delta           decimal.Decimal `json:"delta"`
	Ranking         int             `json:"ranking"`
}

// IdeaCandidate is a best idea joined with its ticker classification, the
// input of a fund's fresh ranking.
type IdeaCandidate struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	ProviderEtfID int64           `json:"provider_etf_id"`
	Delta         decimal.Decimal `json:"delta"`
	Ranking       int             `json:"ranking"`
}

// Fund is a model portfolio for one style/cap bucket.
type Fund struct {
	ID          int64      `json:"id"`
	CreatedAt   int64      `json:"created_at"`
	Name        string     `json:"name"`
	StyleType   string     `json:"style_type"`
	CapType     string     `json:"cap_type"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// FundHolding is one position of a fund on a date.
type FundHolding struct {
	FundID      int64     `json:"fund_id"`
	Symbol      string    `json:"symbol"`
	HoldingDate time.Time `json:"holding_date"`
	Ranking     int       `json:"ranking"`
}

// Direction of a fund holding change.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// FundHoldingChange is one buy or sell of a fund on a date. Ranking
// details are only known for buys.
type FundHoldingChange struct {
	FundID                int64               `json:"fund_id"`
	Symbol                string              `json:"symbol"`
	ChangeDate            time.Time           `json:"change_date"`
	Direction             Direction           `json:"direction"`
	Ranking               int                 `json:"ranking,omitempty"`
	Appearances           int                 `json:"appearances,omitempty"`
	MaxDelta              decimal.NullDecimal `json:"max_delta"`
	TopDeltaProviderEtfID int64               `json:"top_delta_provider_etf_id,omitempty"`
	AllProviderEtfIDs     []int64             `json:"all_provider_etf_ids,omitempty"`
}

// CollectionStat counts a provider's ETF pages downloaded since a batch
// started against the pages available.
type CollectionStat struct {
	ProviderID int64  `json:"provider_id"`
	Name       string `json:"name"`
	Downloaded int    `json:"downloaded"`
	Available  int    `json:"available"`
}
