package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/etfwatch/dbopen"

	_ "modernc.org/sqlite"
)

var day0 = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func openTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	require.NoError(t, ApplySchema(db))
	clock := &testClock{t: day0.Add(9 * time.Hour)}
	return NewStore(db).WithClock(clock.now), clock
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func seedEtf(t *testing.T, s *Store) (*Provider, *ProviderEtf) {
	t.Helper()
	ctx := context.Background()
	p := &Provider{Name: "Acme Funds", Script: Script{URL: "https://www.acme.example/etfs"}}
	require.NoError(t, s.InsertProvider(ctx, p))
	e := &ProviderEtf{ProviderID: p.ID, Name: "Acme Growth", StyleType: "growth", CapType: "large"}
	require.NoError(t, s.InsertProviderEtf(ctx, e))
	return p, e
}

func TestApplySchema_Idempotent(t *testing.T) {
	// WHAT: schema and column migrations can be applied twice.
	// WHY: every process start applies them to an existing file.
	s, _ := openTestStore(t)
	require.NoError(t, ApplySchema(s.DB))

	var n int
	require.NoError(t, s.DB.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('provider') WHERE name = 'last_run_at'`).Scan(&n))
	assert.Equal(t, 1, n)

	for _, table := range []string{"provider", "provider_etf", "categorize_etf", "provider_etf_holding",
		"ticker", "ticker_value", "best_idea", "fund", "fund_holding", "fund_holding_change"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestProvider_InsertAndGet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	p := &Provider{Name: "Acme", Script: Script{URL: "https://acme.example", FileFormat: "xlsx"}, Cadence: "Weekly"}
	require.NoError(t, s.InsertProvider(ctx, p))
	assert.NotZero(t, p.ID)

	got, err := s.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "weekly", got.Cadence)
	assert.Equal(t, "[]", got.Script.Events)
	assert.Equal(t, "xlsx", got.Script.FileFormat)
	assert.Nil(t, got.LastRunAt)

	missing, err := s.GetProvider(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.InsertProvider(ctx, &Provider{Name: "x", Script: Script{URL: "u"}, Cadence: "hourly"}))
}

func TestDueProviders(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	now := clock.t

	mk := func(name, cadence string, last *time.Duration, disabled bool) int64 {
		p := &Provider{Name: name, Script: Script{URL: "https://" + name}, Cadence: cadence, Disabled: disabled}
		require.NoError(t, s.InsertProvider(ctx, p))
		if last != nil {
			require.NoError(t, s.MarkProviderRun(ctx, p.ID, now.Add(-*last)))
		}
		return p.ID
	}
	d := func(v time.Duration) *time.Duration { return &v }

	stale := mk("daily-stale", "daily", d(25*time.Hour), false)
	mk("daily-fresh", "daily", d(2*time.Hour), false)
	never := mk("never", "monthly", nil, false)
	mk("disabled", "daily", nil, true)
	weekly := mk("weekly-due", "weekly", d(80*time.Hour), false)
	mk("weekly-fresh", "weekly", d(40*time.Hour), false)

	due, err := s.DueProviders(ctx, now, 0)
	require.NoError(t, err)
	var ids []int64
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{never, weekly, stale}, ids)

	limited, err := s.DueProviders(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, never, limited[0].ID)
}

func TestSetProviderDomainAndDisable(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	p, _ := seedEtf(t, s)

	require.NoError(t, s.SetProviderDomain(ctx, p.ID, "acme.example"))
	require.NoError(t, s.DisableProvider(ctx, p.ID, "site redesign"))

	got, err := s.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme.example", got.Domain)
	assert.True(t, got.Disabled)
	assert.Equal(t, "site redesign", got.DisabledReason)

	active, err := s.ActiveProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCollectionStats(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	p, e1 := seedEtf(t, s)
	e2 := &ProviderEtf{ProviderID: p.ID, Name: "Acme Value"}
	require.NoError(t, s.InsertProviderEtf(ctx, e2))
	e3 := &ProviderEtf{ProviderID: p.ID, Name: "Acme Closed", Disabled: true}
	require.NoError(t, s.InsertProviderEtf(ctx, e3))

	start := clock.t
	require.NoError(t, s.MarkEtfDownloaded(ctx, e1.ID, start.Add(time.Minute)))
	require.NoError(t, s.MarkEtfDownloaded(ctx, e2.ID, start.Add(-time.Hour)))

	stats, err := s.CollectionStats(ctx, []int64{p.ID}, start)
	require.NoError(t, err)
	assert.Equal(t, []CollectionStat{{ProviderID: p.ID, Name: "Acme Funds", Downloaded: 1, Available: 2}}, stats)

	etfs, err := s.ProviderEtfs(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, etfs, 2)
}

func TestReplaceHoldings_FullReplacePerDate(t *testing.T) {
	// WHAT: re-writing a trade date replaces its rows, other dates survive.
	// WHY: re-running a batch for the same day must not duplicate holdings.
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, e := seedEtf(t, s)
	prev := day0.AddDate(0, 0, -1)

	_, err := s.ReplaceHoldings(ctx, e.ID, []Holding{
		{TradeDate: prev, Ticker: "OLD", Shares: dec("1"), Weight: dec("1")},
	})
	require.NoError(t, err)

	first := []Holding{
		{TradeDate: day0, Ticker: "AAPL", Shares: dec("100"), Weight: dec("0.6"), MarketValue: nullDec("1500")},
		{TradeDate: day0, Ticker: "MSFT", Shares: dec("50"), Weight: dec("0.4"), Extra: map[string]string{"name": "Microsoft"}},
	}
	n, err := s.ReplaceHoldings(ctx, e.ID, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.ReplaceHoldings(ctx, e.ID, []Holding{
		{TradeDate: day0, Ticker: "NVDA", Shares: dec("10"), Weight: dec("1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Holdings(ctx, e.ID, day0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "NVDA", got[0].Ticker)
	assert.True(t, got[0].Shares.Equal(dec("10")))
	assert.False(t, got[0].MarketValue.Valid)

	old, err := s.Holdings(ctx, e.ID, prev)
	require.NoError(t, err)
	assert.Len(t, old, 1)

	dates, err := s.HoldingDates(ctx, e.ID, prev)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{prev, day0}, dates)
}

func TestReplaceHoldings_RollsBackOnFailure(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, e := seedEtf(t, s)

	_, err := s.ReplaceHoldings(ctx, e.ID, []Holding{
		{TradeDate: day0, Ticker: "AAPL", Shares: dec("100"), Weight: dec("1")},
	})
	require.NoError(t, err)

	// Same ticker twice on one date violates the unique key mid-transaction.
	_, err = s.ReplaceHoldings(ctx, e.ID, []Holding{
		{TradeDate: day0, Ticker: "MSFT", Shares: dec("1"), Weight: dec("0.5")},
		{TradeDate: day0, Ticker: "MSFT", Shares: dec("1"), Weight: dec("0.5")},
	})
	require.Error(t, err)

	got, err := s.Holdings(ctx, e.ID, day0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Ticker)
}

func TestHoldings_ExtraAndInvalidTickers(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, e := seedEtf(t, s)
	_, err := s.ReplaceHoldings(ctx, e.ID, []Holding{
		{TradeDate: day0, Ticker: "AAPL", Shares: dec("100"), Weight: dec("0.5"), Extra: map[string]string{"name": "Apple"}},
		{TradeDate: day0, Ticker: "ZZZZ", Shares: dec("5"), Weight: dec("0.5")},
	})
	require.NoError(t, err)

	added, err := s.SyncTickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = s.SyncTickers(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)

	require.NoError(t, s.MarkTickerInvalid(ctx, "ZZZZ", "not found"))

	got, err := s.Holdings(ctx, e.ID, day0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"name": "Apple"}, got[0].Extra)

	valid, err := s.ValidHeldSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, valid)

	all, err := s.HoldingSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "ZZZZ"}, all)
}

func TestCategorizeTickers_NoOpWhenUnchanged(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	n, err := s.CategorizeTickers(ctx, []string{"AAPL", "MSFT"}, "large", "growth")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CategorizeTickers(ctx, []string{"AAPL", "MSFT"}, "large", "growth")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.CategorizeTickers(ctx, []string{"AAPL"}, "large", "value")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tk, err := s.GetTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "value", tk.StyleType)
	assert.Equal(t, "cat_etf", tk.TypeFrom)

	tickers, err := s.Tickers(ctx, []string{"AAPL", "MSFT", "NOPE"})
	require.NoError(t, err)
	assert.Len(t, tickers, 2)
}

func TestUpdateTickerInfo(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, err := s.CategorizeTickers(ctx, []string{"AAPL"}, "large", "growth")
	require.NoError(t, err)

	require.NoError(t, s.UpdateTickerInfo(ctx, &Ticker{
		Symbol: "AAPL", ISIN: "US0378331005", CIK: "0000320193", Exchange: "NASDAQ",
		Name: "Apple Inc.", Industry: "Consumer Electronics", Sector: "Technology",
	}))
	tk, err := s.GetTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", tk.Name)
	assert.Equal(t, "large", tk.CapType)
}

func TestUpsertTickerValue_Idempotent(t *testing.T) {
	// WHAT: writing the same value twice rewrites nothing the second time.
	// WHY: updated_at must only move when price or cap actually change.
	s, clock := openTestStore(t)
	ctx := context.Background()
	v := TickerValue{Symbol: "AAPL", ValueDate: day0, StockPrice: nullDec("189.5"), MarketCap: nullDec("2950000000000")}

	changed, err := s.UpsertTickerValue(ctx, v)
	require.NoError(t, err)
	assert.True(t, changed)

	readUpdated := func() int64 {
		var ts int64
		require.NoError(t, s.DB.QueryRow(
			`SELECT updated_at FROM ticker_value WHERE symbol = 'AAPL'`).Scan(&ts))
		return ts
	}
	before := readUpdated()

	clock.t = clock.t.Add(time.Hour)
	changed, err = s.UpsertTickerValue(ctx, v)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, readUpdated())

	v.StockPrice = nullDec("190")
	changed, err = s.UpsertTickerValue(ctx, v)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Greater(t, readUpdated(), before)

	got, err := s.TickerValues(ctx, []string{"AAPL", "MSFT"}, day0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].StockPrice.Decimal.Equal(dec("190")))

	dates, err := s.PriceDates(ctx, day0.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day0}, dates)
}

func TestUpsertTickerValue_NullCapIsAValue(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	v := TickerValue{Symbol: "X", ValueDate: day0, StockPrice: nullDec("1")}
	changed, err := s.UpsertTickerValue(ctx, v)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.UpsertTickerValue(ctx, v)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUpsertBestIdeas(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, e := seedEtf(t, s)
	ideas := []BestIdea{
		{ProviderEtfID: e.ID, Symbol: "NVDA", ValueDate: day0, EtfWeight: dec("0.2"), BenchmarkWeight: dec("0.1"), Delta: dec("0.1"), Ranking: 1},
		{ProviderEtfID: e.ID, Symbol: "AMD", ValueDate: day0, EtfWeight: dec("0.1"), BenchmarkWeight: dec("0.05"), Delta: dec("0.05"), Ranking: 2},
	}
	n, err := s.UpsertBestIdeas(ctx, ideas)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.UpsertBestIdeas(ctx, ideas)
	require.NoError(t, err)
	assert.Zero(t, n)

	older := BestIdea{ProviderEtfID: e.ID, Symbol: "INTC", ValueDate: day0.AddDate(0, 0, -1),
		EtfWeight: dec("0.3"), BenchmarkWeight: dec("0.1"), Delta: dec("0.2"), Ranking: 1}
	_, err = s.UpsertBestIdeas(ctx, []BestIdea{older})
	require.NoError(t, err)

	latest, err := s.LatestBestIdeas(ctx, day0.AddDate(0, 0, -7), 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "NVDA", latest[0].Symbol)
	assert.True(t, latest[0].Delta.Equal(dec("0.1")))
	assert.Equal(t, day0, latest[0].ValueDate)
}

func TestIdeaCandidates(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, e := seedEtf(t, s)
	_, err := s.CategorizeTickers(ctx, []string{"NVDA", "AMD", "MU"}, "large", "growth")
	require.NoError(t, err)
	_, err = s.CategorizeTickers(ctx, []string{"KO"}, "large", "value")
	require.NoError(t, err)
	require.NoError(t, s.MarkTickerInvalid(ctx, "MU", "delisted"))

	var ideas []BestIdea
	for i, sym := range []string{"NVDA", "KO", "MU", "AMD", "TSLA", "AAPL"} {
		ideas = append(ideas, BestIdea{ProviderEtfID: e.ID, Symbol: sym, ValueDate: day0,
			EtfWeight: dec("0.1"), BenchmarkWeight: dec("0.01"), Delta: dec("0.09"), Ranking: i + 1})
	}
	_, err = s.UpsertBestIdeas(ctx, ideas)
	require.NoError(t, err)

	got, err := s.IdeaCandidates(ctx, day0.AddDate(0, 0, -7), 5, "growth", "large")
	require.NoError(t, err)
	var syms []string
	for _, c := range got {
		syms = append(syms, c.Symbol)
	}
	assert.Equal(t, []string{"NVDA", "AMD"}, syms)
}

func TestFundDay(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	f := &Fund{Name: "Large Growth", StyleType: "growth", CapType: "large"}
	require.NoError(t, s.InsertFund(ctx, f))

	prev := day0.AddDate(0, 0, -1)
	require.NoError(t, s.WriteFundDay(ctx, f.ID, prev,
		[]FundHolding{{Symbol: "AAPL", Ranking: 1}, {Symbol: "MSFT", Ranking: 2}}, nil))

	held, err := s.FundHoldingsBefore(ctx, f.ID, day0)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, prev, held[0].HoldingDate)

	none, err := s.FundHoldingsBefore(ctx, f.ID, prev)
	require.NoError(t, err)
	assert.Empty(t, none)

	changes := []FundHoldingChange{
		{Symbol: "MSFT", Direction: Sell},
		{Symbol: "NVDA", Direction: Buy, Ranking: 3, Appearances: 2, MaxDelta: nullDec("0.04"),
			TopDeltaProviderEtfID: 7, AllProviderEtfIDs: []int64{7, 9}},
	}
	holdings := []FundHolding{{Symbol: "AAPL", Ranking: 1}, {Symbol: "NVDA", Ranking: 3}}
	require.NoError(t, s.WriteFundDay(ctx, f.ID, day0, holdings, changes))
	// Rewriting the same day replaces rather than duplicates.
	require.NoError(t, s.WriteFundDay(ctx, f.ID, day0, holdings, changes))

	latest, err := s.LatestFundHoldings(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "AAPL", latest[0].Symbol)
	assert.Equal(t, day0, latest[1].HoldingDate)

	got, err := s.FundChanges(ctx, f.ID, prev)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Sell, got[0].Direction)
	assert.Zero(t, got[0].Ranking)
	assert.Empty(t, got[0].AllProviderEtfIDs)
	assert.Equal(t, Buy, got[1].Direction)
	assert.Equal(t, []int64{7, 9}, got[1].AllProviderEtfIDs)
	assert.True(t, got[1].MaxDelta.Decimal.Equal(dec("0.04")))

	fund, err := s.GetFund(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, fund.LastUpdated)
}

func TestCategorizeEtfsDue(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	c := &CategorizeEtf{Name: "Russell 1000 Growth", CapType: "large", StyleType: "growth",
		Script: Script{URL: "https://idx.example/r1000g"}}
	require.NoError(t, s.InsertCategorizeEtf(ctx, c))
	assert.Equal(t, "monthly", c.Cadence)

	due, err := s.DueCategorizeEtfs(ctx, clock.t)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.MarkCategorizeDownloaded(ctx, c.ID, clock.t))
	due, err = s.DueCategorizeEtfs(ctx, clock.t.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.DueCategorizeEtfs(ctx, clock.t.Add(15*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
