package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/etfwatch/mapping"
)

var runDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func mustMapping(t *testing.T, doc string) *mapping.Mapping {
	t.Helper()
	m, err := mapping.Parse([]byte(doc))
	require.NoError(t, err)
	return m
}

func csvTable(t *testing.T, lines ...string) RawTable {
	t.Helper()
	tbl, err := ReadCSV([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return tbl
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const simpleMapping = `{
  "columns": {"trade_date": null, "ticker": "Ticker", "shares": "Shares", "market_value": "Market Value", "weight": "Weight"},
  "date": {"strategy": "run_date"}
}`

func TestExtract_DeduplicatesBySumming(t *testing.T) {
	// WHAT: two rows of one ticker collapse into one summed record.
	m := mustMapping(t, simpleMapping)
	tbl := csvTable(t,
		"Ticker,Shares,Market Value,Weight",
		"AAPL,100,\"$1,000\",0.02",
		"MSFT,10,500,0.5",
		"AAPL,50,$500,0.01",
	)
	got, err := Extract(tbl, m, Options{ProviderEtfID: 7, RunDate: runDay})
	require.NoError(t, err)
	require.Len(t, got, 2)

	aapl := got[0]
	assert.Equal(t, "AAPL", aapl.Ticker)
	assert.Equal(t, int64(7), aapl.ProviderEtfID)
	assert.Equal(t, runDay, aapl.TradeDate)
	assert.True(t, aapl.Weight.Equal(dec("0.03")), aapl.Weight.String())
	assert.True(t, aapl.Shares.Equal(dec("150")), aapl.Shares.String())
	require.True(t, aapl.MarketValue.Valid)
	assert.True(t, aapl.MarketValue.Decimal.Equal(dec("1500")))
}

func TestExtract_TwoRowHeaderCSV(t *testing.T) {
	const doc = `{
	  "header": {"layout": "two_row"},
	  "columns": {"ticker": "Ticker", "weight": "Position Weight", "shares": "Position Shares"},
	  "date": {"strategy": "run_date"}
	}`
	m := mustMapping(t, doc)

	t.Run("single holding", func(t *testing.T) {
		tbl := csvTable(t, ",Position,", "Ticker,Weight,Shares", "AAPL,5%,100")
		got, err := Extract(tbl, m, Options{RunDate: runDay})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "AAPL", got[0].Ticker)
		assert.True(t, got[0].Weight.Equal(dec("0.05")), got[0].Weight.String())
		assert.True(t, got[0].Shares.Equal(dec("100")))
	})

	t.Run("fraction already below one is unchanged", func(t *testing.T) {
		tbl := csvTable(t, ",Position,", "Ticker,Weight,Shares", "AAPL,0.05,100")
		got, err := Extract(tbl, m, Options{RunDate: runDay})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Weight.Equal(dec("0.05")))
	})

	t.Run("multi holding sum above one", func(t *testing.T) {
		tbl := csvTable(t, ",Position,", "Ticker,Weight,Shares",
			"AAPL,50%,100", "MSFT,30%,40", "NVDA,20%,5")
		got, err := Extract(tbl, m, Options{RunDate: runDay})
		require.NoError(t, err)
		require.Len(t, got, 3)
		sum := decimal.Zero
		for _, h := range got {
			sum = sum.Add(h.Weight)
		}
		assert.True(t, sum.Equal(decimal.NewFromInt(1)), sum.String())
		assert.True(t, got[1].Weight.Equal(dec("0.3")))
	})
}

func TestExtract_RescaleRoundsToTenPlaces(t *testing.T) {
	m := mustMapping(t, simpleMapping)
	tbl := csvTable(t, "Ticker,Shares,Market Value,Weight",
		"A,1,,33.333333333333333", "B,1,,33.333333333333333", "C,1,,33.333333333333334")
	got, err := Extract(tbl, m, Options{RunDate: runDay})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "0.3333333333", got[0].Weight.String())
	assert.False(t, got[0].MarketValue.Valid)
}

func TestMatchRatio(t *testing.T) {
	expected := []string{"Ticker", "Weight", "Shares"}
	two := []Cell{Text("ticker"), Text("WEIGHT"), Text("Sector")}
	one := []Cell{Text("ticker"), Text("Name")}

	assert.InDelta(t, 0.667, MatchRatio(two, expected), 0.001)
	assert.GreaterOrEqual(t, MatchRatio(two, expected), HeaderMatchRatio)
	assert.Less(t, MatchRatio(one, expected), HeaderMatchRatio)
}

func TestExtract_HeaderScanSkipsBanners(t *testing.T) {
	// WHY: providers insert banner rows without bumping the skip count.
	const doc = `{
	  "header": {"skip_rows": 1, "scan_rows": 4},
	  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
	  "date": {"strategy": "run_date"}
	}`
	m := mustMapping(t, doc)
	tbl := csvTable(t,
		"Fund Holdings",
		"Ticker only banner",
		"Ticker,Name,Other",
		"ticker,weight,shares,name",
		"IBM,0.4,10,International",
	)
	got, err := Extract(tbl, m, Options{RunDate: runDay})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "IBM", got[0].Ticker)

	m.Header.ScanRows = 2
	_, err = Extract(tbl, m, Options{RunDate: runDay})
	assert.ErrorIs(t, err, ErrHeaderNotFound)
}

func TestExtract_GapRowsAreSkipped(t *testing.T) {
	const doc = `{
	  "header": {"gap": 1},
	  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
	  "date": {"strategy": "run_date"}
	}`
	got, err := Extract(csvTable(t, "Ticker,Weight,Shares", "XX,%,qty", "KO,0.1,3"), mustMapping(t, doc), Options{RunDate: runDay})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "KO", got[0].Ticker)
}

func TestExtract_RowAdmissionAndTickers(t *testing.T) {
	const doc = `{
	  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
	  "date": {"strategy": "run_date"},
	  "remove_tickers": ["XTSLA"]
	}`
	tbl := csvTable(t,
		"Ticker,Weight,Shares",
		"BRK B,0.1,5",
		"aapl,0.1,5",
		"USD,0.1,5",
		"XTSLA,0.1,5",
		"123,0.1,5",
		"CASHX,0,5",
		"GOOG,0.1,0",
		"META,n/a,5",
		",,",
		"  ,0.1,5",
		"AMZN,0.1,5",
	)
	got, err := Extract(tbl, mustMapping(t, doc), Options{RunDate: runDay})
	require.NoError(t, err)
	var tickers []string
	for _, h := range got {
		tickers = append(tickers, h.Ticker)
	}
	assert.Equal(t, []string{"BRK", "AMZN"}, tickers)
}

func TestExtract_DateStrategies(t *testing.T) {
	body := []string{"Ticker,Weight,Shares", "KO,0.5,3"}

	t.Run("cell with downward scan", func(t *testing.T) {
		const doc = `{
		  "header": {"skip_rows": 3},
		  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
		  "date": {"strategy": "cell", "format": "%m/%d/%Y", "cell": {"row": 0, "col": 1, "scan": 2}}
		}`
		tbl := csvTable(t, append([]string{"Fund,Core", "As of,", "x,As of 02/27/2026"}, body...)...)
		got, err := Extract(tbl, mustMapping(t, doc), Options{RunDate: runDay})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), got[0].TradeDate)
	})

	t.Run("cell without date is fatal", func(t *testing.T) {
		const doc = `{
		  "header": {"skip_rows": 1},
		  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
		  "date": {"strategy": "cell", "format": "%Y-%m-%d", "cell": {"row": 0, "col": 0}}
		}`
		_, err := Extract(csvTable(t, append([]string{"no date"}, body...)...), mustMapping(t, doc), Options{})
		assert.ErrorIs(t, err, ErrDate)
	})

	t.Run("filename", func(t *testing.T) {
		const doc = `{
		  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
		  "date": {"strategy": "filename", "format": "%Y%m%d"}
		}`
		got, err := Extract(csvTable(t, body...), mustMapping(t, doc), Options{Filename: "holdings_20260226.csv"})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC), got[0].TradeDate)
	})

	t.Run("page date overrides", func(t *testing.T) {
		const doc = `{
		  "columns": {"ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
		  "date": {"strategy": "page", "format": "%b %d, %Y", "page": {"location": "#asof"}}
		}`
		m := mustMapping(t, doc)
		_, err := Extract(csvTable(t, body...), m, Options{})
		assert.ErrorIs(t, err, ErrDate)

		page := time.Date(2026, 2, 20, 17, 30, 0, 0, time.UTC)
		got, err := Extract(csvTable(t, body...), m, Options{PageDate: page})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), got[0].TradeDate)
	})

	t.Run("column", func(t *testing.T) {
		const doc = `{
		  "columns": {"trade_date": "Date", "ticker": "Ticker", "weight": "Weight", "shares": "Shares"},
		  "date": {"strategy": "column"}
		}`
		m := mustMapping(t, doc)
		got, err := Extract(csvTable(t, "Date,Ticker,Weight,Shares", "2026-02-19,KO,0.5,3", ",PEP,0.1,1"), m, Options{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC), got[0].TradeDate)

		_, err = Extract(csvTable(t, "Date,Ticker,Weight,Shares", "soon,KO,0.5,3"), m, Options{})
		assert.ErrorIs(t, err, ErrDate)
	})
}

func TestExtract_ProductFilterAndOrder(t *testing.T) {
	const doc = `{
	  "columns": {"weight": "Wt", "ticker": "Sym", "fund": "Fund", "market_value": null, "shares": "Qty"},
	  "date": {"strategy": "run_date"},
	  "product": {"column": "Fund", "value": "GROWTH"}
	}`
	m := mustMapping(t, doc)
	tbl := csvTable(t,
		"Fund,Sym,Qty,Wt",
		"growth,NVDA,4,0.6",
		"VALUE,XOM,9,0.7",
		"GROWTH,MSFT,2,0.4",
	)
	got, err := Extract(tbl, m, Options{RunDate: runDay})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"0.6", "NVDA", "growth", "", "4"}, got[0].Record(m.Columns.Fields()))

	m.Product.Column = "Portfolio"
	_, err = Extract(tbl, m, Options{RunDate: runDay})
	assert.ErrorIs(t, err, ErrColumnMissing)
}

func TestExtract_RequiredColumnMissing(t *testing.T) {
	m := mustMapping(t, simpleMapping)
	_, err := Extract(csvTable(t, "Ticker,Units,Weight", "KO,1,0.1"), m, Options{})
	assert.ErrorIs(t, err, ErrColumnMissing)
}

func TestTickers(t *testing.T) {
	const doc = `{
	  "header": {"skip_rows": 1},
	  "columns": {"ticker": "Symbol", "weight": "Weight", "shares": "Shares"},
	  "date": {"strategy": "run_date"},
	  "remove_tickers": ["SPY"]
	}`
	tbl := csvTable(t, "Index constituents", "Symbol,Name", "MSFT US,Microsoft", "SPY,", "MSFT,dup", "eur,", "V,Visa")
	got, err := Tickers(tbl, mustMapping(t, doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "V"}, got)
}

func TestTransform_MissingConfig(t *testing.T) {
	m := mustMapping(t, simpleMapping)
	payload := &Payload{Filename: "h.csv", Data: []byte("Ticker,Shares,Market Value,Weight\nKO,1,2,0.5\n")}

	_, err := Transform("csv", nil, payload, Options{})
	assert.ErrorIs(t, err, ErrMissingConfig)

	_, err = Transform("", m, payload, Options{})
	assert.ErrorIs(t, err, ErrMissingConfig)

	_, err = Transform("pdf", m, payload, Options{})
	assert.ErrorIs(t, err, ErrMissingConfig)

	got, err := Transform("csv", m, nil, Options{})
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = Transform("CSV", m, payload, Options{RunDate: runDay})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "KO", got[0].Ticker)
}
