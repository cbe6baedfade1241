package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/etfwatch/mapping"
)

// Options carries the context an extraction cannot derive from the table.
type Options struct {
	ProviderEtfID int64
	// PageDate is a trade date read from the landing page. It overrides
	// every table-based strategy.
	PageDate time.Time
	// Filename is the suggested name of the downloaded file.
	Filename string
	// RunDate is used when the source carries no date. Zero means today.
	RunDate time.Time
}

func (o Options) runDate() time.Time {
	if o.RunDate.IsZero() {
		return mapping.Day(time.Now())
	}
	return mapping.Day(o.RunDate)
}

// Payload is a captured file.
type Payload struct {
	Filename string
	Data     []byte
}

// Transform decodes payload with format and extracts its holdings. A nil
// or empty payload yields no holdings and no error.
func Transform(format string, m *mapping.Mapping, payload *Payload, opts Options) ([]Holding, error) {
	if m == nil {
		return nil, ErrMissingConfig
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if payload == nil || len(payload.Data) == 0 {
		return nil, nil
	}
	t, err := Read(f, payload.Data, m.Sheet)
	if err != nil {
		return nil, err
	}
	if opts.Filename == "" {
		opts.Filename = payload.Filename
	}
	return Extract(t, m, opts)
}

type row struct {
	date   time.Time
	ticker string
	shares decimal.Decimal
	mv     decimal.NullDecimal
	weight decimal.Decimal
	extra  map[string]string
}

// Extract runs the full normalization pipeline over t.
func Extract(t RawTable, m *mapping.Mapping, opts Options) ([]Holding, error) {
	header, start, err := resolveHeader(t, m)
	if err != nil {
		return nil, err
	}
	required := []string{mapping.FieldTicker, mapping.FieldShares, mapping.FieldWeight}
	if m.Date.Strategy == mapping.StrategyColumn {
		required = append(required, mapping.FieldTradeDate)
	}
	cols, err := columnIndex(header, m, required...)
	if err != nil {
		return nil, err
	}
	date, perRow, err := resolveDate(t, m, opts)
	if err != nil {
		return nil, err
	}
	product, err := productIndex(header, m.Product)
	if err != nil {
		return nil, err
	}

	var rows []row
	for i := start; i < len(t); i++ {
		raw := t[i]
		if blankRow(raw) {
			continue
		}
		if product >= 0 && !strings.EqualFold(t.At(i, product).String(), m.Product.Value) {
			continue
		}
		r := row{date: date}
		if perRow {
			d, ok, err := rowDate(t.At(i, cols[mapping.FieldTradeDate]), m.Date.Format)
			if err != nil {
				return nil, fmt.Errorf("extract: row %d: %w", i, err)
			}
			if !ok {
				continue
			}
			r.date = d
		}

		tickerCell := t.At(i, cols[mapping.FieldTicker])
		weight := parseNumber(t.At(i, cols[mapping.FieldWeight]))
		if tickerCell.String() == "" || !weight.Valid {
			continue
		}
		ticker, ok := NormalizeTicker(tickerCell.String(), m.RemoveTickers)
		if !ok {
			continue
		}
		shares := parseNumber(t.At(i, cols[mapping.FieldShares]))
		if !shares.Valid || shares.Decimal.IsZero() || weight.Decimal.IsZero() {
			continue
		}
		r.ticker = ticker
		r.shares = shares.Decimal
		r.weight = weight.Decimal
		if p, ok := cols[mapping.FieldMarketValue]; ok && p >= 0 {
			r.mv = parseNumber(t.At(i, p))
		}
		for _, col := range m.Columns {
			switch col.Field {
			case mapping.FieldTradeDate, mapping.FieldTicker, mapping.FieldShares,
				mapping.FieldMarketValue, mapping.FieldWeight:
				continue
			}
			if r.extra == nil {
				r.extra = make(map[string]string)
			}
			r.extra[col.Field] = t.At(i, cols[col.Field]).String()
		}
		rows = append(rows, r)
	}

	rescale(rows)
	return dedup(rows, opts.ProviderEtfID), nil
}

// Tickers returns the distinct acceptable tickers of t in order of first
// appearance. Weights and dates are not inspected.
func Tickers(t RawTable, m *mapping.Mapping) ([]string, error) {
	header, start, err := resolveHeader(t, m)
	if err != nil {
		return nil, err
	}
	cols, err := columnIndex(header, m, mapping.FieldTicker)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for i := start; i < len(t); i++ {
		ticker, ok := NormalizeTicker(t.At(i, cols[mapping.FieldTicker]).String(), m.RemoveTickers)
		if !ok || seen[ticker] {
			continue
		}
		seen[ticker] = true
		out = append(out, ticker)
	}
	return out, nil
}

// rescale converts percent weights to fractions when they sum above one.
func rescale(rows []row) {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.weight)
	}
	if sum.LessThanOrEqual(decimal.NewFromInt(1)) {
		return
	}
	hundred := decimal.NewFromInt(100)
	for i := range rows {
		rows[i].weight = rows[i].weight.Div(hundred).Round(WeightPrecision)
	}
}

// dedup sums rows sharing a ticker. The first trade date wins.
func dedup(rows []row, etfID int64) []Holding {
	pos := make(map[string]int, len(rows))
	out := make([]Holding, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.ticker]; ok {
			h := &out[i]
			h.Shares = h.Shares.Add(r.shares)
			h.Weight = h.Weight.Add(r.weight)
			if r.mv.Valid {
				if h.MarketValue.Valid {
					h.MarketValue.Decimal = h.MarketValue.Decimal.Add(r.mv.Decimal)
				} else {
					h.MarketValue = r.mv
				}
			}
			continue
		}
		pos[r.ticker] = len(out)
		out = append(out, Holding{
			ProviderEtfID: etfID,
			TradeDate:     r.date,
			Ticker:        r.ticker,
			Shares:        r.shares,
			MarketValue:   r.mv,
			Weight:        r.weight,
			Extra:         r.extra,
		})
	}
	return out
}

func productIndex(header []string, p *mapping.ProductFilter) (int, error) {
	if p == nil {
		return -1, nil
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(p.Column)) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: product column %q", ErrColumnMissing, p.Column)
}
