// Package ranking computes active weights of a fund against a market-cap
// benchmark built from its own holdings, and ranks the overweight positions.
package ranking

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Data-quality reasons reported by ActiveWeights.
const (
	ReasonNoHoldings    = "No holdings"
	ReasonFewHoldings   = "Less than %d holdings"
	ReasonPricesMissing = "Too many prices missing (less than %d percent of holdings)"
	ReasonNoOverlap     = "No overlapping symbols between holdings and values"
	ReasonOutOfSync     = "Data sources out of sync"
)

// Problem is a data-quality failure. It is a business signal, not a crash:
// callers record it and move on to the next fund.
type Problem struct {
	Reason string
	Detail string
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Reason
	}
	return p.Reason + ": " + p.Detail
}

// AsProblem unwraps a *Problem from err.
func AsProblem(err error) (*Problem, bool) {
	var p *Problem
	ok := errors.As(err, &p)
	return p, ok
}

// Position is one holding of a fund.
type Position struct {
	Symbol string
	Shares decimal.Decimal
}

// Quote is the market data of one symbol.
type Quote struct {
	Symbol    string
	Price     decimal.NullDecimal
	MarketCap decimal.NullDecimal
}

// Gates are the data-quality thresholds.
type Gates struct {
	// MinHoldings is the fewest holdings a fund may have. Default: 10.
	MinHoldings int `yaml:"min_holdings"`
	// MinCoveragePct is the share of holdings that must have a price.
	// Default: 90.
	MinCoveragePct int `yaml:"min_coverage_pct"`
}

func (g *Gates) defaults() {
	if g.MinHoldings <= 0 {
		g.MinHoldings = 10
	}
	if g.MinCoveragePct <= 0 {
		g.MinCoveragePct = 90
	}
}

// Row is one matched holding with its weights.
type Row struct {
	Symbol          string
	Shares          decimal.Decimal
	Price           decimal.Decimal
	MarketCap       decimal.Decimal
	Value           decimal.Decimal
	EtfWeight       decimal.Decimal
	BenchmarkWeight decimal.Decimal
	Delta           decimal.Decimal
}

// ActiveWeights joins holdings to quotes and computes, per matched symbol,
// the fund weight (shares x price over the matched total), the benchmark
// weight (market cap over the matched total) and their difference. Rows
// keep holding order. Gate failures are returned as *Problem.
func ActiveWeights(holdings []Position, quotes []Quote, g Gates) ([]Row, error) {
	g.defaults()
	n := len(holdings)
	if n == 0 {
		return nil, &Problem{Reason: ReasonNoHoldings}
	}
	if n < g.MinHoldings {
		return nil, &Problem{Reason: fmt.Sprintf(ReasonFewHoldings, g.MinHoldings)}
	}

	bySymbol := make(map[string]Quote, len(quotes))
	for _, q := range quotes {
		if q.Symbol != "" {
			bySymbol[q.Symbol] = q
		}
	}
	priced := 0
	for _, h := range holdings {
		if q, ok := bySymbol[h.Symbol]; ok && q.Price.Valid {
			priced++
		}
	}
	if priced < n*g.MinCoveragePct/100 {
		return nil, &Problem{
			Reason: fmt.Sprintf(ReasonPricesMissing, g.MinCoveragePct),
			Detail: fmt.Sprintf("%d of %d priced", priced, n),
		}
	}

	var rows []Row
	totalValue, totalCap := decimal.Zero, decimal.Zero
	for _, h := range holdings {
		if h.Symbol == "" || !h.Shares.IsPositive() {
			continue
		}
		q, ok := bySymbol[h.Symbol]
		if !ok || !usable(q.Price) || !usable(q.MarketCap) {
			continue
		}
		r := Row{
			Symbol:    h.Symbol,
			Shares:    h.Shares,
			Price:     q.Price.Decimal,
			MarketCap: q.MarketCap.Decimal,
			Value:     h.Shares.Mul(q.Price.Decimal),
		}
		totalValue = totalValue.Add(r.Value)
		totalCap = totalCap.Add(r.MarketCap)
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		return nil, &Problem{Reason: ReasonNoOverlap}
	}

	for i := range rows {
		rows[i].EtfWeight = rows[i].Value.Div(totalValue)
		rows[i].BenchmarkWeight = rows[i].MarketCap.Div(totalCap)
		rows[i].Delta = rows[i].EtfWeight.Sub(rows[i].BenchmarkWeight)
	}
	return rows, nil
}

func usable(d decimal.NullDecimal) bool {
	return d.Valid && !d.Decimal.IsZero()
}

// Idea is a ranked overweight position.
type Idea struct {
	Symbol          string
	EtfWeight       decimal.Decimal
	BenchmarkWeight decimal.Decimal
	Delta           decimal.Decimal
	Rank            int
}

// DefaultTop is the number of ideas kept per fund.
const DefaultTop = 15

// Top keeps the rows with a positive delta, sorts them by delta descending
// (equal deltas keep input order) and ranks the first limit of them 1..n
// without gaps. limit <= 0 keeps all.
func Top(rows []Row, limit int) []Idea {
	var pos []Row
	for _, r := range rows {
		if r.Delta.IsPositive() {
			pos = append(pos, r)
		}
	}
	slices.SortStableFunc(pos, func(a, b Row) int {
		return b.Delta.Cmp(a.Delta)
	})
	if limit > 0 && len(pos) > limit {
		pos = pos[:limit]
	}
	out := make([]Idea, len(pos))
	for i, r := range pos {
		out[i] = Idea{
			Symbol:          r.Symbol,
			EtfWeight:       r.EtfWeight,
			BenchmarkWeight: r.BenchmarkWeight,
			Delta:           r.Delta,
			Rank:            i + 1,
		}
	}
	return out
}
