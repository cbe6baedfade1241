// Package rebalance turns the day's best ideas into a model fund's buys and
// sells.
package rebalance

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// Candidate is one provider ETF's vote for a symbol.
type Candidate struct {
	Symbol        string
	Name          string
	ProviderEtfID int64
	Delta         decimal.Decimal
}

// Fresh is a symbol of the aggregated ranking a fund rebalances against.
type Fresh struct {
	Symbol           string
	Name             string
	Ranking          int
	Appearances      int
	MaxDelta         decimal.Decimal
	TopProviderEtfID int64
	ProviderEtfIDs   []int64
}

// Aggregate merges candidates per symbol and ranks the symbols by the number
// of provider ETFs holding them as an idea, then by their largest delta,
// then by symbol. Ranks are 1-based without gaps.
func Aggregate(cands []Candidate) []Fresh {
	idx := make(map[string]int)
	var out []Fresh
	for _, c := range cands {
		i, ok := idx[c.Symbol]
		if !ok {
			idx[c.Symbol] = len(out)
			out = append(out, Fresh{
				Symbol:           c.Symbol,
				Name:             c.Name,
				MaxDelta:         c.Delta,
				TopProviderEtfID: c.ProviderEtfID,
			})
			i = len(out) - 1
		}
		f := &out[i]
		if slices.Contains(f.ProviderEtfIDs, c.ProviderEtfID) {
			continue
		}
		f.ProviderEtfIDs = append(f.ProviderEtfIDs, c.ProviderEtfID)
		f.Appearances++
		if c.Delta.GreaterThan(f.MaxDelta) {
			f.MaxDelta = c.Delta
			f.TopProviderEtfID = c.ProviderEtfID
		}
	}
	slices.SortFunc(out, func(a, b Fresh) int {
		if a.Appearances != b.Appearances {
			return cmp.Compare(b.Appearances, a.Appearances)
		}
		if c := b.MaxDelta.Cmp(a.MaxDelta); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})
	for i := range out {
		out[i].Ranking = i + 1
		slices.Sort(out[i].ProviderEtfIDs)
	}
	return out
}

// Params tunes a transition.
type Params struct {
	// Gap is how many places a held symbol may lose before it is sold.
	// Default: 2.
	Gap int `yaml:"gap"`
	// Target is the number of holdings a fund is filled up to. Default: 40.
	Target int `yaml:"target"`
	// MaxRank is the worst per-ETF rank an idea may have to be a candidate.
	// Default: 5.
	MaxRank int `yaml:"max_rank"`
}

// Defaults fills zero fields.
func (p *Params) Defaults() {
	if p.Gap <= 0 {
		p.Gap = 2
	}
	if p.Target <= 0 {
		p.Target = 40
	}
	if p.MaxRank <= 0 {
		p.MaxRank = 5
	}
}

// Held is a current position of a fund.
type Held struct {
	Symbol  string
	Ranking int
}

// Direction of a Change.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Change is one buy or sell. Fresh is set for buys.
type Change struct {
	Symbol    string
	Direction Direction
	Fresh     *Fresh
}

// Result is a fund's composition after a transition and the changes that
// led to it.
type Result struct {
	Holdings []Held
	Changes  []Change
}

// Plan computes a fund's transition. A held symbol is sold when it is
// missing from fresh or its fresh rank is at least Gap places worse than
// its held rank; otherwise it is kept at its held rank with no change
// record. The fund is then filled up to Target from fresh in rank order,
// skipping symbols kept or sold in this transition. fresh must be in rank
// order, as returned by Aggregate.
func Plan(held []Held, fresh []Fresh, p Params) Result {
	p.Defaults()
	byName := make(map[string]*Fresh, len(fresh))
	for i := range fresh {
		byName[fresh[i].Symbol] = &fresh[i]
	}

	var res Result
	seen := make(map[string]bool, len(held))
	for _, h := range held {
		// Held symbols, sold or kept, are never bought today: a fund records
		// at most one change per symbol and day.
		seen[h.Symbol] = true
		f, ok := byName[h.Symbol]
		if !ok || f.Ranking-h.Ranking >= p.Gap {
			res.Changes = append(res.Changes, Change{Symbol: h.Symbol, Direction: Sell})
			continue
		}
		res.Holdings = append(res.Holdings, h)
	}

	for i := range fresh {
		if len(res.Holdings) >= p.Target {
			break
		}
		f := &fresh[i]
		if seen[f.Symbol] {
			continue
		}
		seen[f.Symbol] = true
		res.Holdings = append(res.Holdings, Held{Symbol: f.Symbol, Ranking: f.Ranking})
		res.Changes = append(res.Changes, Change{Symbol: f.Symbol, Direction: Buy, Fresh: f})
	}
	return res
}
