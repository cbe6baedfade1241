package etfwatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/rebalance"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/kit"
)

// FundResult is the transition of one model fund.
type FundResult struct {
	Fund     *store.Fund               `json:"fund"`
	Result   Result                    `json:"result"`
	Holdings []store.FundHolding       `json:"holdings"`
	Changes  []store.FundHoldingChange `json:"changes"`
}

// FundsReport summarises one funds update batch.
type FundsReport struct {
	BatchID string       `json:"batch_id"`
	Day     time.Time    `json:"day"`
	Funds   []FundResult `json:"funds"`
	Summary Summary      `json:"summary"`
	// Names maps changed symbols to their ticker names, for Text.
	Names map[string]string `json:"-"`
}

// Funds rebalances every model fund on the ideas of its style and cap
// type. Each fund is written for today in one transaction; running twice
// on the same day replaces that day.
func (s *Service) Funds(ctx context.Context) (*FundsReport, error) {
	process := string(scheduler.ProcessFunds)
	batch, err := s.recorder.StartBatch(ctx, process, kit.GetActivation(ctx))
	if err != nil {
		return nil, err
	}
	day := s.today()
	rep := &FundsReport{BatchID: batch.ID, Day: day, Names: map[string]string{}}

	funds, err := s.store.Funds(ctx)
	if err != nil {
		return rep, err
	}
	s.recorder.Status(process, fmt.Sprintf("Running funds update batch job ID %s - will process %d funds.", batch.ID, len(funds)))

	for _, f := range funds {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		fr, err := s.rebalanceFund(ctx, f, day)
		fr.Result = classify(fmt.Sprintf("[Fund: '%s' (%d)]", f.Name, f.ID), err)
		fr.Result.Count = len(fr.Changes)
		rep.Summary.Add(fr.Result)
		rep.Funds = append(rep.Funds, fr)
		s.recordResult(ctx, process, batch.ID, fr.Result)
	}

	var symbols []string
	for _, fr := range rep.Funds {
		for _, c := range fr.Changes {
			symbols = append(symbols, c.Symbol)
		}
	}
	if len(symbols) > 0 {
		tickers, err := s.store.Tickers(ctx, symbols)
		if err != nil {
			return rep, err
		}
		for sym, t := range tickers {
			rep.Names[sym] = t.Name
		}
	}

	if err := s.recorder.CompleteBatch(ctx, batch.ID); err != nil {
		return rep, err
	}
	s.recorder.Status(process, fmt.Sprintf("Finished funds update batch run on %d funds.", len(funds)))
	return rep, nil
}

func (s *Service) rebalanceFund(ctx context.Context, f *store.Fund, day time.Time) (FundResult, error) {
	fr := FundResult{Fund: f}
	since := day.AddDate(0, 0, -s.cfg.Ranking.CandidateDays)
	cands, err := s.store.IdeaCandidates(ctx, since, s.cfg.Rebalance.MaxRank, f.StyleType, f.CapType)
	if err != nil {
		return fr, err
	}
	votes := make([]rebalance.Candidate, len(cands))
	for i, c := range cands {
		votes[i] = rebalance.Candidate{Symbol: c.Symbol, Name: c.Name, ProviderEtfID: c.ProviderEtfID, Delta: c.Delta}
	}
	fresh := rebalance.Aggregate(votes)

	current, err := s.store.FundHoldingsBefore(ctx, f.ID, day)
	if err != nil {
		return fr, err
	}
	held := make([]rebalance.Held, len(current))
	for i, h := range current {
		held[i] = rebalance.Held{Symbol: h.Symbol, Ranking: h.Ranking}
	}

	plan := rebalance.Plan(held, fresh, s.cfg.Rebalance)
	for _, h := range plan.Holdings {
		fr.Holdings = append(fr.Holdings, store.FundHolding{FundID: f.ID, Symbol: h.Symbol, HoldingDate: day, Ranking: h.Ranking})
	}
	for _, c := range plan.Changes {
		ch := store.FundHoldingChange{FundID: f.ID, Symbol: c.Symbol, ChangeDate: day, Direction: store.Sell}
		if c.Direction == rebalance.Buy {
			ch.Direction = store.Buy
			ch.Ranking = c.Fresh.Ranking
			ch.Appearances = c.Fresh.Appearances
			ch.MaxDelta = decimal.NewNullDecimal(c.Fresh.MaxDelta)
			ch.TopDeltaProviderEtfID = c.Fresh.TopProviderEtfID
			ch.AllProviderEtfIDs = c.Fresh.ProviderEtfIDs
		}
		fr.Changes = append(fr.Changes, ch)
	}
	if err := s.store.WriteFundDay(ctx, f.ID, day, fr.Holdings, fr.Changes); err != nil {
		return fr, err
	}
	return fr, nil
}

const fundRowFormat = "%-12s%-15s%-12s%-15s%-10s%s\n"

// Text renders the changes of every fund as the plain-text report mailed
// after the cron run.
func (r *FundsReport) Text() string {
	var b strings.Builder
	for _, fr := range r.Funds {
		b.WriteString(fr.Fund.Name + "\n")
		b.WriteString(strings.Repeat("=", 20) + "\n")
		if fr.Result.Kind != Success {
			b.WriteString(fr.Result.Line() + "\n\n\n")
			continue
		}
		if len(fr.Changes) == 0 {
			b.WriteString("No changes\n\n\n")
			continue
		}
		fmt.Fprintf(&b, fundRowFormat, "Direction", "Date", "Ranking", "Appearances", "Symbol", "Name")
		for _, c := range fr.Changes {
			fmt.Fprintf(&b, fundRowFormat,
				string(c.Direction),
				c.ChangeDate.Format(time.DateOnly),
				orDash(c.Ranking),
				orDash(c.Appearances),
				c.Symbol,
				orDashString(r.Names[c.Symbol]))
		}
		b.WriteString(strings.Repeat("-", 30) + "\n\n")
	}
	return b.String()
}

// Action renders the report for the cron summary mail.
func (r *FundsReport) Action() string {
	return fmt.Sprintf("Fund Updates\n%s\n%s\n", rule, r.Text())
}

func orDash(n int) string {
	if n == 0 {
		return "---"
	}
	return strconv.Itoa(n)
}

func orDashString(s string) string {
	if s == "" {
		return "---"
	}
	return s
}
