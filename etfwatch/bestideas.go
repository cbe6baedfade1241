package etfwatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/ranking"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/kit"
)

// BestIdeasReport summarises one best ideas batch.
type BestIdeasReport struct {
	BatchID   string  `json:"batch_id"`
	Providers int     `json:"providers"`
	Etfs      int     `json:"etfs"`
	Ideas     int     `json:"ideas"`
	Summary   Summary `json:"summary"`
}

// BestIdeas ranks the overweight positions of every enabled provider ETF
// on the latest date both its holdings and market values exist. ETFs that
// fail a data-quality gate are recorded as problems and skipped.
func (s *Service) BestIdeas(ctx context.Context) (*BestIdeasReport, error) {
	process := string(scheduler.ProcessBestIdeas)
	batch, err := s.recorder.StartBatch(ctx, process, kit.GetActivation(ctx))
	if err != nil {
		return nil, err
	}
	rep := &BestIdeasReport{BatchID: batch.ID}

	providers, err := s.store.ActiveProviders(ctx)
	if err != nil {
		return rep, err
	}
	rep.Providers = len(providers)
	since := s.today().AddDate(0, 0, -s.cfg.Ranking.LookbackDays)
	priceDates, err := s.store.PriceDates(ctx, since)
	if err != nil {
		return rep, err
	}
	s.recorder.Status(process, fmt.Sprintf("Running Best Ideas Generator batch job ID %s - will process %d providers.", batch.ID, len(providers)))

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		etfs, err := s.store.ProviderEtfs(ctx, p.ID)
		if err != nil {
			return rep, err
		}
		rep.Etfs += len(etfs)
		for _, e := range etfs {
			n, err := s.ideasFor(ctx, e.ID, since, priceDates)
			r := classify(etfLabel(p, e), err)
			r.Count = n
			rep.Summary.Add(r)
			rep.Ideas += n
			s.recordResult(ctx, process, batch.ID, r)
		}
		s.recorder.Status(process, fmt.Sprintf("Completed processing provider %s", p.Name))
	}

	if err := s.recorder.CompleteBatch(ctx, batch.ID); err != nil {
		return rep, err
	}
	s.recorder.Status(process, fmt.Sprintf("Finished Best Ideas Generator batch run on %d etfs.", rep.Etfs))
	return rep, nil
}

// ideasFor ranks one provider ETF and returns the number of ideas stored.
func (s *Service) ideasFor(ctx context.Context, etfID int64, since time.Time, priceDates []time.Time) (int, error) {
	holdingDates, err := s.store.HoldingDates(ctx, etfID, since)
	if err != nil {
		return 0, err
	}
	day, err := ranking.LatestCommonDate(priceDates, holdingDates)
	if err != nil {
		return 0, err
	}
	holdings, err := s.store.Holdings(ctx, etfID, day)
	if err != nil {
		return 0, err
	}
	positions := make([]ranking.Position, len(holdings))
	symbols := make([]string, len(holdings))
	for i, h := range holdings {
		positions[i] = ranking.Position{Symbol: h.Ticker, Shares: h.Shares}
		symbols[i] = h.Ticker
	}
	values, err := s.store.TickerValues(ctx, symbols, day)
	if err != nil {
		return 0, err
	}
	quotes := make([]ranking.Quote, len(values))
	for i, v := range values {
		quotes[i] = ranking.Quote{Symbol: v.Symbol, Price: v.StockPrice, MarketCap: v.MarketCap}
	}

	rows, err := ranking.ActiveWeights(positions, quotes, s.cfg.Ranking.Gates)
	if err != nil {
		return 0, err
	}
	top := ranking.Top(rows, s.cfg.Ranking.Top)
	ideas := make([]store.BestIdea, len(top))
	for i, t := range top {
		ideas[i] = store.BestIdea{
			ProviderEtfID:   etfID,
			Symbol:          t.Symbol,
			ValueDate:       day,
			EtfWeight:       t.EtfWeight,
			BenchmarkWeight: t.BenchmarkWeight,
			Delta:           t.Delta,
			Ranking:         t.Rank,
		}
	}
	if _, err := s.store.UpsertBestIdeas(ctx, ideas); err != nil {
		return 0, err
	}
	return len(ideas), nil
}

// recordResult logs a non-success result to the status log and the batch.
func (s *Service) recordResult(ctx context.Context, process, batchID string, r Result) {
	switch r.Kind {
	case Success:
		return
	case Problem:
		s.recorder.Status(process, r.Line())
	default:
		s.recorder.Error(process, "item_failed", r.Line())
	}
	s.note(ctx, batchID, r.Line())
}

// Action renders the report for the cron summary mail.
func (r *BestIdeasReport) Action() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Best Ideas\n%s\nGenerated for %d of %d ETFs (%d ideas)\n",
		rule, r.Summary.Success, r.Etfs, r.Ideas)
	for _, l := range r.Summary.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("\n")
	return b.String()
}
