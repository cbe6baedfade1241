package etfwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/stocks"
	"github.com/hazyhaar/etfwatch/kit"
)

// StocksReport summarises one stock download batch.
type StocksReport struct {
	BatchID string         `json:"batch_id"`
	Report  *stocks.Report `json:"report"`
}

// Stocks refreshes the profile and today's value of every valid held
// symbol. Symbols without a profile are marked invalid and listed in the
// batch log.
func (s *Service) Stocks(ctx context.Context) (*StocksReport, error) {
	process := string(scheduler.ProcessStocks)
	batch, err := s.recorder.StartBatch(ctx, process, kit.GetActivation(ctx))
	if err != nil {
		return nil, err
	}
	rep := &StocksReport{BatchID: batch.ID}

	symbols, err := s.store.ValidHeldSymbols(ctx)
	if err != nil {
		return rep, err
	}
	s.recorder.Status(process, fmt.Sprintf("Running stock downloader batch job ID %s - will process %d symbols.", batch.ID, len(symbols)))

	r, err := s.stocks.Run(ctx, symbols, s.today(), s.checkpoint(batch.ID, "symbols"))
	rep.Report = r
	if err != nil {
		return rep, err
	}
	if len(r.Missing) > 0 {
		s.note(ctx, batch.ID, r.MissingLine())
		s.recorder.Notice(process, r.MissingLine())
	}
	if len(r.Failed) > 0 {
		s.recorder.Notice(process, fmt.Sprintf("Failed symbols (%d), kept for the next run", len(r.Failed)))
	}
	if err := s.recorder.CompleteBatch(ctx, batch.ID); err != nil {
		return rep, err
	}
	s.recorder.Status(process, fmt.Sprintf("Finished stock downloader batch run: %d updated, %d values written.", r.Updated, r.Written))
	return rep, nil
}

// Action renders the report for the cron summary mail.
func (r *StocksReport) Action() string {
	if r.Report == nil {
		return ""
	}
	return fmt.Sprintf("Stock Download\n%s\nSymbols: %d, updated: %d, values written: %d\n%s\n\n",
		rule, r.Report.Symbols, r.Report.Updated, r.Report.Written, r.Report.MissingLine())
}
