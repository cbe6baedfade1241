package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/etfwatch/acquire"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/extract"
)

// CategorizeReport summarises one categorization batch.
type CategorizeReport struct {
	BatchID string
	Synced  int
	Etfs    int
	Done    int
	// Symbols is the number of symbols tagged across all categorizers.
	Symbols int
}

// Categorize tags tickers with the style and cap type of every due
// categorizer ETF. Tickers are first synced from stored holdings.
// Categorizers run one after the other, each on its own session.
func (pl *Pipeline) Categorize(ctx context.Context, activation string) (*CategorizeReport, error) {
	rep := &CategorizeReport{}
	batch, err := pl.startBatch(ctx, ProcessCategorize, activation)
	if err != nil {
		return nil, err
	}
	rep.BatchID = batch

	if rep.Synced, err = pl.store.SyncTickers(ctx); err != nil {
		return rep, err
	}
	etfs, err := pl.store.DueCategorizeEtfs(ctx, pl.now())
	if err != nil {
		return rep, err
	}
	rep.Etfs = len(etfs)
	pl.status(ProcessCategorize, fmt.Sprintf("Running categorize tickers batch job ID %s - will process %d items.", batch, len(etfs)))

	for _, c := range etfs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := pl.categorizeOne(ctx, c)
		if err != nil {
			msg := fmt.Sprintf("[Categorizer: '%s' (%d)]\t%v", c.Name, c.ID, err)
			if errors.Is(err, acquire.ErrTransient) {
				pl.notice(ProcessCategorize, msg)
			} else {
				pl.fail(ProcessCategorize, "categorizer_failed", msg)
			}
			continue
		}
		rep.Done++
		rep.Symbols += n
	}

	if err := pl.completeBatch(ctx, batch); err != nil {
		return rep, err
	}
	pl.status(ProcessCategorize, fmt.Sprintf("Finished categorize tickers batch run on %d items. Processed %d tickers.", len(etfs), rep.Symbols))
	return rep, nil
}

// categorizeOne returns the number of symbols tagged by c. A categorizer
// without cap or style type only refreshes its download stamp.
func (pl *Pipeline) categorizeOne(ctx context.Context, c *store.CategorizeEtf) (int, error) {
	src, err := ResolveSource(c.Script, nil)
	if err != nil {
		return 0, err
	}
	pl.status(ProcessCategorize, fmt.Sprintf("Processing '%s' ETF for categorization.", c.Name))

	sess, err := pl.browser.Open(ctx, fmt.Sprintf("categorizer-%d", c.ID))
	if err != nil {
		return 0, fmt.Errorf("pipeline: open browser: %w", err)
	}
	defer sess.Close()

	if err := sess.Land(ctx, src.Script); err != nil {
		return 0, err
	}
	dl, err := sess.Capture(ctx, src.Trigger)
	if err != nil {
		return 0, err
	}
	if dl == nil || len(dl.Data) == 0 {
		pl.notice(ProcessCategorize, fmt.Sprintf("[Categorizer: '%s' (%d)]\tno file downloaded", c.Name, c.ID))
		return 0, nil
	}

	t, err := extract.Read(src.Format, dl.Data, src.Mapping.Sheet)
	if err != nil {
		return 0, err
	}
	symbols, err := extract.Tickers(t, src.Mapping)
	if err != nil {
		return 0, err
	}

	n := 0
	if c.CapType != "" && c.StyleType != "" {
		if _, err := pl.store.CategorizeTickers(ctx, symbols, c.CapType, c.StyleType); err != nil {
			return 0, err
		}
		n = len(symbols)
	}
	return n, pl.store.MarkCategorizeDownloaded(ctx, c.ID, pl.now())
}
