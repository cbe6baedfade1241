package stocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
)

// GroupSize is the number of symbols per checkpointed group.
const GroupSize = 100

// InvalidNotFound is the ticker invalid reason for symbols without a profile.
const InvalidNotFound = "profile not found"

// Fetcher returns the profile of a symbol. *Client implements it.
type Fetcher interface {
	Profile(ctx context.Context, symbol string) (*Profile, error)
}

// Report summarises one downloader run.
type Report struct {
	Symbols int `json:"symbols"`
	Updated int `json:"updated"`
	// Written counts ticker values actually changed by the run.
	Written int `json:"written"`
	// Missing symbols had no profile and are now marked invalid.
	Missing []string `json:"missing"`
	// Failed symbols hit a transient or storage error and keep their state.
	Failed []string `json:"failed"`
}

// MissingLine is the batch-log line listing missing symbols.
func (r *Report) MissingLine() string {
	return fmt.Sprintf("Missing symbols (%d): %s", len(r.Missing), strings.Join(r.Missing, ", "))
}

// Downloader refreshes ticker identity and values for a list of symbols.
type Downloader struct {
	store    *store.Store
	profiles Fetcher
	workers  int
	logger   *slog.Logger
}

// NewDownloader creates a Downloader running workers concurrent lookups.
func NewDownloader(st *store.Store, profiles Fetcher, workers int, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{store: st, profiles: profiles, workers: workers, logger: logger}
}

// Run fetches every symbol and stores the results dated day. checkpoint,
// which may be nil, is called after each group of GroupSize symbols.
func (d *Downloader) Run(ctx context.Context, symbols []string, day time.Time, checkpoint scheduler.Checkpoint) (*Report, error) {
	rep := &Report{Symbols: len(symbols)}
	var mu sync.Mutex

	pool := scheduler.NewPool(scheduler.PoolConfig{Workers: d.workers, PageSize: GroupSize}, checkpoint, d.logger)
	err := pool.Run(ctx, len(symbols), func(ctx context.Context, i int) {
		sym := symbols[i]
		written, err := d.one(ctx, sym, day)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, ErrNotFound):
			rep.Missing = append(rep.Missing, sym)
		case err != nil:
			d.logger.WarnContext(ctx, "stocks: symbol failed", "symbol", sym, "error", err)
			rep.Failed = append(rep.Failed, sym)
		default:
			rep.Updated++
			if written {
				rep.Written++
			}
		}
	})
	slices.Sort(rep.Missing)
	slices.Sort(rep.Failed)

	d.logger.InfoContext(ctx, "stocks: run done",
		"symbols", rep.Symbols, "updated", rep.Updated, "written", rep.Written,
		"missing", len(rep.Missing), "failed", len(rep.Failed))
	return rep, err
}

func (d *Downloader) one(ctx context.Context, symbol string, day time.Time) (bool, error) {
	p, err := d.profiles.Profile(ctx, symbol)
	if errors.Is(err, ErrNotFound) {
		if err := d.store.MarkTickerInvalid(ctx, symbol, InvalidNotFound); err != nil {
			return false, err
		}
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	err = d.store.UpdateTickerInfo(ctx, &store.Ticker{
		Symbol:   symbol,
		ISIN:     p.ISIN,
		CIK:      p.CIK,
		Exchange: p.Exchange,
		Name:     p.Name,
		Industry: p.Industry,
		Sector:   p.Sector,
	})
	if err != nil {
		return false, err
	}
	if !p.Price.Valid {
		return false, nil
	}
	return d.store.UpsertTickerValue(ctx, store.TickerValue{
		Symbol:     symbol,
		ValueDate:  day,
		StockPrice: p.Price,
		MarketCap:  p.MarketCap,
	})
}
