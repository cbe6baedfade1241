// Package pipeline acquires holdings files from provider websites and
// stores their extracted holdings.
//
// A provider is one unit of work: its landing page is opened once, then
// each of its ETF pages is landed and captured in turn on the same browser
// session. A failing ETF page is logged and skipped; the provider goes on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/etfwatch/acquire"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/dump"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/extract"
	"github.com/hazyhaar/etfwatch/mapping"
	"github.com/hazyhaar/etfwatch/observability"
)

// Session is one browser session. *acquire.Session implements it.
type Session interface {
	Land(ctx context.Context, script mapping.Script) error
	Capture(ctx context.Context, trigger mapping.Trigger) (*acquire.Download, error)
	DateOnPage(ctx context.Context, pd mapping.PageDate, format string) (time.Time, error)
	Close() error
}

// Browser opens sessions.
type Browser interface {
	Open(ctx context.Context, name string) (Session, error)
}

// EngineBrowser adapts an *acquire.Engine to Browser.
type EngineBrowser struct{ Engine *acquire.Engine }

func (b EngineBrowser) Open(ctx context.Context, name string) (Session, error) {
	s, err := b.Engine.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StatusLog receives the process log. *observability.Recorder implements it.
type StatusLog interface {
	Status(process, msg string)
	Notice(process, msg string)
	Error(process, code, msg string)
}

// Batches opens and closes audited batch runs. *observability.Recorder
// implements it.
type Batches interface {
	StartBatch(ctx context.Context, process, activation string) (*observability.BatchRun, error)
	Note(ctx context.Context, batchRunID, note string) error
	CompleteBatch(ctx context.Context, id string) error
}

// Notifier sends admin messages.
type Notifier interface {
	Admin(ctx context.Context, subject, text string)
}

// Process names used in the status log and batch runs.
const (
	ProcessDownload   = string(scheduler.ProcessDownload)
	ProcessCategorize = string(scheduler.ProcessCategorize)
)

// Config configures a Pipeline.
type Config struct {
	Pool scheduler.PoolConfig `yaml:"pool"`
	// Limit caps the providers of one download batch. Zero means all due.
	Limit int `yaml:"limit"`
}

// Pipeline runs provider downloads and ticker categorization.
type Pipeline struct {
	cfg     Config
	store   *store.Store
	browser Browser
	dump    *dump.Writer
	log     StatusLog
	batches Batches
	notify  Notifier
	logger  *slog.Logger
	now     func() time.Time
}

// Deps groups the collaborators of a Pipeline. Dump may be nil.
type Deps struct {
	Store    *store.Store
	Browser  Browser
	Dump     *dump.Writer
	Recorder *observability.Recorder
	Notifier Notifier
	Logger   *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config, d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	p := &Pipeline{
		cfg:     cfg,
		store:   d.Store,
		browser: d.Browser,
		dump:    d.Dump,
		notify:  d.Notifier,
		logger:  d.Logger,
		now:     time.Now,
	}
	if d.Recorder != nil {
		p.log, p.batches = d.Recorder, d.Recorder
	}
	return p
}

// WithClock replaces the wall clock, for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// ProviderResult is the outcome of one provider.
type ProviderResult struct {
	ProviderID int64
	Etfs       int
	Downloaded int
	Holdings   int
	// Skipped lists the ETF pages that failed, keyed by ETF ID.
	Skipped map[int64]error
}

// DownloadProvider acquires every ETF page of p. A returned error means the
// provider as a whole could not run; per-ETF failures are in Skipped. The
// provider's last run is stamped only when it landed and at least one page
// was stored or produced no file.
func (pl *Pipeline) DownloadProvider(ctx context.Context, p *store.Provider, runDate time.Time) (*ProviderResult, error) {
	log := pl.logger.With("provider_id", p.ID, "provider", p.Name)
	res := &ProviderResult{ProviderID: p.ID, Skipped: make(map[int64]error)}

	if strings.TrimSpace(p.Script.URL) == "" {
		return res, fmt.Errorf("%w: provider %d has no start url", extract.ErrMissingConfig, p.ID)
	}
	if p.Domain == "" {
		d, err := Domain(p.Script.URL)
		if err != nil {
			pl.admin(ctx, "Failed to get Domain from URL",
				fmt.Sprintf("Failed to parse web page URL %s and get the domain.", p.Script.URL))
			return res, err
		}
		if err := pl.store.SetProviderDomain(ctx, p.ID, d); err != nil {
			return res, err
		}
		p.Domain = d
	}

	landing, err := LandingScript(p.Script)
	if err != nil {
		return res, err
	}
	etfs, err := pl.store.ProviderEtfs(ctx, p.ID)
	if err != nil {
		return res, err
	}
	res.Etfs = len(etfs)
	pl.status(ProcessDownload, fmt.Sprintf("Starting to collect holdings from provider '%s'", p.Name))

	sess, err := pl.browser.Open(ctx, fmt.Sprintf("provider-%d", p.ID))
	if err != nil {
		return res, fmt.Errorf("pipeline: open browser: %w", err)
	}
	defer sess.Close()

	if err := sess.Land(ctx, landing); err != nil {
		if !errors.Is(err, acquire.ErrTransient) {
			return res, err
		}
		// Not stamped: the provider stays due for the next batch.
		pl.notice(ProcessDownload, fmt.Sprintf("No holdings downloads identified when scraping URL '%s': %v", p.Name, err))
		return res, nil
	}
	log.Info("pipeline: provider landed", "etfs", len(etfs))

	done := 0
	for _, etf := range etfs {
		if ctx.Err() != nil {
			break
		}
		n, err := pl.downloadEtf(ctx, sess, p, etf, runDate)
		if err == nil {
			done++
		}
		switch {
		case err != nil:
			res.Skipped[etf.ID] = err
			msg := fmt.Sprintf("%s\t%v", etfLabel(p, etf), err)
			if errors.Is(err, acquire.ErrTransient) {
				pl.notice(ProcessDownload, msg)
			} else {
				pl.fail(ProcessDownload, "etf_failed", msg)
			}
			log.Warn("pipeline: etf skipped", "etf_id", etf.ID, "error", err)
		case n > 0:
			res.Downloaded++
			res.Holdings += n
		}
	}

	if res.Downloaded == 0 {
		pl.notice(ProcessDownload, fmt.Sprintf("No holdings downloads identified when scraping URL '%s'", p.Name))
	} else {
		pl.status(ProcessDownload, fmt.Sprintf("Completed collection for the provider '%s': %d of %d ETFs",
			p.Name, res.Downloaded, res.Etfs))
	}
	// Every page failed: the provider stays due for the next batch.
	if done == 0 && len(etfs) > 0 {
		return res, nil
	}
	return res, pl.store.MarkProviderRun(ctx, p.ID, pl.now())
}

// downloadEtf runs one ETF page and returns the number of holdings stored.
// A page that produced no file stores nothing and is not an error.
func (pl *Pipeline) downloadEtf(ctx context.Context, sess Session, p *store.Provider, etf *store.ProviderEtf, runDate time.Time) (int, error) {
	src, err := ResolveSource(etf.Script, &p.Script)
	if err != nil {
		return 0, err
	}
	if err := sess.Land(ctx, src.Script); err != nil {
		return 0, err
	}

	opts := extract.Options{ProviderEtfID: etf.ID, RunDate: runDate}
	if src.Mapping.Date.OnPage() && src.Mapping.Date.Page != nil {
		d, err := sess.DateOnPage(ctx, *src.Mapping.Date.Page, src.Mapping.Date.Format)
		if err != nil {
			return 0, fmt.Errorf("ETF holdings date from page could not be confirmed: %w", err)
		}
		opts.PageDate = d
	}

	dl, err := sess.Capture(ctx, src.Trigger)
	if err != nil {
		return 0, err
	}
	if dl == nil || len(dl.Data) == 0 {
		pl.notice(ProcessDownload, fmt.Sprintf("%s\tno file downloaded", etfLabel(p, etf)))
		return 0, nil
	}
	pl.keep(ctx, p, etf, src, dl)

	rows, err := extract.Transform(string(src.Format), src.Mapping,
		&extract.Payload{Filename: dl.Filename, Data: dl.Data}, opts)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		pl.notice(ProcessDownload, fmt.Sprintf("%s\tfile %s has no holdings", etfLabel(p, etf), dl.Filename))
		return 0, nil
	}
	n, err := pl.store.ReplaceHoldings(ctx, etf.ID, toStore(rows))
	if err != nil {
		return 0, err
	}
	return n, pl.store.MarkEtfDownloaded(ctx, etf.ID, pl.now())
}

func (pl *Pipeline) keep(ctx context.Context, p *store.Provider, etf *store.ProviderEtf, src *Source, dl *acquire.Download) {
	if !pl.dump.Enabled() {
		return
	}
	_, err := pl.dump.Write(ctx, dump.Metadata{
		ProviderID: p.ID,
		EtfID:      etf.ID,
		EtfName:    etf.Name,
		SourceURL:  src.Script.URL,
		Format:     string(src.Format),
		Filename:   dl.Filename,
		CapturedAt: pl.now(),
	}, dl.Data)
	if err != nil {
		pl.logger.Warn("pipeline: dump failed", "etf_id", etf.ID, "error", err)
	}
}

func toStore(rows []extract.Holding) []store.Holding {
	out := make([]store.Holding, len(rows))
	for i, h := range rows {
		out[i] = store.Holding{
			ProviderEtfID: h.ProviderEtfID,
			TradeDate:     h.TradeDate,
			Ticker:        h.Ticker,
			Shares:        h.Shares,
			MarketValue:   h.MarketValue,
			Weight:        h.Weight,
			Extra:         h.Extra,
		}
	}
	return out
}

// DownloadReport summarises one download batch.
type DownloadReport struct {
	BatchID   string
	Providers int
	Failed    int
	Stats     []store.CollectionStat
	// Total is the number of ETFs downloaded since the batch started.
	Total int
}

// StatsText renders one line per provider: ID, count, name.
func (r *DownloadReport) StatsText() string {
	var b strings.Builder
	for _, s := range r.Stats {
		count := fmt.Sprintf("%d out of %d", s.Downloaded, s.Available)
		if s.Downloaded == s.Available {
			count = fmt.Sprintf("All (%d)", s.Available)
		}
		fmt.Fprintf(&b, "%-8d%-20s%s\n", s.ProviderID, count, s.Name)
	}
	return b.String()
}

// Download runs every due provider on the worker pool. Only bookkeeping
// failures are returned; provider failures are logged, mailed and counted.
func (pl *Pipeline) Download(ctx context.Context, activation string) (*DownloadReport, error) {
	start := pl.now()
	rep := &DownloadReport{}

	batch, err := pl.startBatch(ctx, ProcessDownload, activation)
	if err != nil {
		return nil, err
	}
	rep.BatchID = batch

	providers, err := pl.store.DueProviders(ctx, start, pl.cfg.Limit)
	if err != nil {
		return nil, err
	}
	rep.Providers = len(providers)
	pl.status(ProcessDownload, fmt.Sprintf("Running downloader batch job ID %s - will process %d items.", batch, len(providers)))

	var mu sync.Mutex
	pool := scheduler.NewPool(pl.cfg.Pool, pl.checkpoint(batch, "providers"), pl.logger)
	runErr := pool.Run(ctx, len(providers), func(ctx context.Context, i int) {
		p := providers[i]
		if _, err := pl.DownloadProvider(ctx, p, start); err != nil {
			msg := fmt.Sprintf("The processing of the provider '%s' has not completed. %v", p.Name, err)
			pl.fail(ProcessDownload, "provider_failed", msg)
			pl.admin(ctx, "Failed holdings collection", msg)
			mu.Lock()
			rep.Failed++
			mu.Unlock()
		}
	})

	ids := make([]int64, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}
	if rep.Stats, err = pl.store.CollectionStats(ctx, ids, start); err != nil {
		return rep, err
	}
	for _, s := range rep.Stats {
		rep.Total += s.Downloaded
	}
	if _, err := pl.store.SyncTickers(ctx); err != nil {
		return rep, err
	}
	if err := pl.completeBatch(ctx, batch); err != nil {
		return rep, err
	}
	pl.status(ProcessDownload, fmt.Sprintf("Finished downloader batch run on %d items.\n%s", len(providers), rep.StatsText()))
	return rep, runErr
}

func etfLabel(p *store.Provider, etf *store.ProviderEtf) string {
	return fmt.Sprintf("[Provider: '%s' (%d), ETF: '%s' (%d)]", p.Name, p.ID, etf.Name, etf.ID)
}

func (pl *Pipeline) startBatch(ctx context.Context, process, activation string) (string, error) {
	if pl.batches == nil {
		return "", nil
	}
	b, err := pl.batches.StartBatch(ctx, process, activation)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (pl *Pipeline) completeBatch(ctx context.Context, id string) error {
	if pl.batches == nil || id == "" {
		return nil
	}
	return pl.batches.CompleteBatch(ctx, id)
}

func (pl *Pipeline) checkpoint(batch, unit string) scheduler.Checkpoint {
	return func(ctx context.Context, page, size int) {
		if pl.batches == nil || batch == "" {
			return
		}
		note := fmt.Sprintf("page %d done: %d %s", page, size, unit)
		if err := pl.batches.Note(ctx, batch, note); err != nil {
			pl.logger.Warn("pipeline: batch note failed", "batch", batch, "error", err)
		}
	}
}

func (pl *Pipeline) status(process, msg string) {
	if pl.log != nil {
		pl.log.Status(process, msg)
	}
}

func (pl *Pipeline) notice(process, msg string) {
	if pl.log != nil {
		pl.log.Notice(process, msg)
	}
}

func (pl *Pipeline) fail(process, code, msg string) {
	if pl.log != nil {
		pl.log.Error(process, code, msg)
	}
}

func (pl *Pipeline) admin(ctx context.Context, subject, text string) {
	if pl.notify != nil {
		pl.notify.Admin(ctx, subject, text)
	}
}
