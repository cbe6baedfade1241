// Package etfwatch is the service layer of the ETF holdings pipeline. It
// wires acquisition, extraction, market data, rankings and model funds
// into the batch processes the CLI, the HTTP API, the MCP server and the
// daily scheduler run.
package etfwatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/etfwatch/acquire"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/dump"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/notify"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/pipeline"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/stocks"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/kit"
	"github.com/hazyhaar/etfwatch/observability"
	"github.com/hazyhaar/etfwatch/ratelimit"
)

// Service runs the etfwatch processes against one database.
type Service struct {
	cfg      *Config
	store    *store.Store
	recorder *observability.Recorder
	notifier *notify.Notifier
	pipeline *pipeline.Pipeline
	stocks   *stocks.Downloader
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[scheduler.Process]bool
	runs    sync.WaitGroup
}

// Option customises a Service.
type Option func(*options)

type options struct {
	browser  pipeline.Browser
	profiles stocks.Fetcher
	sender   notify.Sender
	now      func() time.Time
	recorder []observability.RecorderOption
}

// WithBrowser replaces the Chrome engine.
func WithBrowser(b pipeline.Browser) Option { return func(o *options) { o.browser = b } }

// WithProfiles replaces the stock-profile API client.
func WithProfiles(f stocks.Fetcher) Option { return func(o *options) { o.profiles = f } }

// WithSender replaces the Mailgun sender.
func WithSender(s notify.Sender) Option { return func(o *options) { o.sender = s } }

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithRecorderOptions tunes the status log recorder.
func WithRecorderOptions(opts ...observability.RecorderOption) Option {
	return func(o *options) { o.recorder = append(o.recorder, opts...) }
}

// New creates a Service on db, applying the schemas. The caller owns db
// and must Close the service before closing it.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, err
	}
	if err := observability.Init(db); err != nil {
		return nil, err
	}

	st := store.NewStore(db).WithClock(o.now)
	recOpts := append([]observability.RecorderOption{
		observability.WithLogger(logger),
		observability.WithClock(o.now),
	}, o.recorder...)
	rec := observability.NewRecorder(db, recOpts...)

	var n *notify.Notifier
	if o.sender != nil {
		n = notify.NewWithSender(o.sender, logger)
	} else {
		n = notify.New(cfg.Notify, logger)
	}

	if o.browser == nil {
		ac := cfg.Acquire
		ac.Logger = logger
		o.browser = pipeline.EngineBrowser{Engine: acquire.NewEngine(ac)}
	}
	if o.profiles == nil {
		limiter := ratelimit.New(
			ratelimit.WithLimit(cfg.Stocks.RateLimit),
			ratelimit.WithPeriod(cfg.Stocks.RatePeriod),
		)
		c, err := stocks.NewClient(cfg.Stocks.Client, limiter, logger)
		if err != nil {
			rec.Close()
			return nil, err
		}
		o.profiles = c
	}

	pl := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:    st,
		Browser:  o.browser,
		Dump:     dump.NewWriter(cfg.DumpDir),
		Recorder: rec,
		Notifier: n,
		Logger:   logger,
	}).WithClock(o.now)

	return &Service{
		cfg:      cfg,
		store:    st,
		recorder: rec,
		notifier: n,
		pipeline: pl,
		stocks:   stocks.NewDownloader(st, o.profiles, cfg.Stocks.Workers, logger),
		logger:   logger,
		now:      o.now,
		running:  make(map[scheduler.Process]bool),
	}, nil
}

// Store exposes the persistence layer, for seeding and inspection.
func (s *Service) Store() *store.Store { return s.store }

// Recorder exposes the status log and batch runs.
func (s *Service) Recorder() *observability.Recorder { return s.recorder }

// Config returns the effective configuration.
func (s *Service) Config() Config { return *s.cfg }

// Close waits for background runs and flushes the status log.
func (s *Service) Close() error {
	s.runs.Wait()
	return s.recorder.Close()
}

// Wait blocks until every run started with Start has returned.
func (s *Service) Wait() { s.runs.Wait() }

// Run executes one process and returns its report. A process cannot run
// twice at the same time.
func (s *Service) Run(ctx context.Context, p scheduler.Process) (any, error) {
	if !s.claim(p) {
		return nil, fmt.Errorf("%w: %s", ErrProcessRunning, p)
	}
	defer s.release(p)
	return s.run(ctx, p)
}

// Start launches a process in the background. Its context is detached
// from ctx cancellation; trace and activation values are kept.
func (s *Service) Start(ctx context.Context, p scheduler.Process) error {
	if !s.claim(p) {
		return fmt.Errorf("%w: %s", ErrProcessRunning, p)
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.release(p)
		if _, err := s.run(context.WithoutCancel(ctx), p); err != nil {
			s.logger.Error("etfwatch: background run failed", "process", p,
				"trace_id", kit.GetTraceID(ctx), "error", err)
		}
	}()
	return nil
}

// Running reports the processes in flight.
func (s *Service) Running() []scheduler.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduler.Process
	for _, p := range scheduler.Processes {
		if s.running[p] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) claim(p scheduler.Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[p] {
		return false
	}
	s.running[p] = true
	return true
}

func (s *Service) release(p scheduler.Process) {
	s.mu.Lock()
	delete(s.running, p)
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, p scheduler.Process) (any, error) {
	log := s.logger.With("process", p, "activation", kit.GetActivation(ctx), "transport", kit.GetTransport(ctx))
	start := time.Now()
	log.Info("etfwatch: run started")

	var out any
	var err error
	switch p {
	case scheduler.ProcessDownload:
		out, err = s.Download(ctx)
	case scheduler.ProcessCategorize:
		out, err = s.Categorize(ctx)
	case scheduler.ProcessStocks:
		out, err = s.Stocks(ctx)
	case scheduler.ProcessBestIdeas:
		out, err = s.BestIdeas(ctx)
	case scheduler.ProcessFunds:
		out, err = s.Funds(ctx)
	default:
		return nil, fmt.Errorf("etfwatch: unknown process %q", p)
	}
	if err != nil {
		s.recorder.Error(string(p), "run_failed", err.Error())
		log.Error("etfwatch: run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return out, err
	}
	log.Info("etfwatch: run done", "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Download runs every due provider.
func (s *Service) Download(ctx context.Context) (*pipeline.DownloadReport, error) {
	return s.pipeline.Download(ctx, kit.GetActivation(ctx))
}

// Categorize tags tickers from every due categorizer ETF.
func (s *Service) Categorize(ctx context.Context) (*pipeline.CategorizeReport, error) {
	return s.pipeline.Categorize(ctx, kit.GetActivation(ctx))
}

// today is the calendar day of the service clock.
func (s *Service) today() time.Time {
	t := s.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func etfLabel(p *store.Provider, e *store.ProviderEtf) string {
	return fmt.Sprintf("[Provider: '%s' (%d), ETF: '%s' (%d)]", p.Name, p.ID, e.Name, e.ID)
}

// note appends a line to a batch run, logging a failure to do so.
func (s *Service) note(ctx context.Context, batchID, line string) {
	if err := s.recorder.Note(ctx, batchID, line); err != nil {
		s.logger.Warn("etfwatch: batch note failed", "batch", batchID, "error", err)
	}
}

// checkpoint appends one batch log line per completed page.
func (s *Service) checkpoint(batchID, unit string) scheduler.Checkpoint {
	return func(ctx context.Context, page, size int) {
		s.note(ctx, batchID, fmt.Sprintf("page %d done: %d %s", page, size, unit))
	}
}
