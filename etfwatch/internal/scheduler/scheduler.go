// Package scheduler decides what runs when: source cadences, the daily job
// plan, and the bounded worker pool the jobs run on.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Process names one batch job. The names double as batch_run.process values.
type Process string

const (
	ProcessDownload   Process = "downloader"
	ProcessCategorize Process = "categorize_tickers"
	ProcessStocks     Process = "stock_downloader"
	ProcessBestIdeas  Process = "best_ideas_generator"
	ProcessFunds      Process = "funds_update"
)

// Processes lists every job in the order a full run executes them.
var Processes = []Process{ProcessDownload, ProcessStocks, ProcessBestIdeas, ProcessFunds, ProcessCategorize}

// ParseProcess accepts a process name or its short CLI alias.
func ParseProcess(s string) (Process, error) {
	switch s {
	case "download", string(ProcessDownload):
		return ProcessDownload, nil
	case "categorize", string(ProcessCategorize):
		return ProcessCategorize, nil
	case "stocks", string(ProcessStocks):
		return ProcessStocks, nil
	case "bestideas", string(ProcessBestIdeas):
		return ProcessBestIdeas, nil
	case "funds", string(ProcessFunds):
		return ProcessFunds, nil
	}
	return "", fmt.Errorf("scheduler: unknown process %q", s)
}

// CategorizeDay is the day of month on which tickers are re-categorized.
const CategorizeDay = 15

// Plan returns the jobs due on t. Weekdays run the holdings pipeline end to
// end; the middle of the month adds the ticker categorization.
func Plan(t time.Time) []Process {
	var out []Process
	if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
		out = append(out, ProcessDownload, ProcessStocks, ProcessBestIdeas, ProcessFunds)
	}
	if t.Day() == CategorizeDay {
		out = append(out, ProcessCategorize)
	}
	return out
}

// Config configures the daily trigger.
type Config struct {
	// CheckInterval is how often the clock is polled. Default: 1 minute.
	CheckInterval time.Duration `yaml:"check_interval"`
	// At is the wall-clock time of the daily run, "15:04". Default: "06:00".
	At string `yaml:"at"`
	// Location is the time zone At is read in. Default: UTC.
	Location *time.Location `yaml:"-"`
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.At == "" {
		c.At = "06:00"
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// RunFunc executes the plan for one day.
type RunFunc func(ctx context.Context, at time.Time, plan []Process) error

// Scheduler fires RunFunc once a day at Config.At.
type Scheduler struct {
	run     RunFunc
	config  Config
	at      time.Duration
	logger  *slog.Logger
	now     func() time.Time
	lastDay string
}

// New creates a Scheduler.
func New(cfg Config, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	cfg.defaults()
	at, err := time.Parse("15:04", cfg.At)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid time of day %q: %w", cfg.At, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		run:    run,
		config: cfg,
		at:     time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Run polls the clock on a ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the day's plan when the trigger time has passed and the day has
// not run yet. It reports whether a run was started.
func (s *Scheduler) tick(ctx context.Context) bool {
	now := s.now().In(s.config.Location)
	today := now.Format(time.DateOnly)
	if today == s.lastDay {
		return false
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.config.Location)
	if now.Before(midnight.Add(s.at)) {
		return false
	}
	s.lastDay = today

	plan := Plan(now)
	if len(plan) == 0 {
		s.logger.Debug("scheduler: nothing planned", "day", today)
		return false
	}
	s.logger.Info("scheduler: daily run", "day", today, "plan", plan)
	if err := s.run(ctx, now, plan); err != nil {
		s.logger.Error("scheduler: daily run", "day", today, "error", err)
	}
	return true
}
