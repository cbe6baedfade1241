package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers is the number of concurrent units. Default: 5.
	Workers int `yaml:"workers"`
	// PageSize is how many units make one checkpointed page. Default: 50.
	PageSize int `yaml:"page_size"`
}

func (c *PoolConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
}

// Checkpoint is called once every unit of a page has returned. page is
// 1-based and size is the number of units in that page.
type Checkpoint func(ctx context.Context, page, size int)

// Pool runs units of work on a fixed number of goroutines, one page at a
// time.
type Pool struct {
	cfg        PoolConfig
	checkpoint Checkpoint
	logger     *slog.Logger
}

// NewPool creates a Pool. checkpoint may be nil.
func NewPool(cfg PoolConfig, checkpoint Checkpoint, logger *slog.Logger) *Pool {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{cfg: cfg, checkpoint: checkpoint, logger: logger}
}

// Config returns the effective configuration.
func (p *Pool) Config() PoolConfig { return p.cfg }

// Run calls fn(ctx, i) for every i in [0, n). Units inside a page run
// concurrently and complete in any order; the next page starts only after
// the checkpoint for the previous one. A unit that panics is logged and
// counted as finished. Cancelling ctx stops new pages from starting, the
// page in flight always runs to completion.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	page := 0
	for start := 0; start < n; start += p.cfg.PageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+p.cfg.PageSize, n)
		page++
		p.runPage(ctx, start, end, fn)
		if p.checkpoint != nil {
			p.checkpoint(ctx, page, end-start)
		}
	}
	return nil
}

func (p *Pool) runPage(ctx context.Context, start, end int, fn func(context.Context, int)) {
	work := make(chan int)
	var wg sync.WaitGroup
	for range min(p.cfg.Workers, end-start) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				p.safeCall(ctx, i, fn)
			}
		}()
	}
	for i := start; i < end; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
}

func (p *Pool) safeCall(ctx context.Context, i int, fn func(context.Context, int)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scheduler: unit panicked", "index", i, "panic", r)
		}
	}()
	fn(ctx, i)
}
