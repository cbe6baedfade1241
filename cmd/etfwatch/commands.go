package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/etfwatch/etfwatch"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/store"
	"github.com/hazyhaar/etfwatch/kit"
)

// processCmd runs one batch process and prints its report.
type processCmd struct {
	name     string
	process  scheduler.Process
	synopsis string
	asJSON   bool
}

var processCommands = []*processCmd{
	{name: "download", process: scheduler.ProcessDownload, synopsis: "download the holdings of every due provider"},
	{name: "categorize", process: scheduler.ProcessCategorize, synopsis: "tag tickers with the style and cap type of the categorizer ETFs"},
	{name: "stocks", process: scheduler.ProcessStocks, synopsis: "refresh ticker profiles, prices and market caps"},
	{name: "bestideas", process: scheduler.ProcessBestIdeas, synopsis: "rank the overweight positions of every provider ETF"},
	{name: "funds", process: scheduler.ProcessFunds, synopsis: "rebalance the model funds on the latest best ideas"},
}

func (c *processCmd) Name() string     { return c.name }
func (c *processCmd) Synopsis() string { return c.synopsis }
func (c *processCmd) Usage() string {
	return fmt.Sprintf("etfwatch %s [-json]\n\n  %s.\n", c.name, c.synopsis)
}

func (c *processCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print the report as JSON")
}

func (c *processCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	logger := newLogger()
	svc, closeSvc, err := openService(logger)
	if err != nil {
		return fail(logger, "etfwatch: open", err)
	}
	defer closeSvc()

	out, err := svc.Run(kit.WithActivation(ctx, kit.ActivationManual), c.process)
	if err != nil {
		return fail(logger, "etfwatch: "+c.name, err)
	}
	if funds, ok := out.(*etfwatch.FundsReport); ok && !c.asJSON {
		fmt.Print(funds.Text())
		return subcommands.ExitSuccess
	}
	return printJSON(out)
}

type cronCmd struct {
	now bool
}

func (*cronCmd) Name() string     { return "cron" }
func (*cronCmd) Synopsis() string { return "run the daily plan at the configured time" }
func (*cronCmd) Usage() string {
	return `etfwatch cron [-now]

  Weekdays: download, stocks, bestideas, funds. The 15th adds categorize.
  Failures and completions are mailed to the administrator.
  With -now, today's plan runs once and the command exits.
`
}

func (c *cronCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.now, "now", false, "run today's plan immediately and exit")
}

func (c *cronCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	logger := newLogger()
	svc, closeSvc, err := openService(logger)
	if err != nil {
		return fail(logger, "etfwatch: open", err)
	}
	defer closeSvc()

	if c.now {
		at := time.Now()
		if err := svc.RunDaily(ctx, at, scheduler.Plan(at)); err != nil {
			return fail(logger, "etfwatch: cron", err)
		}
		return subcommands.ExitSuccess
	}
	sched, err := scheduler.New(svc.Config().Scheduler, svc.RunDaily, logger)
	if err != nil {
		return fail(logger, "etfwatch: scheduler", err)
	}
	logger.Info("etfwatch: cron waiting", "at", svc.Config().Scheduler.At)
	sched.Run(ctx)
	return subcommands.ExitSuccess
}

type serveCmd struct {
	cron bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the HTTP API" }
func (*serveCmd) Usage() string {
	return `etfwatch serve [-cron]

  Serves /health and /api/*. POST /api/run/{process} needs the admin
  bearer token. With -cron the daily scheduler runs in the same process.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.cron, "cron", false, "also run the daily scheduler")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	logger := newLogger()
	svc, closeSvc, err := openService(logger)
	if err != nil {
		return fail(logger, "etfwatch: open", err)
	}
	defer closeSvc()
	cfg := svc.Config()

	if c.cron {
		sched, err := scheduler.New(cfg.Scheduler, svc.RunDaily, logger)
		if err != nil {
			return fail(logger, "etfwatch: scheduler", err)
		}
		go sched.Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("etfwatch: http listening", "addr", cfg.HTTP.Addr, "run_api", cfg.HTTP.AdminTokenHash != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fail(logger, "etfwatch: http", err)
	}
	return subcommands.ExitSuccess
}

type mcpCmd struct{}

func (*mcpCmd) Name() string             { return "mcp" }
func (*mcpCmd) Synopsis() string         { return "serve the MCP tools over stdio" }
func (*mcpCmd) Usage() string            { return "etfwatch mcp\n" }
func (*mcpCmd) SetFlags(f *flag.FlagSet) {}

func (*mcpCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	logger := newLogger()
	svc, closeSvc, err := openService(logger)
	if err != nil {
		return fail(logger, "etfwatch: open", err)
	}
	defer closeSvc()

	srv := mcp.NewServer(&mcp.Implementation{Name: "etfwatch", Version: "1.0.0"}, nil)
	svc.RegisterMCP(srv)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fail(logger, "etfwatch: mcp", err)
	}
	return subcommands.ExitSuccess
}

type validateCmd struct {
	source bool
}

func (*validateCmd) Name() string     { return "validate" }
func (*validateCmd) Synopsis() string { return "validate mapping or source documents" }
func (*validateCmd) Usage() string {
	return `etfwatch validate [-source] <file.json>...

  Checks each file without network access and prints what it describes.
  By default a file holds a mapping document. With -source it holds a
  provider or ETF record: url, events, trigger_download, mapping and
  file_format, as stored in the database.
`
}

func (c *validateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.source, "source", false, "files are source records, not bare mappings")
}

func (c *validateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	status := subcommands.ExitSuccess
	for _, name := range f.Args() {
		data, err := os.ReadFile(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			status = subcommands.ExitFailure
			continue
		}
		var rep any
		if c.source {
			var s store.Script
			if err = json.Unmarshal(data, &s); err == nil {
				rep, err = etfwatch.ValidateSource(s, nil)
			}
		} else {
			rep, err = etfwatch.ValidateMapping(data)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s: ok\n", name)
		printJSON(rep)
	}
	return status
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
