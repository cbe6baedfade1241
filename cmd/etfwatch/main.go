// Command etfwatch collects ETF holdings from provider websites, ranks
// their best ideas and rebalances the model funds.
//
//	etfwatch [-config etfwatch.yaml] [-log-level info] <command> [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/hazyhaar/etfwatch/dbopen"
	"github.com/hazyhaar/etfwatch/etfwatch"

	_ "modernc.org/sqlite"
)

var (
	configPath = flag.String("config", "", "YAML config file (defaults apply when empty)")
	envFile    = flag.String("env", ".env", "dotenv file loaded before the config")
	logLevel   = flag.String("log-level", "", "debug, info, warn or error (default $LOG_LEVEL or info)")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range processCommands {
		commander.Register(c, "batch")
	}
	commander.Register(&cronCmd{}, "batch")
	commander.Register(&serveCmd{}, "server")
	commander.Register(&mcpCmd{}, "server")
	commander.Register(&validateCmd{}, "tools")

	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	cancel()
	os.Exit(int(status))
}

func newLogger() *slog.Logger {
	level := *logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr: stdout carries reports and the MCP stdio stream.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(logger *slog.Logger) (*etfwatch.Config, error) {
	etfwatch.LoadEnv(logger, *envFile)
	cfg, err := etfwatch.LoadConfigFile(*configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// openService opens the database and the service. closeFn releases both.
func openService(logger *slog.Logger) (svc *etfwatch.Service, closeFn func(), err error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, err
	}
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, fmt.Errorf("open db %s: %w", cfg.DBPath, err)
	}
	svc, err = etfwatch.New(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, func() {
		if err := svc.Close(); err != nil {
			logger.Error("close service", "error", err)
		}
		db.Close()
	}, nil
}

func fail(logger *slog.Logger, msg string, err error) subcommands.ExitStatus {
	logger.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}
