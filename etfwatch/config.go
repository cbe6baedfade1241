package etfwatch

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/etfwatch/acquire"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/notify"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/pipeline"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/ranking"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/rebalance"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/scheduler"
	"github.com/hazyhaar/etfwatch/etfwatch/internal/stocks"
	"github.com/hazyhaar/etfwatch/ratelimit"
	"github.com/hazyhaar/etfwatch/shield"
)

// Config configures the etfwatch service.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// DumpDir keeps a copy of every captured file. Empty disables it.
	DumpDir string `yaml:"dump_dir"`

	Acquire   acquire.Config   `yaml:"acquire"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Stocks    StocksConfig     `yaml:"stocks"`
	Ranking   RankingConfig    `yaml:"ranking"`
	Rebalance rebalance.Params `yaml:"rebalance"`
	Notify    notify.Config    `yaml:"notify"`
	HTTP      HTTPConfig       `yaml:"http"`

	// LogRetentionDays bounds the status log. Zero keeps everything.
	LogRetentionDays int `yaml:"log_retention_days"`
}

// StocksConfig configures the profile client and its quota.
type StocksConfig struct {
	Client stocks.Config `yaml:"client"`
	// RateLimit calls per RatePeriod. Default: 200 per minute.
	RateLimit  int           `yaml:"rate_limit"`
	RatePeriod time.Duration `yaml:"rate_period"`
	// Workers run lookups concurrently. Default: 5.
	Workers int `yaml:"workers"`
}

// RankingConfig configures the best ideas generator.
type RankingConfig struct {
	Gates ranking.Gates `yaml:"gates"`
	// Top ideas kept per provider ETF. Default: 15.
	Top int `yaml:"top"`
	// LookbackDays bounds how old the common holdings/price date may be.
	// Default: 5.
	LookbackDays int `yaml:"lookback_days"`
	// CandidateDays bounds how old the ideas a fund rebalances on may be.
	// Default: 7.
	CandidateDays int `yaml:"candidate_days"`
}

// HTTPConfig configures `etfwatch serve`.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// AdminTokenHash is the bcrypt hash of the bearer token allowed to
	// start runs. Empty disables POST /api/run.
	AdminTokenHash string            `yaml:"admin_token_hash"`
	Rate           shield.RateConfig `yaml:"rate"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "data/etfwatch.db"
	}
	if c.Stocks.RateLimit <= 0 {
		c.Stocks.RateLimit = ratelimit.DefaultLimit
	}
	if c.Stocks.RatePeriod <= 0 {
		c.Stocks.RatePeriod = ratelimit.DefaultPeriod
	}
	if c.Stocks.Workers <= 0 {
		c.Stocks.Workers = 5
	}
	if c.Ranking.Top <= 0 {
		c.Ranking.Top = ranking.DefaultTop
	}
	if c.Ranking.LookbackDays <= 0 {
		c.Ranking.LookbackDays = 5
	}
	if c.Ranking.CandidateDays <= 0 {
		c.Ranking.CandidateDays = 7
	}
	c.Rebalance.Defaults()
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
}

// LoadConfigFile reads a YAML config and fills in defaults. An empty path
// yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("etfwatch: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("etfwatch: parse config %s: %w", path, err)
		}
	}
	cfg.defaults()
	return cfg, nil
}

// LoadEnv loads .env files into the process environment. A missing file
// is not an error.
func LoadEnv(logger *slog.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Debug("etfwatch: no .env loaded, using process environment", "error", err)
	}
}

// ApplyEnv overrides config fields from the environment. Secrets are
// expected here rather than in the YAML file.
func (c *Config) ApplyEnv() {
	c.DBPath = getEnv("ETFWATCH_DB", c.DBPath)
	c.DumpDir = getEnv("ETFWATCH_DUMP_DIR", c.DumpDir)

	c.Acquire.RemoteURL = getEnv("CHROME_REMOTE_URL", c.Acquire.RemoteURL)
	c.Acquire.NavTimeout = getEnvAsDuration("ACQUIRE_NAV_TIMEOUT", c.Acquire.NavTimeout)
	c.Acquire.DownloadTimeout = getEnvAsDuration("ACQUIRE_DOWNLOAD_TIMEOUT", c.Acquire.DownloadTimeout)

	c.Pipeline.Pool.Workers = getEnvAsInt("ETFWATCH_WORKERS", c.Pipeline.Pool.Workers)
	c.Pipeline.Limit = getEnvAsInt("ETFWATCH_PROVIDER_LIMIT", c.Pipeline.Limit)
	c.Scheduler.At = getEnv("ETFWATCH_RUN_AT", c.Scheduler.At)

	c.Stocks.Client.BaseURL = getEnv("FMP_BASE_URL", c.Stocks.Client.BaseURL)
	c.Stocks.Client.APIKey = getEnv("FMP_API_KEY", c.Stocks.Client.APIKey)
	c.Stocks.RateLimit = getEnvAsInt("FMP_RATE_LIMIT", c.Stocks.RateLimit)
	c.Stocks.RatePeriod = getEnvAsDuration("FMP_RATE_PERIOD", c.Stocks.RatePeriod)

	c.Notify.Domain = getEnv("MAILGUN_DOMAIN", c.Notify.Domain)
	c.Notify.APIKey = getEnv("MAILGUN_API_KEY", c.Notify.APIKey)
	c.Notify.APIBase = getEnv("MAILGUN_API_BASE", c.Notify.APIBase)
	c.Notify.To = getEnv("ADMIN_EMAIL", c.Notify.To)

	c.HTTP.Addr = getEnv("ETFWATCH_ADDR", c.HTTP.Addr)
	c.HTTP.AdminTokenHash = getEnv("ETFWATCH_ADMIN_TOKEN_HASH", c.HTTP.AdminTokenHash)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	slog.Warn("etfwatch: invalid integer in environment, using default", "key", key, "value", s, "default", fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	slog.Warn("etfwatch: invalid duration in environment, using default", "key", key, "value", s, "default", fallback)
	return fallback
}
