package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateConfig sets the token bucket handed to each client IP.
type RateConfig struct {
	// Every is the refill interval of one token.
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
	// Idle is how long an unused client bucket is kept.
	Idle time.Duration `yaml:"idle"`
	// Exclude lists path prefixes never limited.
	Exclude []string `yaml:"exclude"`
}

// DefaultRateConfig allows bursts of 30 refilled at ten per second.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		Every:   100 * time.Millisecond,
		Burst:   30,
		Idle:    10 * time.Minute,
		Exclude: []string{"/health"},
	}
}

// RateLimiter keeps one token bucket per client IP. Idle buckets expire
// from the cache.
type RateLimiter struct {
	cfg     RateConfig
	buckets *cache.Cache
}

// NewRateLimiter builds a limiter. Zero fields take DefaultRateConfig
// values.
func NewRateLimiter(cfg RateConfig) *RateLimiter {
	def := DefaultRateConfig()
	if cfg.Every <= 0 {
		cfg.Every = def.Every
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: cache.New(cfg.Idle, 2*cfg.Idle),
	}
}

// Allow takes one token from ip's bucket.
func (rl *RateLimiter) Allow(ip string) bool {
	if v, ok := rl.buckets.Get(ip); ok {
		// refresh the idle expiry
		rl.buckets.SetDefault(ip, v)
		return v.(*rate.Limiter).Allow()
	}
	l := rate.NewLimiter(rate.Every(rl.cfg.Every), rl.cfg.Burst)
	if err := rl.buckets.Add(ip, l, cache.DefaultExpiration); err != nil {
		// lost a race with another request from the same client
		if v, ok := rl.buckets.Get(ip); ok {
			l = v.(*rate.Limiter)
		}
	}
	return l.Allow()
}

// Middleware answers 429 with a JSON error once a client's bucket is
// empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.cfg.Exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		ip := ExtractIP(r)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", "1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
