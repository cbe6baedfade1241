// Package shield holds the HTTP middleware in front of the etfwatch API:
// security headers, JSON body limits, request tracing and per-client rate
// limiting.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.DefaultRateConfig()) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the middleware stack for the JSON API, outermost first:
// HeadToGet, SecurityHeaders, MaxJSONBody, TraceID, RateLimiter.
func APIStack(rate RateConfig) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(rate)
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(64 * 1024),
		TraceID,
		rl.Middleware,
	}
}

// HeadToGet converts HEAD requests to GET so routes registered with Get
// answer HEAD too. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
