// Package connectivity composes outbound calls to third-party APIs (the
// stock-profile service) from a plain Handler and a stack of middlewares:
// logging, timeout, panic recovery, pacing, retry and circuit breaking.
//
//	h := connectivity.Chain(
//		connectivity.Logging(logger),
//		connectivity.WithRetry(2, 500*time.Millisecond, logger),
//		connectivity.WithCircuitBreaker(cb, "fmp_profile"),
//		connectivity.WithLimiter(window),
//		connectivity.Timeout(15*time.Second),
//	)(base)
package connectivity

import "context"

// Handler performs one call. The payload and response encodings belong to
// the caller (a symbol in, a JSON body out for the profile client).
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares left to right: the first is the outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
