package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Logging logs every call with its duration.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			dur := time.Since(start)

			if err != nil && !IsPermanent(err) {
				logger.WarnContext(ctx, "connectivity: call failed",
					"payload", string(payload),
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "connectivity: call done",
					"payload", string(payload),
					"duration_ms", dur.Milliseconds(),
					"response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// Timeout bounds a single attempt. Put it innermost so each retry gets a
// fresh deadline.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d <= 0 {
				return next(ctx, payload)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a panic in next into an *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic recovered",
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// Waiter blocks until one more call may be made. ratelimit.Window
// satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WithLimiter admits each attempt through w. Placed inside WithRetry,
// retries are paced against the same quota as first attempts.
func WithLimiter(w Waiter) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if err := w.Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, payload)
		}
	}
}
