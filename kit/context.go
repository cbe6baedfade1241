package kit

import "context"

type contextKey string

const (
	TransportKey  contextKey = "kit_transport" // "cli", "http", "mcp", "cron"
	TraceIDKey    contextKey = "kit_trace_id"
	ActivationKey contextKey = "kit_activation"
)

// Activation tags recorded on batch runs.
const (
	ActivationAuto   = "auto"
	ActivationManual = "manual"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "cli".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "cli"
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithActivation records how a batch was started.
func WithActivation(ctx context.Context, a string) context.Context {
	return context.WithValue(ctx, ActivationKey, a)
}

// GetActivation returns the activation tag, ActivationManual when unset.
func GetActivation(ctx context.Context) string {
	if v, ok := ctx.Value(ActivationKey).(string); ok && v != "" {
		return v
	}
	return ActivationManual
}
