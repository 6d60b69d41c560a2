package lock

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/enverbisevac/distlock/lock")

const (
	opTrySet   = "try_set"
	opDelete   = "compare_delete"
	opExpire   = "compare_expire"
	opExists   = "exists"
	opTTL      = "remaining_ttl"
	opAcquire  = "acquire"
	opWithLock = "with_lock"
)

func startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("lock.key", key)))
}

// logger prefers the logger carried by ctx.
func (m *Manager) logger(ctx context.Context) logr.Logger {
	if log, err := logr.FromContext(ctx); err == nil {
		return log
	}
	return m.config.Logger
}

// observe records the duration of op and reports it when it exceeds the
// slow threshold.
func (m *Manager) observe(ctx context.Context, op, key string, start time.Time) {
	elapsed := time.Since(start)
	OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if m.config.Monitoring && elapsed > m.config.SlowThreshold {
		m.logger(ctx).Info("slow lock operation",
			"op", op,
			"key", key,
			"elapsed", elapsed,
			"threshold", m.config.SlowThreshold,
		)
	}
}
