// Package delivery runs outbound platform sends with bounded exponential backoff.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/unibox/internal/metrics"
	"github.com/nextlevelbuilder/unibox/internal/telemetry"
)

const (
	DefaultAttempts     = 3
	DefaultInitialDelay = 500 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Target identifies what a delivery is for; used in errors, logs and spans.
type Target struct {
	Channel   string
	Recipient string
}

// Executor retries a send operation: Attempts tries in total, waiting
// InitialDelay before the second and doubling after each failure. No jitter.
type Executor struct {
	Attempts     int
	InitialDelay time.Duration
	Sleep        SleepFunc

	tracer trace.Tracer
}

// NewExecutor returns an executor with the given policy. Non-positive values
// fall back to the defaults.
func NewExecutor(attempts int, initialDelay time.Duration) *Executor {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	return &Executor{
		Attempts:     attempts,
		InitialDelay: initialDelay,
		Sleep:        sleepCtx,
		tracer:       telemetry.Tracer("delivery"),
	}
}

// Default returns an executor with 3 attempts and a 500ms initial delay.
func Default() *Executor {
	return NewExecutor(DefaultAttempts, DefaultInitialDelay)
}

// Do runs fn under the executor's retry policy. On exhaustion or a
// non-retryable failure it returns an *UpstreamSendError.
func Do[T any](ctx context.Context, e *Executor, target Target, fn func(ctx context.Context) (T, error)) (T, error) {
	if e == nil {
		e = Default()
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	tracer := e.tracer
	if tracer == nil {
		tracer = telemetry.Tracer("delivery")
	}

	ctx, span := tracer.Start(ctx, "delivery.send", trace.WithAttributes(
		attribute.String("channel", target.Channel),
		attribute.String("recipient", target.Recipient),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.DeliveryDuration.WithLabelValues(target.Channel).Observe(time.Since(start).Seconds())
	}()

	var zero T
	delay := e.InitialDelay
	attempts := max(e.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(target.Channel, "ok").Inc()
			span.SetAttributes(attribute.Int("attempts", attempt))
			return result, nil
		}
		lastErr = err
		metrics.DeliveryAttempts.WithLabelValues(target.Channel, "error").Inc()

		if !Retryable(err) {
			slog.Warn("delivery.permanent_failure",
				"channel", target.Channel, "recipient", target.Recipient,
				"attempt", attempt, "error", err)
			return zero, fail(span, target, attempt, err)
		}
		if attempt == attempts {
			break
		}

		slog.Warn("delivery.retrying",
			"channel", target.Channel, "recipient", target.Recipient,
			"attempt", attempt, "delay", delay, "error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return zero, fail(span, target, attempt, err)
		}
		delay *= 2
	}

	return zero, fail(span, target, attempts, lastErr)
}

func fail(span trace.Span, target Target, attempts int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Int("attempts", attempts))
	return &UpstreamSendError{
		Channel:   target.Channel,
		Recipient: target.Recipient,
		Attempts:  attempts,
		Err:       err,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
