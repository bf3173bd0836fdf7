// Package tools wraps every external call made on behalf of a
// conversation: it times the attempt, normalizes the result into the
// uniform ToolResponse envelope, and produces a ToolTrace for the
// conversation's audit trail. This layer never decides business
// outcomes; it only guarantees every attempt is observable.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/flow/observability"
)

// Func performs one external call and returns the uniform envelope.
// Returning an error is equivalent to returning a failed response; the
// invoker records either form identically.
type Func func(ctx context.Context) (conversation.ToolResponse, error)

// Invoker executes external calls with timing, tracing, and panic
// containment. Safe for concurrent use.
type Invoker struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	timeout time.Duration
	now     func() time.Time
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerLogger sets the logger for tool call logs.
func WithInvokerLogger(logger *slog.Logger) InvokerOption {
	return func(i *Invoker) { i.logger = logger }
}

// WithInvokerMetrics sets the metrics recorder for tool calls.
func WithInvokerMetrics(m observability.MetricsRecorder) InvokerOption {
	return func(i *Invoker) {
		if m != nil {
			i.metrics = m
		}
	}
}

// WithCallTimeout bounds each call. A call that exceeds the timeout is
// recorded as a failed attempt; there is no retry.
func WithCallTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.timeout = d }
}

// NewInvoker creates an Invoker.
// Default timeout is 30s per call.
func NewInvoker(opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		metrics: observability.NoopMetrics{},
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Call executes fn and returns the normalized response plus the trace
// recording the attempt. Errors and panics are converted into a failed
// ToolResponse; the caller decides what the failure means for the
// conversation.
func (inv *Invoker) Call(ctx context.Context, name string, inputs map[string]any, fn Func) (conversation.ToolResponse, conversation.ToolTrace) {
	start := inv.now()

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	resp := inv.execute(ctx, fn)

	duration := inv.now().Sub(start)
	durationMs := duration.Milliseconds()

	observability.LogToolCall(inv.logger, name, resp.Success, durationMs)
	inv.metrics.RecordToolCall(ctx, name, resp.Success, duration)

	trace := conversation.ToolTrace{
		Name:       name,
		Inputs:     inputs,
		Output:     resp,
		Timestamp:  start.UTC(),
		DurationMs: durationMs,
	}
	return resp, trace
}

// execute runs fn with panic recovery and normalizes the outcome.
func (inv *Invoker) execute(ctx context.Context, fn Func) (resp conversation.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = conversation.ToolResponse{
				Success: false,
				Error:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	resp, err := fn(ctx)
	if err != nil {
		return conversation.ToolResponse{
			Success: false,
			Error:   err.Error(),
		}
	}
	return resp
}
