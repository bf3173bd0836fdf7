// Package runtime is the boundary layer between transports and the
// workflow graphs. It owns the per-conversation turn discipline:
// acquire the conversation lock, suppress duplicate deliveries, refuse
// to run automation on escalated conversations, route or resume, run
// exactly one graph traversal, and persist the checkpoint.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/escalation"
	"github.com/tobiasgrim/supportflow/pkg/flow"
	"github.com/tobiasgrim/supportflow/pkg/flow/observability"
	"github.com/tobiasgrim/supportflow/pkg/llm"
	"github.com/tobiasgrim/supportflow/pkg/router"
	"github.com/tobiasgrim/supportflow/pkg/store"
	"github.com/tobiasgrim/supportflow/pkg/workflow"
)

// InboundMessage is one customer message delivered by a channel
// adapter. Deliveries may repeat; the runtime deduplicates by content.
type InboundMessage struct {
	ConversationID string                     `json:"conversation_id"`
	UserID         string                     `json:"user_id,omitempty"`
	Channel        string                     `json:"channel,omitempty"`
	Content        string                     `json:"content"`
	Customer       *conversation.CustomerInfo `json:"customer,omitempty"`
}

// TurnResult reports what one delivery produced.
type TurnResult struct {
	ConversationID string `json:"conversation_id"`

	// Reply is the outbound text for this turn; empty for duplicates.
	Reply string `json:"reply,omitempty"`

	// Duplicate is true when the delivery repeated the previous inbound
	// message and no workflow ran.
	Duplicate bool `json:"duplicate,omitempty"`

	// Escalated is true when the conversation is owned by a human after
	// this turn (whether it just escalated or already was). Escalation
	// carries the reason and audit details from the state snapshot.
	Escalated  bool                            `json:"escalated,omitempty"`
	Escalation *conversation.EscalationSummary `json:"escalation,omitempty"`

	// Intent is the router's latest classification for this
	// conversation. WorkflowStep is the node that last wrote state.
	Intent       string `json:"intent,omitempty"`
	WorkflowStep string `json:"workflow_step,omitempty"`

	// Workflow is the workflow that handled the turn, if one ran.
	Workflow string `json:"workflow,omitempty"`

	// Traces are the tool calls made during this turn only.
	Traces []conversation.ToolTrace `json:"traces,omitempty"`
}

// Runtime processes inbound messages against the workflow registry.
type Runtime struct {
	store    store.Store
	registry *workflow.Registry
	router   *router.Router
	locker   Locker
	client   llm.Client
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	lockTTL  time.Duration
	now      func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLocker replaces the default in-process keyed mutex, e.g. with the
// Redis locker for multi-replica deployments.
func WithLocker(l Locker) Option {
	return func(r *Runtime) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithLLM sets the completion client handed to workflow nodes.
func WithLLM(c llm.Client) Option {
	return func(r *Runtime) { r.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithMetrics sets the metrics recorder passed to graph runs.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Runtime) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLockTTL bounds how long a crashed replica can hold a
// conversation lock. Only distributed lockers honor it.
func WithLockTTL(d time.Duration) Option {
	return func(r *Runtime) { r.lockTTL = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Runtime. st, reg, and rt are required.
func New(st store.Store, reg *workflow.Registry, rt *router.Router, opts ...Option) (*Runtime, error) {
	if st == nil || reg == nil || rt == nil {
		return nil, errors.New("runtime: store, registry, and router are required")
	}
	r := &Runtime{
		store:    st,
		registry: reg,
		router:   rt,
		locker:   NewKeyedMutex(),
		metrics:  observability.NoopMetrics{},
		lockTTL:  30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ProcessMessage handles one delivery end to end and returns the turn
// outcome. Turns for the same conversation id are serialized; turns for
// different conversations run concurrently.
func (r *Runtime) ProcessMessage(ctx context.Context, msg InboundMessage) (*TurnResult, error) {
	if msg.ConversationID == "" {
		return nil, errors.New("runtime: conversation id is required")
	}
	if msg.Content == "" {
		return nil, errors.New("runtime: message content is required")
	}

	unlock, err := r.locker.Lock(ctx, "conversation:"+msg.ConversationID, r.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("runtime: acquire conversation lock: %w", err)
	}
	defer unlock(context.WithoutCancel(ctx))

	saved, err := r.store.SaveMessage(ctx, msg.ConversationID, conversation.RoleUser, conversation.DirectionInbound, msg.Content)
	if err != nil {
		return nil, fmt.Errorf("runtime: persist inbound message: %w", err)
	}
	if !saved {
		r.logInfo("duplicate delivery suppressed", "conversation_id", msg.ConversationID)
		return &TurnResult{ConversationID: msg.ConversationID, Duplicate: true}, nil
	}

	state, err := r.loadOrCreate(ctx, msg)
	if err != nil {
		return nil, err
	}

	state = state.MustApply(conversation.Update{
		AppendMessages: []conversation.Message{
			{Role: conversation.RoleUser, Content: msg.Content},
		},
	}, r.now())

	if state.IsEscalated {
		return r.finishTurn(ctx, state, escalation.AlreadyEscalatedResponse, &TurnResult{
			ConversationID: msg.ConversationID,
			Escalated:      true,
			Escalation:     state.Escalation,
			Intent:         state.Intent,
			WorkflowStep:   state.WorkflowStep,
		})
	}

	wf, intent := r.selectWorkflow(ctx, state)
	if intent != "" && intent != state.Intent {
		state = state.MustApply(conversation.Update{Intent: conversation.StringPtr(intent)}, r.now())
	}
	traceMark := len(state.ToolTraces)

	ctxOpts := []flow.ContextOption{flow.WithLLM(r.client)}
	if r.logger != nil {
		ctxOpts = append(ctxOpts, flow.WithLogger(r.logger))
	}
	fCtx := flow.NewContext(ctx, ctxOpts...)
	next, runErr := wf.Graph.Run(fCtx, state,
		flow.WithRunLogger(r.logger),
		flow.WithMetrics(r.metrics),
	)
	if runErr != nil {
		r.logError("workflow run failed", "conversation_id", msg.ConversationID, "workflow", wf.Name, "error", runErr.Error())
		if esc, escErr := escalation.Escalate(next, escalation.ReasonWorkflowError, map[string]any{
			"workflow": wf.Name,
			"error":    runErr.Error(),
		}, r.now()); escErr == nil {
			next = esc
		}
		// If the run escalated before failing, the first summary stands.
	}
	state = next

	result := &TurnResult{
		ConversationID: msg.ConversationID,
		Workflow:       wf.Name,
		Intent:         state.Intent,
		WorkflowStep:   state.WorkflowStep,
		Escalated:      state.IsEscalated,
		Escalation:     state.Escalation,
		Traces:         state.ToolTraces[traceMark:],
	}
	return r.finishTurn(ctx, state, state.LastAssistantMessage(), result)
}

// loadOrCreate fetches the snapshot, creating the initial state on the
// first message, and folds in any identifiers the channel supplied.
func (r *Runtime) loadOrCreate(ctx context.Context, msg InboundMessage) (conversation.State, error) {
	state, err := r.store.LoadState(ctx, msg.ConversationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		state = conversation.New(msg.ConversationID, msg.UserID, msg.Channel)
	case err != nil:
		return conversation.State{}, fmt.Errorf("runtime: load state: %w", err)
	}

	if msg.Customer != nil {
		merged := state.Customer
		if msg.Customer.Email != "" {
			merged.Email = msg.Customer.Email
		}
		if msg.Customer.Name != "" {
			merged.Name = msg.Customer.Name
		}
		if msg.Customer.CustomerID != "" {
			merged.CustomerID = msg.Customer.CustomerID
		}
		state = state.MustApply(conversation.Update{Customer: &merged}, r.now())
	}
	return state, nil
}

// selectWorkflow resumes a paused workflow when the state carries a
// resume tag, otherwise classifies the latest message. The returned
// intent is empty on resume: the stored classification stands.
func (r *Runtime) selectWorkflow(ctx context.Context, state conversation.State) (*workflow.Workflow, string) {
	if state.ResumeTag != "" {
		if wf, ok := r.registry.Get(state.CurrentWorkflow); ok {
			r.logInfo("resuming workflow",
				"conversation_id", state.ConversationID,
				"workflow", wf.Name,
				"resume_tag", state.ResumeTag)
			return wf, ""
		}
		r.logWarn("resume tag set but workflow unknown; reclassifying",
			"conversation_id", state.ConversationID,
			"workflow", state.CurrentWorkflow)
	}

	c := r.router.Classify(ctx, state)
	wf, ok := r.registry.Get(c.Workflow)
	if !ok {
		wf = r.registry.Default()
	}
	r.logInfo("routed message",
		"conversation_id", state.ConversationID,
		"intent", c.Intent,
		"workflow", wf.Name)
	return wf, c.Intent
}

// finishTurn persists the outbound reply and the snapshot, then fills
// in the result.
func (r *Runtime) finishTurn(ctx context.Context, state conversation.State, reply string, result *TurnResult) (*TurnResult, error) {
	if reply != "" {
		if state.LastAssistantMessage() != reply {
			state = state.MustApply(conversation.Update{
				AppendMessages: []conversation.Message{
					{Role: conversation.RoleAssistant, Content: reply},
				},
			}, r.now())
		}
		if _, err := r.store.SaveMessage(ctx, state.ConversationID, conversation.RoleAssistant, conversation.DirectionOutbound, reply); err != nil {
			return nil, fmt.Errorf("runtime: persist outbound message: %w", err)
		}
	}

	if err := r.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("runtime: persist state: %w", err)
	}

	result.Reply = reply
	return result, nil
}

// Thread returns the operator-facing projection plus the durable
// message log for one conversation.
func (r *Runtime) Thread(ctx context.Context, conversationID string) (conversation.ThreadRecord, []store.StoredMessage, error) {
	rec, err := r.store.GetThread(ctx, conversationID)
	if err != nil {
		return conversation.ThreadRecord{}, nil, err
	}
	msgs, err := r.store.GetMessages(ctx, conversationID)
	if err != nil {
		return conversation.ThreadRecord{}, nil, err
	}
	return rec, msgs, nil
}

// Threads lists all conversation projections, most recent first.
func (r *Runtime) Threads(ctx context.Context) ([]conversation.ThreadRecord, error) {
	return r.store.ListThreads(ctx)
}

func (r *Runtime) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runtime) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

func (r *Runtime) logError(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Error(msg, args...)
	}
}
