// Package conversation defines the state that flows through every
// support workflow: the per-conversation snapshot, the append-only
// message log, tool traces, and the typed update structure nodes use
// to mutate state.
package conversation

import (
	"time"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Direction distinguishes inbound (customer) from outbound (automation)
// messages in the durable log.
type Direction string

// Message directions.
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one turn in the conversation transcript.
// The transcript is append-only: messages are never reordered or deleted.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CustomerInfo carries the identifiers workflows need to call business
// systems. Mutable; last write per turn wins.
type CustomerInfo struct {
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// EscalationSummary records why a conversation left automation.
// Details may contain raw error text for audit; it is never shown to
// the customer.
type EscalationSummary struct {
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

// ToolResponse is the uniform envelope returned by every external-call
// wrapper, regardless of the underlying transport.
type ToolResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolTrace records one external call attempt, success or failure.
// Traces are append-only and exist for observability and tests.
type ToolTrace struct {
	Name       string         `json:"name"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Output     ToolResponse   `json:"output"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
}

// State is the full snapshot for one conversation id. It is created on
// the first inbound message, mutated once per turn under the runtime's
// per-conversation lock, and replaced wholesale at save time.
type State struct {
	ConversationID string       `json:"conversation_id"`
	UserID         string       `json:"user_id,omitempty"`
	Channel        string       `json:"channel,omitempty"`
	Customer       CustomerInfo `json:"customer"`

	// Messages is the ordered, append-only transcript.
	Messages []Message `json:"messages"`

	// Intent is the router's latest classification label.
	Intent string `json:"intent,omitempty"`

	// CurrentWorkflow and WorkflowStep identify which workflow and which
	// node last executed, for operational visibility.
	CurrentWorkflow string `json:"current_workflow,omitempty"`
	WorkflowStep    string `json:"workflow_step,omitempty"`

	// ResumeTag is the explicit continuation marker consumed by a
	// workflow's resume branch on the next inbound message. Empty when
	// the workflow finished its turn without asking a question.
	ResumeTag string `json:"resume_tag,omitempty"`

	// InternalData is a scratchpad owned exclusively by the active
	// workflow: decision outputs, scheduling fields, retry counters.
	InternalData map[string]any `json:"internal_data,omitempty"`

	// ToolTraces records every external call attempt made on behalf of
	// this conversation.
	ToolTraces []ToolTrace `json:"tool_traces,omitempty"`

	// Escalation overlay. Once IsEscalated is true no workflow node may
	// execute again for this conversation.
	IsEscalated bool               `json:"is_escalated"`
	EscalatedAt *time.Time         `json:"escalated_at,omitempty"`
	Escalation  *EscalationSummary `json:"escalation,omitempty"`
}

// New creates the initial state for a conversation.
func New(conversationID, userID, channel string) State {
	return State{
		ConversationID: conversationID,
		UserID:         userID,
		Channel:        channel,
		InternalData:   make(map[string]any),
	}
}

// LastUserMessage returns the most recent user message content,
// or "" if none exists.
func (s State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// LastAssistantMessage returns the most recent assistant message
// content, or "" if none exists.
func (s State) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// RecentMessages returns up to n of the latest messages, oldest first.
func (s State) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	start := len(s.Messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.Messages)-start)
	copy(out, s.Messages[start:])
	return out
}

// ThreadStatus is the operator-facing status of a conversation.
type ThreadStatus string

// Thread statuses.
const (
	StatusOpen      ThreadStatus = "open"
	StatusEscalated ThreadStatus = "escalated"
	StatusClosed    ThreadStatus = "closed"
)

// ThreadRecord is the persisted projection of a snapshot. It is always
// recomputed from State at save time, never hand-edited.
type ThreadRecord struct {
	ID              string       `json:"id"`
	Status          ThreadStatus `json:"status"`
	CurrentWorkflow string       `json:"current_workflow,omitempty"`
	WorkflowStep    string       `json:"workflow_step,omitempty"`
	IsEscalated     bool         `json:"is_escalated"`
	EscalatedAt     *time.Time   `json:"escalated_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Thread derives the projection from the snapshot content.
func (s State) Thread(now time.Time) ThreadRecord {
	status := StatusOpen
	if s.IsEscalated {
		status = StatusEscalated
	}
	return ThreadRecord{
		ID:              s.ConversationID,
		Status:          status,
		CurrentWorkflow: s.CurrentWorkflow,
		WorkflowStep:    s.WorkflowStep,
		IsEscalated:     s.IsEscalated,
		EscalatedAt:     s.EscalatedAt,
		UpdatedAt:       now,
	}
}
