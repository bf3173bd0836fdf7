package conversation

import (
	"errors"
	"time"
)

// ErrStateEscalated indicates an update tried to re-escalate or mutate
// an already escalated conversation in a way the overlay forbids.
var ErrStateEscalated = errors.New("conversation already escalated")

// Update is the typed partial state change a node returns. Only the set
// fields are applied; messages and traces are append-only by
// construction, so an Update can never lose history.
type Update struct {
	// Customer replaces the stored customer info (last write wins).
	Customer *CustomerInfo

	// Intent records the router's classification label.
	Intent *string

	// CurrentWorkflow / WorkflowStep / ResumeTag set the continuation
	// markers. Use the empty string to clear ResumeTag.
	CurrentWorkflow *string
	WorkflowStep    *string
	ResumeTag       *string

	// AppendMessages adds to the transcript in order.
	AppendMessages []Message

	// AppendTraces adds tool traces in order.
	AppendTraces []ToolTrace

	// SetInternal merges keys into the workflow scratchpad.
	SetInternal map[string]any

	// ClearInternal removes keys from the scratchpad.
	ClearInternal []string

	// Escalate flips the conversation to the escalated overlay. The
	// caller must also append the single customer-facing handoff
	// message via AppendMessages.
	Escalate *EscalationSummary
}

// Apply merges the update into a copy of the state and returns it.
// The receiver is not mutated. now stamps EscalatedAt when escalating.
//
// Returns ErrStateEscalated if the update attempts to escalate a
// conversation that is already escalated; the overlay is monotonic and
// the first summary wins.
func (s State) Apply(u Update, now time.Time) (State, error) {
	out := s.clone()

	if u.Customer != nil {
		out.Customer = *u.Customer
	}
	if u.Intent != nil {
		out.Intent = *u.Intent
	}
	if u.CurrentWorkflow != nil {
		out.CurrentWorkflow = *u.CurrentWorkflow
	}
	if u.WorkflowStep != nil {
		out.WorkflowStep = *u.WorkflowStep
	}
	if u.ResumeTag != nil {
		out.ResumeTag = *u.ResumeTag
	}

	out.Messages = append(out.Messages, u.AppendMessages...)
	out.ToolTraces = append(out.ToolTraces, u.AppendTraces...)

	if len(u.SetInternal) > 0 && out.InternalData == nil {
		out.InternalData = make(map[string]any, len(u.SetInternal))
	}
	for k, v := range u.SetInternal {
		out.InternalData[k] = v
	}
	for _, k := range u.ClearInternal {
		delete(out.InternalData, k)
	}

	if u.Escalate != nil {
		if out.IsEscalated {
			return s, ErrStateEscalated
		}
		ts := now.UTC()
		out.IsEscalated = true
		out.EscalatedAt = &ts
		out.Escalation = u.Escalate
	}

	return out, nil
}

// MustApply is Apply for updates that cannot conflict with the
// escalation overlay (no Escalate field set). Panics otherwise.
func (s State) MustApply(u Update, now time.Time) State {
	out, err := s.Apply(u, now)
	if err != nil {
		panic("conversation: " + err.Error())
	}
	return out
}

// clone makes a copy with fresh slice and map headers so Apply never
// aliases the receiver's history.
func (s State) clone() State {
	out := s

	out.Messages = make([]Message, len(s.Messages), len(s.Messages)+2)
	copy(out.Messages, s.Messages)

	out.ToolTraces = make([]ToolTrace, len(s.ToolTraces), len(s.ToolTraces)+1)
	copy(out.ToolTraces, s.ToolTraces)

	if s.InternalData != nil {
		out.InternalData = make(map[string]any, len(s.InternalData))
		for k, v := range s.InternalData {
			out.InternalData[k] = v
		}
	}

	return out
}

// StringPtr is a convenience for Update's optional string fields.
func StringPtr(s string) *string {
	return &s
}
