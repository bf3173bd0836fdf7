// Package escalation implements the irreversible handoff from
// automation to a human operator. Escalation is monotonic: once a
// conversation is escalated no workflow node may execute for it again;
// the boundary layer short-circuits subsequent messages.
package escalation

import (
	"strings"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// Escalation reasons. These are internal codes for the audit summary
// and must never appear in customer-facing text.
const (
	ReasonMissingIdentifier    = "missing_identifier"
	ReasonLookupFailed         = "lookup_failed"
	ReasonReferenceNotProvided = "reference_not_provided"
	ReasonMissedPromise        = "missed_promise"
	ReasonWorkflowError        = "workflow_error"
	ReasonCustomerRequest      = "customer_request"
)

// Customer-facing handoff messages per reason. Each one acknowledges,
// names a human handoff, and carries no error text or reason codes.
var handoffMessages = map[string]string{
	ReasonMissingIdentifier:    "Thanks for reaching out. I wasn't able to match your message to an account, so I'm passing this to one of our support specialists who will follow up with you shortly.",
	ReasonLookupFailed:         "Thanks for your patience. I'm having trouble pulling up your details right now, so I've asked one of our support specialists to take over. They'll be in touch shortly.",
	ReasonReferenceNotProvided: "No problem - I'll hand this over to one of our support specialists who can dig into your order directly. They'll follow up with you shortly.",
	ReasonMissedPromise:        "I'm sorry your order still hasn't arrived - that's on us. I've escalated this to our team and they'll arrange a free replacement shipment for you right away.",
	ReasonWorkflowError:        "Apologies - something went wrong on our side while handling your request. One of our support specialists will pick this up and get back to you shortly.",
	ReasonCustomerRequest:      "Of course - I'm connecting you with one of our support specialists now. They'll follow up with you shortly.",
}

// fallbackMessage covers reasons without a dedicated template.
const fallbackMessage = "Thanks for reaching out. I'm handing this conversation to one of our support specialists, who will follow up with you shortly."

// HandoffMessage returns the customer-facing text for a reason.
func HandoffMessage(reason string) string {
	if msg, ok := handoffMessages[reason]; ok {
		return msg
	}
	return fallbackMessage
}

// Escalate transitions the conversation to the escalated state: sets
// the overlay fields, records the summary, and appends exactly one
// customer-facing handoff message. details may carry raw error text for
// the audit trail; it never reaches the customer.
//
// Returns conversation.ErrStateEscalated if the state is already
// escalated (the first escalation wins).
func Escalate(state conversation.State, reason string, details map[string]any, now time.Time) (conversation.State, error) {
	return state.Apply(conversation.Update{
		Escalate: &conversation.EscalationSummary{
			Reason:  reason,
			Details: details,
		},
		AppendMessages: []conversation.Message{
			{Role: conversation.RoleAssistant, Content: HandoffMessage(reason)},
		},
		ResumeTag: conversation.StringPtr(""),
	}, now)
}

// AlreadyEscalatedResponse is the fixed reply the boundary layer sends
// when a message arrives for a conversation a human already owns.
const AlreadyEscalatedResponse = "This conversation has been passed to our support team - a specialist already has your details and will get back to you. Thanks for your patience."

// WantsHuman reports whether a user message is an explicit demand for a
// human operator.
func WantsHuman(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range humanPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

var humanPhrases = []string{
	"speak to a human",
	"talk to a human",
	"speak to a person",
	"talk to a person",
	"real person",
	"human agent",
	"speak to an agent",
	"talk to an agent",
	"speak to someone",
}
