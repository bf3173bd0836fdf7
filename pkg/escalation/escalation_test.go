package escalation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

var testNow = time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

func TestEscalate(t *testing.T) {
	state := conversation.New("conv-1", "", "")

	next, err := Escalate(state, ReasonLookupFailed, map[string]any{"error": "backend 503"}, testNow)
	require.NoError(t, err)

	assert.True(t, next.IsEscalated)
	require.NotNil(t, next.Escalation)
	assert.Equal(t, ReasonLookupFailed, next.Escalation.Reason)
	assert.Equal(t, "backend 503", next.Escalation.Details["error"])
	require.NotNil(t, next.EscalatedAt)
	assert.Equal(t, testNow, *next.EscalatedAt)

	// Exactly one customer-facing handoff message is appended.
	require.Len(t, next.Messages, 1)
	assert.Equal(t, conversation.RoleAssistant, next.Messages[0].Role)
	assert.Equal(t, HandoffMessage(ReasonLookupFailed), next.Messages[0].Content)

	// A pending continuation never survives a handoff.
	assert.Empty(t, next.ResumeTag)
}

func TestEscalate_ClearsResumeTag(t *testing.T) {
	state := conversation.New("conv-1", "", "")
	state = state.MustApply(conversation.Update{
		ResumeTag: conversation.StringPtr("order_status:awaiting_reference"),
	}, testNow)

	next, err := Escalate(state, ReasonReferenceNotProvided, nil, testNow)
	require.NoError(t, err)
	assert.Empty(t, next.ResumeTag)
}

func TestEscalate_Monotonic(t *testing.T) {
	state := conversation.New("conv-1", "", "")

	state, err := Escalate(state, ReasonMissedPromise, nil, testNow)
	require.NoError(t, err)

	_, err = Escalate(state, ReasonLookupFailed, nil, testNow)
	assert.ErrorIs(t, err, conversation.ErrStateEscalated)
	assert.Equal(t, ReasonMissedPromise, state.Escalation.Reason)
}

func TestHandoffMessages_NeverLeakInternals(t *testing.T) {
	reasons := []string{
		ReasonMissingIdentifier,
		ReasonLookupFailed,
		ReasonReferenceNotProvided,
		ReasonMissedPromise,
		ReasonWorkflowError,
		ReasonCustomerRequest,
		"some_future_reason",
	}
	for _, reason := range reasons {
		msg := HandoffMessage(reason)
		assert.NotEmpty(t, msg, reason)
		lowered := strings.ToLower(msg)
		assert.NotContains(t, lowered, "error:", reason)
		assert.NotContains(t, msg, reason, "reason code must not appear in customer text")
	}
}

func TestHandoffMessage_MissedPromiseOffersResend(t *testing.T) {
	msg := strings.ToLower(HandoffMessage(ReasonMissedPromise))
	assert.Contains(t, msg, "free replacement")
}

func TestWantsHuman(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"I want to speak to a human", true},
		{"let me TALK TO A PERSON please", true},
		{"can I get a real person?", true},
		{"connect me with a human agent", true},
		{"where is my order?", false},
		{"my humanities homework is late", false},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, WantsHuman(tc.message), tc.message)
	}
}
