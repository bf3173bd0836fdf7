package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/escalation"
	"github.com/tobiasgrim/supportflow/pkg/flow"
	"github.com/tobiasgrim/supportflow/pkg/llm"
)

var testNow = time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

func generalWorkflow(t *testing.T) *Workflow {
	t.Helper()
	return NewGeneral(GeneralConfig{Clock: func() time.Time { return testNow }})
}

func stateWith(content string) conversation.State {
	s := conversation.New("conv-1", "", "web")
	return s.MustApply(conversation.Update{
		AppendMessages: []conversation.Message{{Role: conversation.RoleUser, Content: content}},
	}, testNow)
}

func TestGeneral_RespondsWithLLM(t *testing.T) {
	wf := generalWorkflow(t)
	client := llm.NewScript(llm.Reply("Happy to help with that!"))

	ctx := flow.NewContext(context.Background(), flow.WithLLM(client))
	result, err := wf.Graph.Run(ctx, stateWith("what's your refund policy?"))
	require.NoError(t, err)

	assert.False(t, result.IsEscalated)
	assert.Equal(t, "Happy to help with that!", result.LastAssistantMessage())
	assert.Equal(t, GeneralName, result.CurrentWorkflow)
}

func TestGeneral_FallbackOnGenerationFailure(t *testing.T) {
	wf := generalWorkflow(t)
	client := llm.NewScript(llm.Fail(errors.New("model unavailable")))

	ctx := flow.NewContext(context.Background(), flow.WithLLM(client))
	result, err := wf.Graph.Run(ctx, stateWith("hello"))
	require.NoError(t, err)

	assert.False(t, result.IsEscalated)
	assert.NotEmpty(t, result.LastAssistantMessage())
}

func TestGeneral_NoClient_StillReplies(t *testing.T) {
	wf := generalWorkflow(t)

	ctx := flow.NewContext(context.Background())
	result, err := wf.Graph.Run(ctx, stateWith("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.LastAssistantMessage())
}

func TestGeneral_ExplicitHumanRequest_Escalates(t *testing.T) {
	wf := generalWorkflow(t)

	ctx := flow.NewContext(context.Background())
	result, err := wf.Graph.Run(ctx, stateWith("I want to speak to a human"))
	require.NoError(t, err)

	assert.True(t, result.IsEscalated)
	assert.Equal(t, escalation.ReasonCustomerRequest, result.Escalation.Reason)
}

func TestNewRegistry(t *testing.T) {
	general := generalWorkflow(t)

	reg, err := NewRegistry(GeneralName, general)
	require.NoError(t, err)

	wf, ok := reg.Get(GeneralName)
	assert.True(t, ok)
	assert.Same(t, general, wf)
	assert.Same(t, general, reg.Default())
	assert.Equal(t, []string{GeneralName}, reg.Names())
	assert.Equal(t, 1, reg.Len())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestNewRegistry_Errors(t *testing.T) {
	general := generalWorkflow(t)

	_, err := NewRegistry("missing", general)
	assert.Error(t, err)

	_, err = NewRegistry(GeneralName, general, general)
	assert.Error(t, err, "duplicate names rejected")

	_, err = NewRegistry(GeneralName, general, nil)
	assert.Error(t, err)

	_, err = NewRegistry(GeneralName, general, &Workflow{Name: "broken"})
	assert.Error(t, err, "workflow without a graph rejected")
}
