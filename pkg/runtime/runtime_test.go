package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/escalation"
	"github.com/tobiasgrim/supportflow/pkg/flow"
	"github.com/tobiasgrim/supportflow/pkg/llm"
	"github.com/tobiasgrim/supportflow/pkg/router"
	"github.com/tobiasgrim/supportflow/pkg/store"
	"github.com/tobiasgrim/supportflow/pkg/tools"
	"github.com/tobiasgrim/supportflow/pkg/workflow"
	"github.com/tobiasgrim/supportflow/pkg/workflow/orderstatus"
)

// echoWorkflow replies with a deterministic echo so every turn produces
// a distinct outbound message.
func echoWorkflow(name string) *workflow.Workflow {
	graph := flow.NewGraph[conversation.State]().
		AddNode("echo", func(_ flow.Context, s conversation.State) (conversation.State, error) {
			return s.MustApply(conversation.Update{
				CurrentWorkflow: conversation.StringPtr(name),
				WorkflowStep:    conversation.StringPtr("echo"),
				AppendMessages: []conversation.Message{
					{Role: conversation.RoleAssistant, Content: "echo: " + s.LastUserMessage()},
				},
			}, time.Now()), nil
		}).
		AddEdge("echo", flow.END).
		SetEntry("echo").
		MustCompile()
	return &workflow.Workflow{Name: name, Graph: graph}
}

func failingWorkflow(name string) *workflow.Workflow {
	graph := flow.NewGraph[conversation.State]().
		AddNode("boom", func(_ flow.Context, s conversation.State) (conversation.State, error) {
			return s, errors.New("unexpected nil order")
		}).
		AddEdge("boom", flow.END).
		SetEntry("boom").
		MustCompile()
	return &workflow.Workflow{Name: name, Graph: graph}
}

func newTestRuntime(t *testing.T, workflows ...*workflow.Workflow) (*Runtime, *store.MemoryStore) {
	t.Helper()
	if len(workflows) == 0 {
		workflows = []*workflow.Workflow{echoWorkflow("general")}
	}
	reg, err := workflow.NewRegistry("general", workflows...)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	rt, err := New(st, reg, router.New(nil, reg.Names(), "general", nil))
	require.NoError(t, err)
	return rt, st
}

func TestProcessMessage_Validation(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := rt.ProcessMessage(context.Background(), InboundMessage{Content: "hi"})
	assert.Error(t, err)

	_, err = rt.ProcessMessage(context.Background(), InboundMessage{ConversationID: "conv-1"})
	assert.Error(t, err)
}

func TestProcessMessage_HappyPath(t *testing.T) {
	ctx := context.Background()
	rt, st := newTestRuntime(t)

	result, err := rt.ProcessMessage(ctx, InboundMessage{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Channel:        "web",
		Content:        "hello there",
	})
	require.NoError(t, err)

	assert.Equal(t, "echo: hello there", result.Reply)
	assert.False(t, result.Duplicate)
	assert.False(t, result.Escalated)
	assert.Equal(t, "general", result.Workflow)
	assert.Equal(t, "unclassified", result.Intent)
	assert.Equal(t, "echo", result.WorkflowStep)

	// Both directions landed in the durable log.
	msgs, err := st.GetMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, conversation.DirectionOutbound, msgs[1].Direction)

	// The snapshot was checkpointed with the full transcript.
	state, err := st.LoadState(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
	assert.Equal(t, "web", state.Channel)
	assert.Equal(t, "unclassified", state.Intent)
}

func TestProcessMessage_DuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	rt, st := newTestRuntime(t)

	first, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "hello"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "hello"})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Reply)
	assert.Empty(t, second.Workflow)

	// No workflow ran: the transcript did not grow.
	state, err := st.LoadState(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
}

func TestProcessMessage_NewContentAfterDuplicateRuns(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)

	_, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "hello"})
	require.NoError(t, err)
	_, err = rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "hello"})
	require.NoError(t, err)

	third, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "anything new?"})
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.Equal(t, "echo: anything new?", third.Reply)
}

func TestProcessMessage_EscalatedShortCircuit(t *testing.T) {
	ctx := context.Background()
	rt, st := newTestRuntime(t)

	// Escalate the conversation out of band.
	state := conversation.New("conv-1", "", "")
	state, err := escalation.Escalate(state, escalation.ReasonMissedPromise, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.SaveState(ctx, state))

	result, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "any update?"})
	require.NoError(t, err)

	assert.True(t, result.Escalated)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, escalation.ReasonMissedPromise, result.Escalation.Reason)
	assert.Equal(t, escalation.AlreadyEscalatedResponse, result.Reply)
	assert.Empty(t, result.Workflow, "no workflow runs on an escalated conversation")
	assert.Empty(t, result.Traces, "no tool calls on an escalated conversation")

	loaded, err := st.LoadState(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.ToolTraces)
	assert.True(t, loaded.IsEscalated)
}

func TestProcessMessage_WorkflowErrorEscalates(t *testing.T) {
	ctx := context.Background()
	rt, st := newTestRuntime(t, failingWorkflow("general"))

	result, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "hello"})
	require.NoError(t, err)

	assert.True(t, result.Escalated)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, escalation.ReasonWorkflowError, result.Escalation.Reason)
	assert.Equal(t, escalation.HandoffMessage(escalation.ReasonWorkflowError), result.Reply)
	assert.NotContains(t, result.Reply, "nil order")
	assert.Contains(t, result.Escalation.Details["error"], "nil order")

	state, err := st.LoadState(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, state.IsEscalated)
	assert.Contains(t, state.Escalation.Details["error"], "nil order")
}

func TestProcessMessage_MergesChannelCustomerInfo(t *testing.T) {
	ctx := context.Background()
	rt, st := newTestRuntime(t)

	_, err := rt.ProcessMessage(ctx, InboundMessage{
		ConversationID: "conv-1",
		Content:        "hello",
		Customer:       &conversation.CustomerInfo{Email: "jo@example.com"},
	})
	require.NoError(t, err)

	_, err = rt.ProcessMessage(ctx, InboundMessage{
		ConversationID: "conv-1",
		Content:        "me again",
		Customer:       &conversation.CustomerInfo{Name: "Jo"},
	})
	require.NoError(t, err)

	state, err := st.LoadState(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", state.Customer.Email)
	assert.Equal(t, "Jo", state.Customer.Name)
}

func TestProcessMessage_ResumeSkipsRouter(t *testing.T) {
	ctx := context.Background()

	provider := tools.NewMockProvider()
	provider.ByRef["10234"] = tools.Order{ID: "10234", Status: tools.StatusDelivered}

	orderWf, err := orderstatus.New(orderstatus.Config{Provider: provider})
	require.NoError(t, err)

	reg, err := workflow.NewRegistry("general", echoWorkflow("general"), orderWf)
	require.NoError(t, err)

	// The classifier sends the first turn to order_status and would
	// send any later turn to general.
	classifier := llm.NewScript(
		llm.Reply(`{"intent": "order_status_inquiry", "workflow": "order_status", "confidence": 0.9}`),
		llm.Reply(`{"intent": "other", "workflow": "general", "confidence": 0.9}`),
	)

	st := store.NewMemoryStore()
	rt, err := New(st, reg, router.New(classifier, reg.Names(), "general", nil))
	require.NoError(t, err)

	first, err := rt.ProcessMessage(ctx, InboundMessage{
		ConversationID: "conv-1",
		Content:        "where is my order?",
		Customer:       &conversation.CustomerInfo{Email: "jo@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_status", first.Workflow)
	assert.Equal(t, "order_status_inquiry", first.Intent)
	assert.Contains(t, first.Reply, "order number")

	// The follow-up resumes order_status directly; the second scripted
	// classification is never consumed.
	second, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "it's #10234"})
	require.NoError(t, err)
	assert.Equal(t, "order_status", second.Workflow)
	assert.Equal(t, "order_status_inquiry", second.Intent, "resumed turns keep the stored classification")
	assert.Contains(t, second.Reply, "delivered")
	assert.Len(t, classifier.Calls(), 1)

	// The turn's traces cover this turn only.
	assert.Len(t, second.Traces, 1)
}

func TestProcessMessage_SerializesPerConversation(t *testing.T) {
	ctx := context.Background()

	var inFlight, maxInFlight int64
	graph := flow.NewGraph[conversation.State]().
		AddNode("slow", func(_ flow.Context, s conversation.State) (conversation.State, error) {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				prev := atomic.LoadInt64(&maxInFlight)
				if n <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return s.MustApply(conversation.Update{
				AppendMessages: []conversation.Message{
					{Role: conversation.RoleAssistant, Content: "echo: " + s.LastUserMessage()},
				},
			}, time.Now()), nil
		}).
		AddEdge("slow", flow.END).
		SetEntry("slow").
		MustCompile()

	reg, err := workflow.NewRegistry("general", &workflow.Workflow{Name: "general", Graph: graph})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	rt, err := New(st, reg, router.New(nil, reg.Names(), "general", nil))
	require.NoError(t, err)

	var wg sync.WaitGroup
	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		wg.Add(1)
		go func(content string) {
			defer wg.Done()
			_, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: content})
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&maxInFlight), "turns for one conversation must not overlap")
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "k", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = km.Lock(ctx, "k", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(context.Background()))

	// Released keys can be re-acquired, and unlock is idempotent.
	unlock2, err := km.Lock(context.Background(), "k", 0)
	require.NoError(t, err)
	require.NoError(t, unlock2(context.Background()))
	require.NoError(t, unlock2(context.Background()))
}

func TestThreads_ReadSide(t *testing.T) {
	ctx := context.Background()
	rt, _ := newTestRuntime(t)

	_, err := rt.ProcessMessage(ctx, InboundMessage{ConversationID: "conv-1", Content: "hello"})
	require.NoError(t, err)

	rec, msgs, err := rt.Thread(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", rec.ID)
	assert.Equal(t, conversation.StatusOpen, rec.Status)
	assert.Len(t, msgs, 2)

	threads, err := rt.Threads(ctx)
	require.NoError(t, err)
	assert.Len(t, threads, 1)

	_, _, err = rt.Thread(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
