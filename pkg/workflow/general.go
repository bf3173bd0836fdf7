package workflow

import (
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/escalation"
	"github.com/tobiasgrim/supportflow/pkg/flow"
	"github.com/tobiasgrim/supportflow/pkg/llm"
)

// GeneralName is the name of the fallback workflow. The router targets
// it whenever classification fails, so it must always be registered.
const GeneralName = "general"

const generalSystemPrompt = `You are a friendly customer support assistant.
Answer the customer's question helpfully and concisely. If you cannot
help, say a specialist will follow up. Never invent order details.`

// generalFallbackReply is the deterministic reply used when generation
// fails; the turn still completes.
const generalFallbackReply = "Thanks for your message! I've noted it down. If you have a question about a specific order, let me know the order number and I'll take a look."

// GeneralConfig configures the fallback workflow.
type GeneralConfig struct {
	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
}

// NewGeneral builds the safe default workflow: it hands off to a human
// when the customer explicitly asks for one, otherwise generates a
// plain reply with a deterministic fallback.
func NewGeneral(cfg GeneralConfig) *Workflow {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	assess := func(_ flow.Context, s conversation.State) (conversation.State, error) {
		return s.MustApply(conversation.Update{
			CurrentWorkflow: conversation.StringPtr(GeneralName),
			WorkflowStep:    conversation.StringPtr("assess"),
		}, now()), nil
	}

	handoff := func(_ flow.Context, s conversation.State) (conversation.State, error) {
		next, err := escalation.Escalate(s, escalation.ReasonCustomerRequest, map[string]any{
			"requested_in": s.LastUserMessage(),
		}, now())
		if err != nil {
			return s, err
		}
		return next.MustApply(conversation.Update{
			WorkflowStep: conversation.StringPtr("handoff"),
		}, now()), nil
	}

	respond := func(ctx flow.Context, s conversation.State) (conversation.State, error) {
		reply := generalFallbackReply

		if client := ctx.LLM(); client != nil {
			messages := make([]llm.Message, 0, 6)
			for _, m := range s.RecentMessages(6) {
				messages = append(messages, llm.Message{
					Role:    llm.Role(m.Role),
					Content: m.Content,
				})
			}
			resp, err := client.Complete(ctx, llm.CompletionRequest{
				SystemPrompt: generalSystemPrompt,
				Messages:     messages,
				MaxTokens:    500,
			})
			if err == nil && resp.Content != "" {
				reply = resp.Content
			} else if err != nil {
				ctx.Logger().Warn("reply generation failed, using fallback", "error", err.Error())
			}
		}

		return s.MustApply(conversation.Update{
			WorkflowStep: conversation.StringPtr("respond"),
			AppendMessages: []conversation.Message{
				{Role: conversation.RoleAssistant, Content: reply},
			},
		}, now()), nil
	}

	graph := flow.NewGraph[conversation.State]().
		AddNode("assess", assess).
		AddNode("handoff", handoff).
		AddNode("respond", respond).
		AddConditionalEdge("assess", func(_ flow.Context, s conversation.State) string {
			if escalation.WantsHuman(s.LastUserMessage()) {
				return "handoff"
			}
			return "respond"
		}).
		AddEdge("handoff", flow.END).
		AddEdge("respond", flow.END).
		SetEntry("assess")

	return &Workflow{
		Name:  GeneralName,
		Graph: graph.MustCompile(),
	}
}
