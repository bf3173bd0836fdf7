// Package orderstatus implements the "where is my order" workflow: it
// gathers the customer's orders, decides between explaining the current
// status and promising a near-term delivery date, and escalates when a
// previously promised date has passed without delivery.
package orderstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/escalation"
	"github.com/tobiasgrim/supportflow/pkg/flow"
	"github.com/tobiasgrim/supportflow/pkg/llm"
	"github.com/tobiasgrim/supportflow/pkg/tools"
	"github.com/tobiasgrim/supportflow/pkg/workflow"
)

// Name is the workflow identifier the router targets.
const Name = "order_status"

// ResumeAwaitingReference marks a conversation paused on the
// ask-for-an-order-reference question. The next inbound message for the
// conversation re-enters this workflow at the extraction step.
const ResumeAwaitingReference = "order_status:awaiting_reference"

// maxReferencePrompts is how many times we ask for an order reference
// before handing off to a human.
const maxReferencePrompts = 2

// Workflow steps recorded on the state for observability.
const (
	stepCheck             = "check"
	stepAwaitingReference = "awaiting_reference"
	stepExtractReference  = "extract_reference"
	stepDecide            = "decide"
	stepRespond           = "respond"
)

const askReferenceMessage = "I couldn't find any recent orders on your account. Could you share your order number (it's in your confirmation email, usually something like #10234)?"

const askReferenceAgainMessage = "Sorry, I still couldn't spot an order number in your message. Could you paste it exactly as it appears in your confirmation email, e.g. #10234?"

// Config wires the workflow's dependencies.
type Config struct {
	// Provider resolves orders from the commerce backend. Required.
	Provider tools.OrderLookupProvider

	// Invoker wraps provider calls with tracing. Defaults to a plain
	// tools.NewInvoker().
	Invoker *tools.Invoker

	// Clock supplies the current time for promise dates and timestamps.
	// Defaults to time.Now.
	Clock func() time.Time
}

// New builds the order-status workflow.
func New(cfg Config) (*workflow.Workflow, error) {
	if cfg.Provider == nil {
		return nil, errors.New("orderstatus: Provider is required")
	}
	n := &nodes{
		provider: cfg.Provider,
		invoker:  cfg.Invoker,
		now:      cfg.Clock,
	}
	if n.invoker == nil {
		n.invoker = tools.NewInvoker()
	}
	if n.now == nil {
		n.now = time.Now
	}

	graph := flow.NewGraph[conversation.State]().
		AddNode("start", n.start).
		AddNode(stepCheck, n.check).
		AddNode(stepExtractReference, n.extractReference).
		AddNode(stepDecide, n.decide).
		AddNode(stepRespond, n.respond).
		SetEntry("start").
		AddConditionalEdge("start", func(_ flow.Context, s conversation.State) string {
			if s.ResumeTag == ResumeAwaitingReference {
				return stepExtractReference
			}
			return stepCheck
		}).
		AddConditionalEdge(stepCheck, n.toDecide).
		AddConditionalEdge(stepExtractReference, n.toDecide).
		AddConditionalEdge(stepDecide, func(_ flow.Context, s conversation.State) string {
			if s.IsEscalated {
				return flow.END
			}
			return stepRespond
		}).
		AddEdge(stepRespond, flow.END)

	compiled, err := graph.Compile()
	if err != nil {
		return nil, err
	}
	return &workflow.Workflow{Name: Name, Graph: compiled}, nil
}

type nodes struct {
	provider tools.OrderLookupProvider
	invoker  *tools.Invoker
	now      func() time.Time
}

// toDecide routes past the decide node when the gathering steps already
// finished the turn, either by escalating or by pausing on a question.
func (n *nodes) toDecide(_ flow.Context, s conversation.State) string {
	if s.IsEscalated || s.ResumeTag == ResumeAwaitingReference {
		return flow.END
	}
	return stepDecide
}

func (n *nodes) start(_ flow.Context, s conversation.State) (conversation.State, error) {
	return s.MustApply(conversation.Update{
		CurrentWorkflow: conversation.StringPtr(Name),
	}, n.now()), nil
}

// check gathers the customer's orders. The identifier check runs before
// any backend call: a conversation with no email and no customer id
// escalates without touching the commerce API.
func (n *nodes) check(ctx flow.Context, s conversation.State) (conversation.State, error) {
	s = s.MustApply(conversation.Update{
		WorkflowStep: conversation.StringPtr(stepCheck),
	}, n.now())

	cust := s.Customer
	if cust.Email == "" && cust.CustomerID == "" {
		return escalation.Escalate(s, escalation.ReasonMissingIdentifier, map[string]any{
			"channel": s.Channel,
		}, n.now())
	}

	inputs := map[string]any{
		"email":       cust.Email,
		"customer_id": cust.CustomerID,
	}
	resp, trace := n.invoker.Call(ctx, "order_lookup", inputs, func(c context.Context) (conversation.ToolResponse, error) {
		orders, err := n.provider.LookupOrders(c, cust)
		if err != nil {
			return conversation.ToolResponse{}, err
		}
		return conversation.ToolResponse{
			Success: true,
			Data:    map[string]any{"orders": orders, "count": len(orders)},
		}, nil
	})
	s = s.MustApply(conversation.Update{
		AppendTraces: []conversation.ToolTrace{trace},
	}, n.now())

	if !resp.Success {
		return escalation.Escalate(s, escalation.ReasonLookupFailed, map[string]any{
			"error": resp.Error,
		}, n.now())
	}

	orders, ok := resp.Data["orders"].([]tools.Order)
	if !ok {
		return s, fmt.Errorf("orderstatus: order_lookup returned malformed data %T", resp.Data["orders"])
	}

	if len(orders) == 0 {
		return s.MustApply(conversation.Update{
			WorkflowStep: conversation.StringPtr(stepAwaitingReference),
			ResumeTag:    conversation.StringPtr(ResumeAwaitingReference),
			SetInternal:  map[string]any{keyReferenceRetries: 1},
			AppendMessages: []conversation.Message{
				{Role: conversation.RoleAssistant, Content: askReferenceMessage},
			},
		}, n.now()), nil
	}

	return s.MustApply(conversation.Update{
		SetInternal: orderScratch(orders[0]),
	}, n.now()), nil
}

// extractReference handles the turn after we asked for an order number.
func (n *nodes) extractReference(ctx flow.Context, s conversation.State) (conversation.State, error) {
	s = s.MustApply(conversation.Update{
		WorkflowStep: conversation.StringPtr(stepExtractReference),
	}, n.now())

	sc, err := scratchFrom(s)
	if err != nil {
		return s, err
	}

	ref := ExtractReference(s.LastUserMessage())
	if ref == "" {
		return n.retryOrEscalate(s, sc)
	}

	resp, trace := n.invoker.Call(ctx, "order_reference_lookup", map[string]any{
		"reference": ref,
	}, func(c context.Context) (conversation.ToolResponse, error) {
		order, err := n.provider.LookupOrderByReference(c, ref)
		if err != nil {
			return conversation.ToolResponse{}, err
		}
		data := map[string]any{"found": order != nil}
		if order != nil {
			data["order"] = *order
		}
		return conversation.ToolResponse{Success: true, Data: data}, nil
	})
	s = s.MustApply(conversation.Update{
		AppendTraces: []conversation.ToolTrace{trace},
	}, n.now())

	if !resp.Success {
		return escalation.Escalate(s, escalation.ReasonLookupFailed, map[string]any{
			"reference": ref,
			"error":     resp.Error,
		}, n.now())
	}

	order, ok := resp.Data["order"].(tools.Order)
	if !ok {
		// Reference matched no record; treat it like an unusable reply.
		return n.retryOrEscalate(s, sc)
	}

	return s.MustApply(conversation.Update{
		ResumeTag:     conversation.StringPtr(""),
		SetInternal:   orderScratch(order),
		ClearInternal: []string{keyReferenceRetries},
	}, n.now()), nil
}

// retryOrEscalate asks for the reference one more time, then hands the
// conversation to a human after the second failed prompt.
func (n *nodes) retryOrEscalate(s conversation.State, sc scratch) (conversation.State, error) {
	if sc.ReferenceRetries >= maxReferencePrompts {
		return escalation.Escalate(s, escalation.ReasonReferenceNotProvided, map[string]any{
			"prompts": sc.ReferenceRetries,
		}, n.now())
	}
	return s.MustApply(conversation.Update{
		WorkflowStep: conversation.StringPtr(stepAwaitingReference),
		ResumeTag:    conversation.StringPtr(ResumeAwaitingReference),
		SetInternal:  map[string]any{keyReferenceRetries: sc.ReferenceRetries + 1},
		AppendMessages: []conversation.Message{
			{Role: conversation.RoleAssistant, Content: askReferenceAgainMessage},
		},
	}, n.now()), nil
}

// decide is pure: it reads the gathered scratchpad and picks the reply
// action. The missed-promise check runs before the status mapping so a
// broken promise always wins.
func (n *nodes) decide(_ flow.Context, s conversation.State) (conversation.State, error) {
	s = s.MustApply(conversation.Update{
		WorkflowStep: conversation.StringPtr(stepDecide),
	}, n.now())

	sc, err := scratchFrom(s)
	if err != nil {
		return s, err
	}

	status := tools.OrderStatus(sc.OrderStatus)

	if sc.WaitPromiseUntil != "" && status != tools.StatusDelivered {
		promised, err := time.Parse(DateLayout, sc.WaitPromiseUntil)
		if err != nil {
			return s, fmt.Errorf("orderstatus: stored promise date %q: %w", sc.WaitPromiseUntil, err)
		}
		y, m, d := n.now().Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if today.After(promised) {
			return escalation.Escalate(s, escalation.ReasonMissedPromise, map[string]any{
				"order_id":      sc.OrderID,
				"promised_date": sc.WaitPromiseUntil,
				"status":        sc.OrderStatus,
			}, n.now())
		}
	}

	switch status {
	case tools.StatusUnfulfilled:
		return s.MustApply(conversation.Update{
			SetInternal: map[string]any{keyDecidedAction: actionExplainUnfulfilled},
		}, n.now()), nil
	case tools.StatusDelivered:
		return s.MustApply(conversation.Update{
			SetInternal:   map[string]any{keyDecidedAction: actionExplainDelivered},
			ClearInternal: []string{keyWaitPromiseUntil, keyPromiseDayLabel},
		}, n.now()), nil
	default:
		// In transit, or a raw backend status we could not normalize.
		promised, label := PromiseDate(n.now())
		return s.MustApply(conversation.Update{
			SetInternal: map[string]any{
				keyDecidedAction:    actionWaitPromise,
				keyWaitPromiseUntil: promised.Format(DateLayout),
				keyPromiseDayLabel:  label,
			},
		}, n.now()), nil
	}
}

const respondSystemPrompt = `You are a customer support assistant for an
online shop. Write a short, warm reply that delivers exactly the
resolution described in the context. Do not invent order details,
dates, or links beyond those given.`

// respond turns the decided action into the customer-facing reply. The
// LLM rewrites the deterministic template when available; any
// generation failure falls back to the template so the turn always
// completes.
func (n *nodes) respond(ctx flow.Context, s conversation.State) (conversation.State, error) {
	sc, err := scratchFrom(s)
	if err != nil {
		return s, err
	}

	reply := templateReply(sc)

	if client := ctx.LLM(); client != nil {
		prompt := fmt.Sprintf("Customer asked: %q\n\nResolution to deliver: %s", s.LastUserMessage(), reply)
		resp, err := client.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: respondSystemPrompt,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			MaxTokens:    400,
		})
		if err == nil && resp.Content != "" {
			reply = resp.Content
		} else if err != nil {
			ctx.Logger().Warn("reply generation failed, using template", "error", err.Error())
		}
	}

	// The tracking link only accompanies an in-transit wait promise.
	if link := trackingLink(sc); link != "" && !containsLink(reply, link) {
		reply += "\n\nYou can follow it here: " + link
	}

	return s.MustApply(conversation.Update{
		WorkflowStep: conversation.StringPtr(stepRespond),
		ResumeTag:    conversation.StringPtr(""),
		AppendMessages: []conversation.Message{
			{Role: conversation.RoleAssistant, Content: reply},
		},
	}, n.now()), nil
}

func orderScratch(o tools.Order) map[string]any {
	return map[string]any{
		keyOrderID:     o.ID,
		keyOrderStatus: string(o.Status),
		keyTrackingURL: o.TrackingURL,
	}
}

func containsLink(reply, link string) bool {
	return strings.Contains(reply, link)
}

func trackingLink(sc scratch) string {
	if sc.DecidedAction == actionWaitPromise &&
		tools.OrderStatus(sc.OrderStatus) == tools.StatusInTransit &&
		sc.TrackingURL != "" {
		return sc.TrackingURL
	}
	return ""
}

func templateReply(sc scratch) string {
	switch sc.DecidedAction {
	case actionExplainUnfulfilled:
		return fmt.Sprintf("I checked on order %s and it hasn't left our warehouse yet. You'll get a shipping confirmation with tracking the moment it's on its way.", sc.OrderID)
	case actionExplainDelivered:
		return fmt.Sprintf("Good news: order %s shows as delivered. If it hasn't turned up, it's worth checking with neighbours or around your usual delivery spot, and do let me know if it's still missing.", sc.OrderID)
	case actionWaitPromise:
		return fmt.Sprintf("Order %s is on its way and should reach you by %s (%s). If it hasn't arrived by then, reply here and we'll sort it out.", sc.OrderID, sc.PromiseDayLabel, sc.WaitPromiseUntil)
	default:
		return "I've had a look at your order and everything seems to be moving along. Let me know if there's anything specific you'd like me to check."
	}
}
