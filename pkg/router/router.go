// Package router classifies inbound intent and selects the workflow
// that should handle the turn. Classification is pure: the caller is
// responsible for writing the chosen workflow into the state.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/llm"
)

// Classification is the router's verdict for one inbound message.
// Confidence is advisory only; no workflow branches on it.
type Classification struct {
	Intent     string  `json:"intent"`
	Workflow   string  `json:"workflow"`
	Confidence float64 `json:"confidence"`
}

// historyWindow bounds how much transcript the classifier sees.
const historyWindow = 6

const systemPrompt = `You are an intent classifier for a customer support system.
Given the conversation, respond with a single JSON object and nothing else:
{"intent": "<short label>", "workflow": "<one of: %s>", "confidence": <0.0-1.0>}`

// Router selects a workflow for each inbound message.
type Router struct {
	client          llm.Client
	workflows       map[string]bool
	names           string
	defaultWorkflow string
	logger          *slog.Logger
}

// New creates a Router.
// workflowNames is the set of routable workflows; defaultWorkflow is
// returned whenever classification fails for any reason and must be a
// member of workflowNames.
func New(client llm.Client, workflowNames []string, defaultWorkflow string, logger *slog.Logger) *Router {
	known := make(map[string]bool, len(workflowNames))
	for _, name := range workflowNames {
		known[name] = true
	}
	if !known[defaultWorkflow] {
		panic(fmt.Sprintf("router: default workflow %q is not routable", defaultWorkflow))
	}
	return &Router{
		client:          client,
		workflows:       known,
		names:           strings.Join(workflowNames, ", "),
		defaultWorkflow: defaultWorkflow,
		logger:          logger,
	}
}

// Classify consumes the latest user message plus a bounded window of
// history and returns a classification. It never fails: on any
// classifier error (timeout, malformed output, missing credentials) it
// returns the safe default workflow.
func (r *Router) Classify(ctx context.Context, state conversation.State) Classification {
	fallback := Classification{
		Intent:   "unclassified",
		Workflow: r.defaultWorkflow,
	}

	if r.client == nil {
		return fallback
	}

	messages := make([]llm.Message, 0, historyWindow)
	for _, m := range state.RecentMessages(historyWindow) {
		messages = append(messages, llm.Message{
			Role:    llm.Role(m.Role),
			Content: m.Content,
		})
	}
	if len(messages) == 0 {
		return fallback
	}

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPrompt, r.names),
		Messages:     messages,
		MaxTokens:    200,
	})
	if err != nil {
		r.logWarn("classifier call failed", "error", err.Error())
		return fallback
	}

	c, err := parseClassification(resp.Content)
	if err != nil {
		r.logWarn("classifier output malformed", "error", err.Error())
		return fallback
	}

	if !r.workflows[c.Workflow] {
		r.logWarn("classifier returned unknown workflow", "workflow", c.Workflow)
		c.Workflow = r.defaultWorkflow
	}
	return c
}

// parseClassification extracts the JSON verdict from model output,
// tolerating surrounding prose or code fences.
func parseClassification(content string) (Classification, error) {
	var c Classification

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return c, fmt.Errorf("no JSON object in output")
	}

	if err := json.Unmarshal([]byte(content[start:end+1]), &c); err != nil {
		return c, fmt.Errorf("decode classification: %w", err)
	}
	if c.Workflow == "" {
		return c, fmt.Errorf("classification missing workflow")
	}
	return c, nil
}

func (r *Router) logWarn(msg string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(msg, args...)
}
