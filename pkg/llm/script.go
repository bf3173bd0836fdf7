package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Script when all queued replies
// have been consumed.
var ErrScriptExhausted = errors.New("scripted client: no replies left")

// Script is a Client that replays a fixed sequence of replies.
// Used by tests and by offline demos; safe for concurrent use.
type Script struct {
	mu      sync.Mutex
	replies []ScriptReply
	calls   []CompletionRequest
}

// ScriptReply is one queued response: either content or an error.
type ScriptReply struct {
	Content string
	Err     error
}

// NewScript creates a scripted client from the given replies.
func NewScript(replies ...ScriptReply) *Script {
	return &Script{replies: replies}
}

// Reply queues a successful completion.
func Reply(content string) ScriptReply {
	return ScriptReply{Content: content}
}

// Fail queues a failing completion.
func Fail(err error) ScriptReply {
	return ScriptReply{Err: err}
}

// Complete implements Client.
func (s *Script) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	if len(s.replies) == 0 {
		return nil, NewError("complete", ErrScriptExhausted, false)
	}

	next := s.replies[0]
	s.replies = s.replies[1:]

	if next.Err != nil {
		return nil, NewError("complete", next.Err, false)
	}

	return &CompletionResponse{
		Content:      next.Content,
		FinishReason: "stop",
	}, nil
}

// Calls returns the requests seen so far.
func (s *Script) Calls() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CompletionRequest, len(s.calls))
	copy(out, s.calls)
	return out
}
