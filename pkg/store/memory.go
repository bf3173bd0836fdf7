package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// MemoryStore is an in-memory Store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string][]byte
	threads  map[string]conversation.ThreadRecord
	messages map[string][]StoredMessage
	closed   bool
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string][]byte),
		threads:  make(map[string]conversation.ThreadRecord),
		messages: make(map[string][]StoredMessage),
		now:      time.Now,
	}
}

// SaveMessage implements Store.
func (m *MemoryStore) SaveMessage(_ context.Context, conversationID string, role conversation.Role, direction conversation.Direction, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	log := m.messages[conversationID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == role && log[i].Direction == direction {
			if log[i].Content == content {
				return false, nil
			}
			break
		}
	}

	m.messages[conversationID] = append(log, StoredMessage{
		Role:      role,
		Direction: direction,
		Content:   content,
		CreatedAt: m.now().UTC(),
	})
	return true, nil
}

// SaveState implements Store.
func (m *MemoryStore) SaveState(_ context.Context, state conversation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Serialize to decouple the stored snapshot from the caller's value.
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	m.states[state.ConversationID] = data
	m.threads[state.ConversationID] = state.Thread(m.now().UTC())
	return nil
}

// LoadState implements Store.
func (m *MemoryStore) LoadState(_ context.Context, conversationID string) (conversation.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero conversation.State
	if m.closed {
		return zero, ErrStoreClosed
	}

	data, ok := m.states[conversationID]
	if !ok {
		return zero, ErrNotFound
	}

	var state conversation.State
	if err := json.Unmarshal(data, &state); err != nil {
		return zero, err
	}
	return state, nil
}

// ListThreads implements Store.
func (m *MemoryStore) ListThreads(_ context.Context) ([]conversation.ThreadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	threads := make([]conversation.ThreadRecord, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

// GetThread implements Store.
func (m *MemoryStore) GetThread(_ context.Context, conversationID string) (conversation.ThreadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero conversation.ThreadRecord
	if m.closed {
		return zero, ErrStoreClosed
	}

	t, ok := m.threads[conversationID]
	if !ok {
		return zero, ErrNotFound
	}
	return t, nil
}

// GetMessages implements Store.
func (m *MemoryStore) GetMessages(_ context.Context, conversationID string) ([]StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	log := m.messages[conversationID]
	out := make([]StoredMessage, len(log))
	copy(out, log)
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.states = nil
	m.threads = nil
	m.messages = nil
	return nil
}

// Len returns the number of stored snapshots. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
