package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// RedisStore implements Store on Redis. Suitable for deployments where
// several processes share the conversation log; pair it with the
// RedisLocker so turns for one conversation stay serialized across
// processes.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration for conversation keys.
// Zero (the default) means no expiration; conversations are an audit
// trail and are normally retained forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis store from an existing client.
func NewRedisStore(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "supportflow:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) stateKey(id string) string  { return s.prefix + "state:" + id }
func (s *RedisStore) threadKey(id string) string { return s.prefix + "thread:" + id }
func (s *RedisStore) logKey(id string) string    { return s.prefix + "messages:" + id }
func (s *RedisStore) indexKey() string           { return s.prefix + "threads" }

func (s *RedisStore) lastKey(id string, role conversation.Role, direction conversation.Direction) string {
	return s.prefix + "last:" + id + ":" + string(role) + ":" + string(direction)
}

// SaveMessage implements Store.
func (s *RedisStore) SaveMessage(ctx context.Context, conversationID string, role conversation.Role, direction conversation.Direction, content string) (bool, error) {
	lastKey := s.lastKey(conversationID, role, direction)

	last, err := s.client.Get(ctx, lastKey).Result()
	if err != nil && err != backend.Nil {
		return false, fmt.Errorf("get last message: %w", err)
	}
	if err == nil && last == content {
		return false, nil
	}

	msg := StoredMessage{
		Role:      role,
		Direction: direction,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal message: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.logKey(conversationID), data)
	pipe.Set(ctx, lastKey, content, s.ttl)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.logKey(conversationID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return true, nil
}

// SaveState implements Store.
func (s *RedisStore) SaveState(ctx context.Context, state conversation.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	now := s.now().UTC()
	thread := state.Thread(now)
	threadData, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.stateKey(state.ConversationID), data, s.ttl)
	pipe.Set(ctx, s.threadKey(state.ConversationID), threadData, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(now.UnixNano()),
		Member: state.ConversationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save to redis: %w", err)
	}
	return nil
}

// LoadState implements Store.
func (s *RedisStore) LoadState(ctx context.Context, conversationID string) (conversation.State, error) {
	var zero conversation.State

	val, err := s.client.Get(ctx, s.stateKey(conversationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get from redis: %w", err)
	}

	var state conversation.State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return zero, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// ListThreads implements Store.
func (s *RedisStore) ListThreads(ctx context.Context) ([]conversation.ThreadRecord, error) {
	// Most recently updated first
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	threads := make([]conversation.ThreadRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetThread(ctx, id)
		if err == ErrNotFound {
			// Expired thread key still in the index; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		threads = append(threads, rec)
	}
	return threads, nil
}

// GetThread implements Store.
func (s *RedisStore) GetThread(ctx context.Context, conversationID string) (conversation.ThreadRecord, error) {
	var zero conversation.ThreadRecord

	val, err := s.client.Get(ctx, s.threadKey(conversationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("get thread: %w", err)
	}

	var rec conversation.ThreadRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return zero, fmt.Errorf("unmarshal thread: %w", err)
	}
	return rec, nil
}

// GetMessages implements Store.
func (s *RedisStore) GetMessages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	vals, err := s.client.LRange(ctx, s.logKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]StoredMessage, 0, len(vals))
	for _, v := range vals {
		var m StoredMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
