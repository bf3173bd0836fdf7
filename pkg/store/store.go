// Package store provides durable checkpoint storage for conversations:
// full-state snapshots, an append-only message log with content-based
// duplicate suppression, and the thread projection used by operators.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// Store persists conversation checkpoints.
// Implementations must be safe for concurrent use; serialization of
// turns for a single conversation id is the runtime's responsibility.
type Store interface {
	// SaveMessage appends a message to the conversation's log unless the
	// content is identical to the most recent stored message with the
	// same role and direction, in which case it returns false and stores
	// nothing. This is the system's sole duplicate-suppression mechanism.
	SaveMessage(ctx context.Context, conversationID string, role conversation.Role, direction conversation.Direction, content string) (bool, error)

	// SaveState upserts the full snapshot for the conversation and
	// recomputes the derived thread projection from the snapshot content.
	// Last write wins per conversation id.
	SaveState(ctx context.Context, state conversation.State) error

	// LoadState returns the latest snapshot.
	// Returns ErrNotFound if the conversation has never been saved.
	LoadState(ctx context.Context, conversationID string) (conversation.State, error)

	// ListThreads returns the thread projections, most recently updated first.
	ListThreads(ctx context.Context) ([]conversation.ThreadRecord, error)

	// GetThread returns the thread projection for one conversation.
	// Returns ErrNotFound if the conversation has never been saved.
	GetThread(ctx context.Context, conversationID string) (conversation.ThreadRecord, error)

	// GetMessages returns the full message log in insertion order.
	// Returns an empty slice (not an error) for unknown conversations.
	GetMessages(ctx context.Context, conversationID string) ([]StoredMessage, error)

	// Close releases any resources (connections, files).
	Close() error
}

// StoredMessage is one row of the durable message log.
type StoredMessage struct {
	Role      conversation.Role      `json:"role"`
	Direction conversation.Direction `json:"direction"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the conversation has no stored snapshot.
	ErrNotFound = errors.New("conversation not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)
