package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

var testClock = time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

// testStoreContract exercises the Store behaviors every backend must
// share. Each backend's test file feeds its own constructor in.
func testStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("load missing state returns ErrNotFound", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.LoadState(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = st.GetThread(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and load state round trip", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		state := conversation.New("conv-1", "user-1", "web")
		state = state.MustApply(conversation.Update{
			CurrentWorkflow: conversation.StringPtr("order_status"),
			WorkflowStep:    conversation.StringPtr("respond"),
			AppendMessages: []conversation.Message{
				{Role: conversation.RoleUser, Content: "where is it"},
			},
			SetInternal: map[string]any{"order_id": "1001"},
		}, time.Now())

		require.NoError(t, st.SaveState(ctx, state))

		loaded, err := st.LoadState(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "conv-1", loaded.ConversationID)
		assert.Equal(t, "order_status", loaded.CurrentWorkflow)
		assert.Equal(t, "respond", loaded.WorkflowStep)
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, "where is it", loaded.Messages[0].Content)
		assert.Equal(t, "1001", loaded.InternalData["order_id"])
	})

	t.Run("save state twice keeps last write", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		state := conversation.New("conv-1", "", "")
		require.NoError(t, st.SaveState(ctx, state))

		state = state.MustApply(conversation.Update{
			WorkflowStep: conversation.StringPtr("decide"),
		}, time.Now())
		require.NoError(t, st.SaveState(ctx, state))

		loaded, err := st.LoadState(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "decide", loaded.WorkflowStep)
	})

	t.Run("thread projection follows snapshot", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		state := conversation.New("conv-1", "", "")
		require.NoError(t, st.SaveState(ctx, state))

		rec, err := st.GetThread(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, conversation.StatusOpen, rec.Status)

		state, err = state.Apply(conversation.Update{
			Escalate: &conversation.EscalationSummary{Reason: "missed_promise"},
		}, time.Now())
		require.NoError(t, err)
		require.NoError(t, st.SaveState(ctx, state))

		rec, err = st.GetThread(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, conversation.StatusEscalated, rec.Status)
		assert.True(t, rec.IsEscalated)
	})

	t.Run("list threads", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		require.NoError(t, st.SaveState(ctx, conversation.New("conv-a", "", "")))
		require.NoError(t, st.SaveState(ctx, conversation.New("conv-b", "", "")))

		threads, err := st.ListThreads(ctx)
		require.NoError(t, err)
		assert.Len(t, threads, 2)
	})

	t.Run("duplicate message suppressed", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		saved, err := st.SaveMessage(ctx, "conv-1", conversation.RoleUser, conversation.DirectionInbound, "hello")
		require.NoError(t, err)
		assert.True(t, saved)

		saved, err = st.SaveMessage(ctx, "conv-1", conversation.RoleUser, conversation.DirectionInbound, "hello")
		require.NoError(t, err)
		assert.False(t, saved)

		msgs, err := st.GetMessages(ctx, "conv-1")
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("dedup compares latest message only", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		for _, content := range []string{"hello", "anything new?", "hello"} {
			saved, err := st.SaveMessage(ctx, "conv-1", conversation.RoleUser, conversation.DirectionInbound, content)
			require.NoError(t, err)
			assert.True(t, saved, content)
		}

		msgs, err := st.GetMessages(ctx, "conv-1")
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})

	t.Run("dedup scoped to role and direction", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		saved, err := st.SaveMessage(ctx, "conv-1", conversation.RoleUser, conversation.DirectionInbound, "hello")
		require.NoError(t, err)
		assert.True(t, saved)

		// Same content from the assistant is a different log entry.
		saved, err = st.SaveMessage(ctx, "conv-1", conversation.RoleAssistant, conversation.DirectionOutbound, "hello")
		require.NoError(t, err)
		assert.True(t, saved)

		// An intervening assistant message does not reset the user dedup.
		saved, err = st.SaveMessage(ctx, "conv-1", conversation.RoleUser, conversation.DirectionInbound, "hello")
		require.NoError(t, err)
		assert.False(t, saved)
	})

	t.Run("messages isolated per conversation", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.SaveMessage(ctx, "conv-1", conversation.RoleUser, conversation.DirectionInbound, "hello")
		require.NoError(t, err)

		saved, err := st.SaveMessage(ctx, "conv-2", conversation.RoleUser, conversation.DirectionInbound, "hello")
		require.NoError(t, err)
		assert.True(t, saved)

		msgs, err := st.GetMessages(ctx, "conv-2")
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("get messages for unknown conversation", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		msgs, err := st.GetMessages(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}
