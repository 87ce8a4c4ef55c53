package redispush

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/FieldLift/LiftDesk/internal/models"
)

func TestChannel_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	ch := New(mr.Addr())

	ctx := context.Background()
	got := make(chan models.ConversationMessage, 1)

	closeFn, err := ch.Subscribe(ctx, 7, func(m models.ConversationMessage) {
		got <- m
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	sent := models.ConversationMessage{
		ID:         "conv-abc",
		Text:       "hello",
		SenderID:   "emp-1",
		SenderRole: models.RoleEmployee,
		SenderName: "Jane",
		SentAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, ch.Publish(ctx, 7, sent))

	select {
	case m := <-got:
		require.Equal(t, sent.ID, m.ID)
		require.Equal(t, "hello", m.Text)
		require.Equal(t, models.RoleEmployee, m.SenderRole)
		require.True(t, sent.SentAt.Equal(m.SentAt))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for push message")
	}
}

func TestChannel_SubscribeIsPerTicket(t *testing.T) {
	mr := miniredis.RunT(t)
	ch := New(mr.Addr())

	ctx := context.Background()
	got := make(chan models.ConversationMessage, 1)

	closeFn, err := ch.Subscribe(ctx, 1, func(m models.ConversationMessage) {
		got <- m
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	// Сообщение в другой тикет не должно доходить до подписчика.
	require.NoError(t, ch.Publish(ctx, 2, models.ConversationMessage{ID: "x", Text: "other"}))

	select {
	case m := <-got:
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}
