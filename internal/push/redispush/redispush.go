package redispush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/push"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Channel — push-канал на Redis pub/sub. Каждый тикет — отдельный канал,
// подписаны все открытые view этого тикета (в т.ч. инстанс-отправитель:
// эхо отфильтрует дедупликация по id в синхронизаторе).
type Channel struct {
	c *redis.Client
}

func New(addr string) *Channel {
	return &Channel{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func conversationChannel(ticketID uint64) string {
	return fmt.Sprintf("ticket:%d:conversation", ticketID)
}

func statusChannel(ticketID uint64) string {
	return fmt.Sprintf("ticket:%d:status", ticketID)
}

// wireMessage повторяет форму сообщения в логе разговора: payload push-канала
// обязан совпадать с ConversationMessage.
type wireMessage struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name"`
	SentAt     string `json:"sent_at"`
}

func (ch *Channel) Publish(ctx context.Context, ticketID uint64, msg models.ConversationMessage) error {
	b, err := json.Marshal(wireMessage{
		ID:         msg.ID,
		Text:       msg.Text,
		SenderID:   msg.SenderID,
		SenderRole: string(msg.SenderRole),
		SenderName: msg.SenderName,
		SentAt:     msg.SentAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Wrap(err, "marshal push message")
	}
	if err := ch.c.Publish(ctx, conversationChannel(ticketID), b).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

func (ch *Channel) Subscribe(ctx context.Context, ticketID uint64, h push.Handler) (func() error, error) {
	ps := ch.c.Subscribe(ctx, conversationChannel(ticketID))
	// Первый Receive подтверждает подписку; без него Publish может обогнать её.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	go func() {
		for m := range ps.Channel() {
			var w wireMessage
			if err := json.Unmarshal([]byte(m.Payload), &w); err != nil {
				slog.Warn("drop malformed push message", "ticket_id", ticketID, "error", err.Error())
				continue
			}
			msg := models.ConversationMessage{
				ID:         w.ID,
				Text:       w.Text,
				SenderID:   w.SenderID,
				SenderRole: models.SenderRole(w.SenderRole),
				SenderName: w.SenderName,
			}
			if t, err := time.Parse(time.RFC3339Nano, w.SentAt); err == nil {
				msg.SentAt = t
			}
			h(msg)
		}
	}()

	return ps.Close, nil
}

func (ch *Channel) PublishStatus(ctx context.Context, notice push.StatusNotice) error {
	b, err := json.Marshal(notice)
	if err != nil {
		return errors.Wrap(err, "marshal status notice")
	}
	if err := ch.c.Publish(ctx, statusChannel(notice.TicketID), b).Err(); err != nil {
		return errors.Wrap(err, "redis publish status")
	}
	return nil
}
