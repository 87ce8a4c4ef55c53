package push

import (
	"context"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
)

// Handler получает сообщение, доставленное по live-каналу тикета.
type Handler func(models.ConversationMessage)

// Channel — push-канал разговора тикета: исходящая публикация и подписка на
// входящие сообщения. Жизненным циклом соединения управляет вызывающий.
// Доставка best-effort: без ретраев и подтверждений.
type Channel interface {
	Publish(ctx context.Context, ticketID uint64, msg models.ConversationMessage) error
	Subscribe(ctx context.Context, ticketID uint64, h Handler) (func() error, error)
}

// StatusNotice — живое уведомление о смене статуса тикета.
type StatusNotice struct {
	TicketID  uint64          `json:"ticket_id"`
	StatusID  models.StatusID `json:"status_id"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, notice StatusNotice) error
}
