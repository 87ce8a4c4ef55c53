package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FieldLift/LiftDesk/internal/convlog"
	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/push"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrConversationClosed = errors.New("conversation closed for current ticket status")
	ErrPersistence        = errors.New("persistence failure")
	ErrRateLimited        = errors.New("message rate limit exceeded")
)

type Store interface {
	GetTicket(ctx context.Context, id uint64) (*models.Ticket, error)
	PatchTicket(ctx context.Context, id uint64, p ticketstore.TicketPatch) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Писать в разговор можно только пока тикет в работе.
func composeAllowed(s models.StatusID) bool {
	return s == models.StatusAssigned || s == models.StatusInProgress || s == models.StatusPending
}

// View — открытый разговор одного тикета: сведённый в памяти список
// сообщений из сохранённого лога, локальных оптимистичных отправок и
// сообщений из push-канала. Все операции сериализованы мьютексом view;
// разные тикеты независимы.
type View struct {
	ticketID  uint64
	store     Store
	channel   push.Channel
	rl        RateLimiter
	sendLimit int64

	mu          sync.Mutex
	statusID    models.StatusID
	msgs        []models.ConversationMessage
	closed      bool
	unsubscribe func() error
}

// Open загружает сохранённый лог (толерантно: битый лог даёт пустой список)
// и подписывает view на push-канал тикета.
func Open(ctx context.Context, store Store, channel push.Channel, rl RateLimiter, sendLimit int64, ticketID uint64) (*View, error) {
	t, err := store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	v := &View{
		ticketID:  ticketID,
		store:     store,
		channel:   channel,
		rl:        rl,
		sendLimit: sendLimit,
		statusID:  t.StatusID,
		msgs:      convlog.Decode(t.Conversation),
	}

	if channel != nil {
		unsub, err := channel.Subscribe(ctx, ticketID, v.OnPush)
		if err != nil {
			return nil, errors.Wrap(err, "subscribe push channel")
		}
		v.unsubscribe = unsub
	}
	return v, nil
}

// Send отправляет сообщение: оптимистично дописывает его в память (отправитель
// видит сразу), затем сохраняет полный лог одним патчем и публикует в
// push-канал. При неудаче сохранения сообщение откатывается и канал не
// уведомляется. Неудача публикации не фатальна: стор — источник истины.
func (v *View) Send(ctx context.Context, text string, actor models.Actor) (models.ConversationMessage, error) {
	var zero models.ConversationMessage
	if strings.TrimSpace(text) == "" {
		return zero, errors.New("message text is empty")
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return zero, errors.New("view is closed")
	}
	if !composeAllowed(v.statusID) {
		status := v.statusID
		v.mu.Unlock()
		return zero, errors.Wrapf(ErrConversationClosed, "status %s", status.Label())
	}
	v.mu.Unlock()

	if v.rl != nil && v.sendLimit > 0 {
		key := fmt.Sprintf("rl:conv:%s:%s", actor.ID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := v.rl.Allow(ctx, key, v.sendLimit, 70*time.Second)
		if err == nil && !allowed {
			return zero, errors.Wrapf(ErrRateLimited, "%d messages in the current minute", n)
		}
	}

	msg := models.ConversationMessage{
		ID:         "conv-" + uuid.NewString(),
		Text:       text,
		SenderID:   actor.ID,
		SenderRole: actor.Role,
		SenderName: actor.Name,
		SentAt:     time.Now().UTC(),
	}

	v.mu.Lock()
	v.insertLocked(msg)
	encoded := convlog.Encode(v.msgs)
	v.mu.Unlock()

	// Разговор пишется last-write-wins, как у исходного ticket record API:
	// ревизионная проверка здесь не включается.
	if err := v.store.PatchTicket(ctx, v.ticketID, ticketstore.TicketPatch{Conversation: &encoded}); err != nil {
		v.removeByID(msg.ID)
		return zero, errors.Wrapf(ErrPersistence, "save conversation: %s", err)
	}

	if v.channel != nil {
		if err := v.channel.Publish(ctx, v.ticketID, msg); err != nil {
			slog.Warn("publish conversation message", "ticket_id", v.ticketID, "error", err.Error())
		}
	}
	return msg, nil
}

// OnPush принимает сообщение из push-канала. Единственный механизм
// дедупликации локальной оптимистичной копии и эха из канала — проверка id.
func (v *View) OnPush(msg models.ConversationMessage) {
	if msg.Text == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	for _, m := range v.msgs {
		if m.ID == msg.ID {
			return
		}
	}
	v.insertLocked(msg)
}

// Messages возвращает сведённый список: упорядочен по sent_at, равные метки —
// в порядке вставки.
func (v *View) Messages() []models.ConversationMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.ConversationMessage, len(v.msgs))
	copy(out, v.msgs)
	return out
}

// SetStatus обновляет статус тикета во view (переход мог пройти рядом или на
// другом инстансе) — от него зависит политика композиции.
func (v *View) SetStatus(s models.StatusID) {
	v.mu.Lock()
	v.statusID = s
	v.mu.Unlock()
}

// Close закрывает view и отписывается от push-канала. Отправка, которая уже
// в полёте, доработает до конца (сообщение не теряется), но view больше не
// меняется.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	unsub := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()

	if unsub != nil {
		return unsub()
	}
	return nil
}

func (v *View) insertLocked(m models.ConversationMessage) {
	n := len(v.msgs)
	if m.SentAt.IsZero() || n == 0 || !m.SentAt.Before(v.msgs[n-1].SentAt) {
		v.msgs = append(v.msgs, m)
		return
	}
	i := n
	for i > 0 && v.msgs[i-1].SentAt.After(m.SentAt) {
		i--
	}
	v.msgs = append(v.msgs, models.ConversationMessage{})
	copy(v.msgs[i+1:], v.msgs[i:n])
	v.msgs[i] = m
}

func (v *View) removeByID(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	for i, m := range v.msgs {
		if m.ID == id {
			v.msgs = append(v.msgs[:i], v.msgs[i+1:]...)
			return
		}
	}
}
