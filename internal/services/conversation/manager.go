package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/push"
)

// Manager держит не больше одного открытого View на тикет и создаёт их лениво
// при первом обращении.
type Manager struct {
	store     Store
	channel   push.Channel
	rl        RateLimiter
	sendLimit int64

	mu    sync.Mutex
	views map[uint64]*View
}

func NewManager(store Store, channel push.Channel, rl RateLimiter, sendLimit int64) *Manager {
	return &Manager{
		store:     store,
		channel:   channel,
		rl:        rl,
		sendLimit: sendLimit,
		views:     make(map[uint64]*View),
	}
}

// ViewFor возвращает открытый view тикета, открывая его при необходимости.
func (m *Manager) ViewFor(ctx context.Context, ticketID uint64) (*View, error) {
	m.mu.Lock()
	if v, ok := m.views[ticketID]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	// Открываем без блокировки менеджера: Open ходит в стор и redis.
	v, err := Open(ctx, m.store, m.channel, m.rl, m.sendLimit, ticketID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.views[ticketID]; ok {
		// Параллельное открытие выиграло: закрываем дубль.
		go func() {
			if err := v.Close(); err != nil {
				slog.Warn("close duplicate view", "ticket_id", ticketID, "error", err.Error())
			}
		}()
		return cur, nil
	}
	m.views[ticketID] = v
	return v, nil
}

// UpdateStatus сообщает открытому view новый статус тикета. Закрытые view не
// открываются заново: статус подтянется из стора при следующем открытии.
func (m *Manager) UpdateStatus(ticketID uint64, s models.StatusID) {
	m.mu.Lock()
	v, ok := m.views[ticketID]
	m.mu.Unlock()
	if ok {
		v.SetStatus(s)
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	views := m.views
	m.views = make(map[uint64]*View)
	m.mu.Unlock()

	for id, v := range views {
		if err := v.Close(); err != nil {
			slog.Warn("close view", "ticket_id", id, "error", err.Error())
		}
	}
}
