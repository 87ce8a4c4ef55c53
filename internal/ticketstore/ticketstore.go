package ticketstore

import (
	"context"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("ticket not found")

	// ErrStaleWrite возвращается стором с поддержкой ревизий, когда патч
	// собран поверх устаревшей копии тикета.
	ErrStaleWrite = errors.New("stale write: ticket revision changed")
)

// TicketPatch — частичное обновление записи тикета. nil-поля не трогаются.
// Стор заменяет поля целиком (лог пишется одной строкой, без
// compare-and-swap по содержимому).
type TicketPatch struct {
	StatusID      *models.StatusID
	StatusTracker *string
	Conversation  *string
	EmployeeName  *string
	EmployeePhone *string
	Priority      *string

	ArrivalDate      *time.Time
	ClearArrivalDate bool

	// ExpectedRevision > 0 включает оптимистическую проверку: стор отклоняет
	// патч с ErrStaleWrite, если ревизия записи уже другая. 0 — поведение
	// last-write-wins, как у исходного ticket record API.
	ExpectedRevision int64
}

// Store — ticket record gateway: читать и патчить запись тикета по id.
type Store interface {
	GetTicket(ctx context.Context, id uint64) (*models.Ticket, error)
	PatchTicket(ctx context.Context, id uint64, p TicketPatch) error
}

type TicketCreateInput struct {
	CustomerName  string
	CustomerPhone string
	Address       string
	Description   string
}

// Catalog — дополнительная поверхность стора для создания и выборки тикетов.
// Удалённый ticket record API её не даёт, поэтому она не входит в Store.
type Catalog interface {
	CreateTicket(ctx context.Context, in TicketCreateInput) (*models.Ticket, error)
	ListTicketsByStatus(ctx context.Context, status models.StatusID, limit, offset int) ([]*models.Ticket, error)
}
