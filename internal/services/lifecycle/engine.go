package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/FieldLift/LiftDesk/internal/broker/messages"
	"github.com/FieldLift/LiftDesk/internal/cache"
	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/statuslog"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/pkg/errors"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPersistence       = errors.New("persistence failure")
)

// Канонические сообщения трекера. Причина для On-hold/Pending подставляется
// по умолчанию, а не отклоняется: выездной инженер не должен блокироваться
// пустым полем.
const (
	assignedMessage      = "Engineer is Assigned"
	startedMessage       = "Work started"
	resumedMessage       = "Work resumed"
	doneMessage          = "Service Completed"
	defaultOnHoldReason  = "On-Hold from Employee"
	defaultPendingReason = "Pending from Employee"
	defaultServiceNote   = "Service Update from Employee"
)

type Store interface {
	GetTicket(ctx context.Context, id uint64) (*models.Ticket, error)
	PatchTicket(ctx context.Context, id uint64, p ticketstore.TicketPatch) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Engine проводит тикет по жизненному циклу статусов и ведёт его audit-лог.
type Engine struct {
	store      Store
	producer   Producer
	topic      string
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(store Store, producer Producer, topic string, c cache.BytesCache, currentTTL time.Duration) *Engine {
	return &Engine{store: store, producer: producer, topic: topic, cache: c, currentTTL: currentTTL}
}

// NextEntry валидирует запрошенный переход против текущего статуса тикета и
// строит следующую запись аудита. Чистая функция, ничего не персистит.
func NextEntry(t *models.Ticket, target models.StatusID, actor models.Actor, reason string) (models.AuditEntry, error) {
	if !target.Valid() {
		return models.AuditEntry{}, errors.Wrapf(ErrInvalidTransition, "unknown status %d", target)
	}

	var message string
	switch t.StatusID {
	case models.StatusOpen:
		if target != models.StatusAssigned {
			return models.AuditEntry{}, transitionErr(t.StatusID, target)
		}
		message = assignedMessage
	case models.StatusAssigned:
		if target != models.StatusInProgress {
			return models.AuditEntry{}, transitionErr(t.StatusID, target)
		}
		if t.ArrivalDate == nil {
			return models.AuditEntry{}, errors.Wrap(ErrInvalidTransition, "arrival date not scheduled")
		}
		message = startedMessage
	case models.StatusInProgress:
		switch target {
		case models.StatusDone:
			message = doneMessage
		case models.StatusOnHold:
			message = orDefault(reason, defaultOnHoldReason)
		case models.StatusPending:
			message = orDefault(reason, defaultPendingReason)
		case models.StatusInProgress:
			// Service update: запись в трекер без смены статуса.
			message = orDefault(reason, defaultServiceNote)
		default:
			return models.AuditEntry{}, transitionErr(t.StatusID, target)
		}
	case models.StatusPending:
		switch target {
		case models.StatusInProgress:
			message = resumedMessage
		case models.StatusDone:
			message = doneMessage
		case models.StatusOnHold:
			message = orDefault(reason, defaultOnHoldReason)
		default:
			return models.AuditEntry{}, transitionErr(t.StatusID, target)
		}
	default:
		// On-hold и Done — терминальные для движка.
		return models.AuditEntry{}, transitionErr(t.StatusID, target)
	}

	employeeName := t.EmployeeName
	employeePhone := t.EmployeePhone
	if target == models.StatusAssigned {
		employeeName = actor.Name
		employeePhone = actor.Phone
	}

	return models.AuditEntry{
		Message:       message,
		Status:        target.Label(),
		StatusID:      target,
		EmployeeName:  employeeName,
		EmployeePhone: employeePhone,
		ChangedBy:     actor.Name,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func orDefault(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}

func transitionErr(from, to models.StatusID) error {
	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from.Label(), to.Label())
}

// Transition применяет смену статуса: читает тикет из стора, строит запись
// аудита, дописывает её в лог и сохраняет новый лог вместе с новым status_id
// ОДНИМ патчем. Инвариант: status_id тикета всегда равен statusId последней
// записи лога.
func (e *Engine) Transition(ctx context.Context, ticketID uint64, target models.StatusID, actor models.Actor, reason string) (*models.Ticket, error) {
	t, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	entry, err := NextEntry(t, target, actor, reason)
	if err != nil {
		return nil, err
	}

	tracker := statuslog.Append(t.StatusTracker, entry)
	patch := ticketstore.TicketPatch{
		StatusID:         &target,
		StatusTracker:    &tracker,
		ExpectedRevision: t.Revision,
	}
	if target == models.StatusAssigned {
		priority := "High"
		patch.Priority = &priority
		patch.EmployeeName = &entry.EmployeeName
		patch.EmployeePhone = &entry.EmployeePhone
		patch.ClearArrivalDate = true
	}

	if err := e.patch(ctx, ticketID, patch); err != nil {
		return nil, err
	}

	t.StatusID = target
	t.StatusTracker = tracker
	updated := e.refresh(ctx, ticketID, t)
	e.publishChanged(ctx, ticketID, entry)
	return updated, nil
}

// ScheduleArrival переносит дату приезда инженера по назначенному тикету.
// Статус не меняется, но перенос фиксируется записью в трекере с arrivalDate.
func (e *Engine) ScheduleArrival(ctx context.Context, ticketID uint64, actor models.Actor, when time.Time, delayReason string) (*models.Ticket, error) {
	t, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.StatusID != models.StatusAssigned {
		return nil, errors.Wrapf(ErrInvalidTransition, "arrival reschedule in status %s", t.StatusID.Label())
	}

	when = when.UTC()
	message := fmt.Sprintf("Engineer will arrive on %s at %s", when.Format("Mon Jan 2 2006"), when.Format("15:04"))
	if delayReason != "" {
		message += " due to " + delayReason
	}

	arrival := when
	entry := models.AuditEntry{
		Message:       message,
		Status:        t.StatusID.Label(),
		StatusID:      t.StatusID,
		EmployeeName:  t.EmployeeName,
		EmployeePhone: t.EmployeePhone,
		ChangedBy:     actor.Name,
		Timestamp:     time.Now().UTC(),
		ArrivalDate:   &arrival,
	}

	tracker := statuslog.Append(t.StatusTracker, entry)
	patch := ticketstore.TicketPatch{
		StatusTracker:    &tracker,
		ArrivalDate:      &arrival,
		ExpectedRevision: t.Revision,
	}
	if err := e.patch(ctx, ticketID, patch); err != nil {
		return nil, err
	}

	t.StatusTracker = tracker
	t.ArrivalDate = &arrival
	updated := e.refresh(ctx, ticketID, t)
	e.publishChanged(ctx, ticketID, entry)
	return updated, nil
}

// Get читает тикет через best-effort кэш текущего снапшота.
func (e *Engine) Get(ctx context.Context, id uint64) (*models.Ticket, error) {
	if e.cache != nil && e.currentTTL > 0 {
		if b, ok, err := e.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var t models.Ticket
			if json.Unmarshal(b, &t) == nil {
				return &t, nil
			}
		}
	}

	t, err := e.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	e.cacheSet(ctx, t)
	return t, nil
}

// StatusHistory возвращает разобранный audit-лог тикета.
func (e *Engine) StatusHistory(ctx context.Context, id uint64) ([]models.AuditEntry, error) {
	t, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return statuslog.Decode(t.StatusTracker), nil
}

// ApplyStatusEvent обрабатывает TicketStatusChanged из Kafka: переход мог
// пройти на другом инстансе, наш кэш снапшота устарел.
func (e *Engine) ApplyStatusEvent(ctx context.Context, msg messages.TicketStatusChanged) error {
	if msg.TicketID == 0 {
		return errors.New("ticket_id is required")
	}
	if e.cache == nil || e.currentTTL <= 0 {
		return nil
	}

	t, err := e.store.GetTicket(ctx, msg.TicketID)
	if err != nil {
		// Не смогли перечитать — хотя бы сбросим устаревший снапшот.
		_ = e.cache.Del(ctx, currentKey(msg.TicketID))
		return nil
	}
	e.cacheSet(ctx, t)
	return nil
}

func (e *Engine) patch(ctx context.Context, id uint64, p ticketstore.TicketPatch) error {
	err := e.store.PatchTicket(ctx, id, p)
	if err == nil {
		return nil
	}
	if errors.Is(err, ticketstore.ErrStaleWrite) || errors.Is(err, ticketstore.ErrNotFound) {
		return err
	}
	return errors.Wrapf(ErrPersistence, "patch ticket %d: %s", id, err)
}

// refresh перечитывает тикет после патча и обновляет кэш; при неудаче
// возвращает локально обновлённую копию.
func (e *Engine) refresh(ctx context.Context, id uint64, local *models.Ticket) *models.Ticket {
	t, err := e.store.GetTicket(ctx, id)
	if err != nil {
		return local
	}
	e.cacheSet(ctx, t)
	return t
}

func (e *Engine) cacheSet(ctx context.Context, t *models.Ticket) {
	if e.cache == nil || e.currentTTL <= 0 {
		return
	}
	b, _ := json.Marshal(t)
	_ = e.cache.Set(ctx, currentKey(t.ID), b, e.currentTTL)
}

func (e *Engine) publishChanged(ctx context.Context, id uint64, entry models.AuditEntry) {
	if e.producer == nil || e.topic == "" {
		return
	}
	msg := messages.TicketStatusChanged{
		TicketID:    id,
		StatusID:    int32(entry.StatusID),
		Status:      entry.Status,
		Message:     entry.Message,
		ChangedBy:   entry.ChangedBy,
		ChangedAt:   entry.Timestamp,
		ArrivalDate: entry.ArrivalDate,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", id))
	if err := e.producer.Publish(ctx, e.topic, key, b); err != nil {
		// Событие — best-effort: стор уже обновлён, переход состоялся.
		slog.Warn("publish status change", "ticket_id", id, "error", err.Error())
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("ticket:%d:current", id)
}
