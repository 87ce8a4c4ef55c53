package pgticket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const ticketColumns = `
  id, status_id, status_tracker, conversation,
  customer_name, customer_phone, address, description,
  employee_name, employee_phone,
  arrival_date, priority, revision,
  created_at, updated_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	var statusID int32
	var arrivalDate *time.Time
	if err := row.Scan(
		&t.ID, &statusID, &t.StatusTracker, &t.Conversation,
		&t.CustomerName, &t.CustomerPhone, &t.Address, &t.Description,
		&t.EmployeeName, &t.EmployeePhone,
		&arrivalDate, &t.Priority, &t.Revision,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.StatusID = models.StatusID(statusID)
	t.ArrivalDate = arrivalDate
	return &t, nil
}

func (s *Storage) CreateTicket(ctx context.Context, in ticketstore.TicketCreateInput) (*models.Ticket, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO tickets (
  status_id, customer_name, customer_phone, address, description, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
RETURNING id
`, int32(models.StatusOpen), in.CustomerName, in.CustomerPhone, in.Address, in.Description, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert ticket")
	}

	return s.GetTicket(ctx, id)
}

func (s *Storage) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(ctx, `
SELECT`+ticketColumns+`
FROM tickets
WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ticketstore.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select ticket")
	}
	return t, nil
}

func (s *Storage) PatchTicket(ctx context.Context, id uint64, p ticketstore.TicketPatch) error {
	set := []string{"updated_at = now()", "revision = revision + 1"}
	args := []any{id}
	add := func(column string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.StatusID != nil {
		add("status_id", int32(*p.StatusID))
	}
	if p.StatusTracker != nil {
		add("status_tracker", *p.StatusTracker)
	}
	if p.Conversation != nil {
		add("conversation", *p.Conversation)
	}
	if p.EmployeeName != nil {
		add("employee_name", *p.EmployeeName)
	}
	if p.EmployeePhone != nil {
		add("employee_phone", *p.EmployeePhone)
	}
	if p.Priority != nil {
		add("priority", *p.Priority)
	}
	if p.ClearArrivalDate {
		set = append(set, "arrival_date = NULL")
	} else if p.ArrivalDate != nil {
		add("arrival_date", p.ArrivalDate.UTC())
	}

	q := "UPDATE tickets SET " + strings.Join(set, ", ") + " WHERE id = $1"
	if p.ExpectedRevision > 0 {
		args = append(args, p.ExpectedRevision)
		q += fmt.Sprintf(" AND revision = $%d", len(args))
	}

	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "update ticket")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if p.ExpectedRevision > 0 {
		// Либо тикета нет, либо ревизия ушла вперёд.
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return errors.Wrap(err, "check ticket exists")
		}
		if exists {
			return ticketstore.ErrStaleWrite
		}
	}
	return ticketstore.ErrNotFound
}

func (s *Storage) ListTicketsByStatus(ctx context.Context, status models.StatusID, limit, offset int) ([]*models.Ticket, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+ticketColumns+`
FROM tickets
WHERE status_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, int32(status), limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select tickets")
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan ticket")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
