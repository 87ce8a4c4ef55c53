package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/pkg/errors"
)

// Client ходит в удалённый ticket record API. Тот набор полей и имён — его:
// разговор лежит в customer_comments, приоритет в priority_rank, дата приезда
// в employee_arrival_date.
//
// Ревизий у remote API нет: PatchTicket всегда last-write-wins, поле
// ExpectedRevision игнорируется.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type wireTicket struct {
	ID                  uint64  `json:"id"`
	StatusID            int32   `json:"status_id"`
	StatusTracker       string  `json:"status_tracker"`
	CustomerComments    string  `json:"customer_comments"`
	CustomerName        string  `json:"customer_name"`
	CustomerPhone       string  `json:"customer_phone"`
	Address             string  `json:"address"`
	Description         string  `json:"description"`
	EmployeeName        string  `json:"employee_name"`
	EmployeePhone       string  `json:"employee_phone"`
	EmployeeArrivalDate *string `json:"employee_arrival_date"`
	PriorityRank        string  `json:"priority_rank"`
}

type getResp struct {
	List wireTicket `json:"list"`
}

func fromWire(w wireTicket) *models.Ticket {
	t := &models.Ticket{
		ID:            w.ID,
		StatusID:      models.StatusID(w.StatusID),
		StatusTracker: w.StatusTracker,
		Conversation:  w.CustomerComments,
		CustomerName:  w.CustomerName,
		CustomerPhone: w.CustomerPhone,
		Address:       w.Address,
		Description:   w.Description,
		EmployeeName:  w.EmployeeName,
		EmployeePhone: w.EmployeePhone,
		Priority:      w.PriorityRank,
	}
	if w.EmployeeArrivalDate != nil && *w.EmployeeArrivalDate != "" {
		if parsed, err := time.Parse(time.RFC3339, *w.EmployeeArrivalDate); err == nil {
			t.ArrivalDate = &parsed
		}
	}
	return t
}

func (c *Client) ticketURL(id uint64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/api/tickets/%d", id)
	return u.String(), nil
}

func (c *Client) GetTicket(ctx context.Context, id uint64) (*models.Ticket, error) {
	target, err := c.ticketURL(id)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ticketstore.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ticket record api http %d", resp.StatusCode)
	}

	var rb getResp
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	t := fromWire(rb.List)
	if t.ID == 0 {
		t.ID = id
	}
	return t, nil
}

func (c *Client) PatchTicket(ctx context.Context, id uint64, p ticketstore.TicketPatch) error {
	data := map[string]any{}
	if p.StatusID != nil {
		data["status_id"] = int32(*p.StatusID)
	}
	if p.StatusTracker != nil {
		data["status_tracker"] = *p.StatusTracker
	}
	if p.Conversation != nil {
		data["customer_comments"] = *p.Conversation
	}
	if p.EmployeeName != nil {
		data["employee_name"] = *p.EmployeeName
	}
	if p.EmployeePhone != nil {
		data["employee_phone"] = *p.EmployeePhone
	}
	if p.Priority != nil {
		data["priority_rank"] = *p.Priority
	}
	if p.ClearArrivalDate {
		data["employee_arrival_date"] = nil
	} else if p.ArrivalDate != nil {
		data["employee_arrival_date"] = p.ArrivalDate.UTC().Format(time.RFC3339)
	}
	if len(data) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{"ticketData": data})
	if err != nil {
		return errors.Wrap(err, "marshal body")
	}

	target, err := c.ticketURL(id)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ticketstore.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ticket record api http %d", resp.StatusCode)
	}
	return nil
}
