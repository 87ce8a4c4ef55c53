package tickets_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/FieldLift/LiftDesk/internal/broker/messages"
	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/services/conversation"
	"github.com/FieldLift/LiftDesk/internal/services/lifecycle"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type TicketsAPI struct {
	engine *lifecycle.Engine
	convs  *conversation.Manager
	store  ticketstore.Store
}

func New(engine *lifecycle.Engine, convs *conversation.Manager, store ticketstore.Store) *TicketsAPI {
	return &TicketsAPI{engine: engine, convs: convs, store: store}
}

func (a *TicketsAPI) Routes(r chi.Router) {
	r.Route("/api/tickets", func(r chi.Router) {
		r.Post("/", a.createTicket)
		r.Get("/", a.listTickets)
		r.Route("/{ticketID}", func(r chi.Router) {
			r.Get("/", a.getTicket)
			r.Put("/", a.putTicket)
			r.Post("/transition", a.transition)
			r.Post("/arrival", a.scheduleArrival)
			r.Get("/status-history", a.statusHistory)
			r.Get("/conversation", a.getConversation)
			r.Post("/conversation", a.postMessage)
		})
	})
}

// Проводной вид тикета совместим с ticket record API: оба лога отдаются
// сырыми строками, как они лежат в сторе.
type wireTicket struct {
	ID                  uint64  `json:"id"`
	StatusID            int32   `json:"status_id"`
	Status              string  `json:"status"`
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

func toWire(t *models.Ticket) wireTicket {
	w := wireTicket{
		ID:               t.ID,
		StatusID:         int32(t.StatusID),
		Status:           t.StatusID.Label(),
		StatusTracker:    t.StatusTracker,
		CustomerComments: t.Conversation,
		CustomerName:     t.CustomerName,
		CustomerPhone:    t.CustomerPhone,
		Address:          t.Address,
		Description:      t.Description,
		EmployeeName:     t.EmployeeName,
		EmployeePhone:    t.EmployeePhone,
		PriorityRank:     t.Priority,
	}
	if t.ArrivalDate != nil {
		s := t.ArrivalDate.UTC().Format(time.RFC3339)
		w.EmployeeArrivalDate = &s
	}
	return w
}

type wireActor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Phone string `json:"phone"`
}

func (wa wireActor) toModel() models.Actor {
	return models.Actor{
		ID:    wa.ID,
		Name:  wa.Name,
		Role:  models.SenderRole(wa.Role),
		Phone: wa.Phone,
	}
}

type wireAuditEntry struct {
	Message       string  `json:"message"`
	Status        string  `json:"status"`
	StatusID      int32   `json:"status_id"`
	EmployeeName  string  `json:"employee_name"`
	EmployeePhone string  `json:"employee_phone"`
	ChangedBy     string  `json:"changed_by"`
	Timestamp     string  `json:"timestamp"`
	ArrivalDate   *string `json:"arrival_date,omitempty"`
}

type wireMessage struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name"`
	SentAt     string `json:"sent_at"`
}

func toWireMessage(m models.ConversationMessage) wireMessage {
	return wireMessage{
		ID:         m.ID,
		Text:       m.Text,
		SenderID:   m.SenderID,
		SenderRole: string(m.SenderRole),
		SenderName: m.SenderName,
		SentAt:     m.SentAt.UTC().Format(time.RFC3339),
	}
}

func (a *TicketsAPI) getTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	t, err := a.engine.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": toWire(t)})
}

type createReq struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Address       string `json:"address"`
	Description   string `json:"description"`
}

func (a *TicketsAPI) createTicket(w http.ResponseWriter, r *http.Request) {
	catalog, ok := a.store.(ticketstore.Catalog)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "ticket creation is not supported by this store"})
		return
	}

	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if req.CustomerName == "" || req.Description == "" {
		badRequest(w, "customer_name and description are required")
		return
	}

	t, err := catalog.CreateTicket(r.Context(), ticketstore.TicketCreateInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Address:       req.Address,
		Description:   req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"list": toWire(t)})
}

func (a *TicketsAPI) listTickets(w http.ResponseWriter, r *http.Request) {
	catalog, ok := a.store.(ticketstore.Catalog)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "listing is not supported by this store"})
		return
	}

	statusID, err := strconv.ParseInt(r.URL.Query().Get("status_id"), 10, 32)
	if err != nil || !models.StatusID(statusID).Valid() {
		badRequest(w, "status_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ts, err := catalog.ListTicketsByStatus(r.Context(), models.StatusID(statusID), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]wireTicket, 0, len(ts))
	for _, t := range ts {
		out = append(out, toWire(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": out})
}

// putTicket — сырой патч в форме ticket record API: {"ticketData": {...}}.
// Движок не вызывается, валидации переходов здесь нет; это сервисный ход для
// миграций и админских правок, как PUT в исходном API.
type putTicketReq struct {
	TicketData struct {
		StatusID            *int32  `json:"status_id"`
		StatusTracker       *string `json:"status_tracker"`
		CustomerComments    *string `json:"customer_comments"`
		EmployeeName        *string `json:"employee_name"`
		EmployeePhone       *string `json:"employee_phone"`
		PriorityRank        *string `json:"priority_rank"`
		EmployeeArrivalDate *string `json:"employee_arrival_date"`
	} `json:"ticketData"`
	ExpectedRevision int64 `json:"expected_revision"`
}

func (a *TicketsAPI) putTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req putTicketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}

	d := req.TicketData
	patch := ticketstore.TicketPatch{
		StatusTracker:    d.StatusTracker,
		Conversation:     d.CustomerComments,
		EmployeeName:     d.EmployeeName,
		EmployeePhone:    d.EmployeePhone,
		Priority:         d.PriorityRank,
		ExpectedRevision: req.ExpectedRevision,
	}
	if d.StatusID != nil {
		sid := models.StatusID(*d.StatusID)
		if !sid.Valid() {
			badRequest(w, "unknown status_id")
			return
		}
		patch.StatusID = &sid
	}
	if d.EmployeeArrivalDate != nil {
		if *d.EmployeeArrivalDate == "" {
			patch.ClearArrivalDate = true
		} else {
			when, err := time.Parse(time.RFC3339, *d.EmployeeArrivalDate)
			if err != nil {
				badRequest(w, "employee_arrival_date must be RFC3339")
				return
			}
			patch.ArrivalDate = &when
		}
	}

	if err := a.store.PatchTicket(r.Context(), id, patch); err != nil {
		writeError(w, err)
		return
	}

	// Патч прошёл мимо движка: снапшот в кэше устарел.
	_ = a.engine.ApplyStatusEvent(r.Context(), messages.TicketStatusChanged{TicketID: id})

	t, err := a.store.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if patch.StatusID != nil {
		a.convs.UpdateStatus(id, *patch.StatusID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": toWire(t)})
}

type transitionReq struct {
	StatusID int32     `json:"status_id"`
	Reason   string    `json:"reason"`
	Actor    wireActor `json:"actor"`
}

func (a *TicketsAPI) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if req.Actor.ID == "" || req.Actor.Name == "" {
		badRequest(w, "actor is required")
		return
	}

	t, err := a.engine.Transition(r.Context(), id, models.StatusID(req.StatusID), req.Actor.toModel(), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	a.convs.UpdateStatus(id, t.StatusID)
	writeJSON(w, http.StatusOK, map[string]any{"list": toWire(t)})
}

type arrivalReq struct {
	ArrivalDate string    `json:"arrival_date"`
	DelayReason string    `json:"delay_reason"`
	Actor       wireActor `json:"actor"`
}

func (a *TicketsAPI) scheduleArrival(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req arrivalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	when, err := time.Parse(time.RFC3339, req.ArrivalDate)
	if err != nil {
		badRequest(w, "arrival_date must be RFC3339")
		return
	}
	if req.Actor.ID == "" || req.Actor.Name == "" {
		badRequest(w, "actor is required")
		return
	}

	t, err := a.engine.ScheduleArrival(r.Context(), id, req.Actor.toModel(), when, req.DelayReason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": toWire(t)})
}

func (a *TicketsAPI) statusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	entries, err := a.engine.StatusHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]wireAuditEntry, 0, len(entries))
	for _, e := range entries {
		we := wireAuditEntry{
			Message:       e.Message,
			Status:        e.Status,
			StatusID:      int32(e.StatusID),
			EmployeeName:  e.EmployeeName,
			EmployeePhone: e.EmployeePhone,
			ChangedBy:     e.ChangedBy,
			Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
		}
		if e.ArrivalDate != nil {
			s := e.ArrivalDate.UTC().Format(time.RFC3339)
			we.ArrivalDate = &s
		}
		out = append(out, we)
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (a *TicketsAPI) getConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	v, err := a.convs.ViewFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs := v.Messages()
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWireMessage(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type postMessageReq struct {
	Text  string    `json:"text"`
	Actor wireActor `json:"actor"`
}

func (a *TicketsAPI) postMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req postMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if req.Text == "" {
		badRequest(w, "text is required")
		return
	}
	if req.Actor.ID == "" {
		badRequest(w, "actor is required")
		return
	}

	v, err := a.convs.ViewFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := v.Send(r.Context(), req.Text, req.Actor.toModel())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": toWireMessage(msg)})
}

func ticketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "ticketID"), 10, 64)
	if err != nil || id == 0 {
		badRequest(w, "invalid ticket id")
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ticketstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ticketstore.ErrStaleWrite):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, conversation.ErrConversationClosed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, conversation.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, lifecycle.ErrPersistence),
		errors.Is(err, conversation.ErrPersistence):
		status = http.StatusBadGateway
	}

	if status == http.StatusBadGateway {
		slog.Error("ticket api", "error", err.Error())
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err.Error())
	}
}
