package models

import "time"

type StatusID int32

const (
	StatusOpen       StatusID = 1
	StatusAssigned   StatusID = 2
	StatusInProgress StatusID = 3
	StatusOnHold     StatusID = 4
	StatusPending    StatusID = 5
	StatusDone       StatusID = 6
)

// Label возвращает человекочитаемое имя статуса (как оно пишется в трекер).
func (s StatusID) Label() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusAssigned:
		return "Assigned"
	case StatusInProgress:
		return "In-Progress"
	case StatusOnHold:
		return "On-hold"
	case StatusPending:
		return "Pending"
	case StatusDone:
		return "Done"
	default:
		return "Unknown"
	}
}

func (s StatusID) Valid() bool {
	return s >= StatusOpen && s <= StatusDone
}

type SenderRole string

const (
	RoleEmployee SenderRole = "employee"
	RoleCustomer SenderRole = "customer"
	RoleAdmin    SenderRole = "admin"
)

// Ticket — запись тикета как её отдаёт стор. Движок читает/пишет только
// StatusID и два append-only лога; остальные поля принадлежат стору.
type Ticket struct {
	ID            uint64
	StatusID      StatusID
	StatusTracker string // serialized audit log, see internal/statuslog
	Conversation  string // serialized conversation log, see internal/convlog
	CustomerName  string
	CustomerPhone string
	Address       string
	Description   string
	EmployeeName  string
	EmployeePhone string
	ArrivalDate   *time.Time
	Priority      string
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditEntry — одна запись об изменении статуса. После append запись
// неизменяема; лог только растёт.
type AuditEntry struct {
	Message       string
	Status        string
	StatusID      StatusID
	EmployeeName  string
	EmployeePhone string
	ChangedBy     string
	Timestamp     time.Time
	ArrivalDate   *time.Time
}

type ConversationMessage struct {
	ID         string
	Text       string
	SenderID   string
	SenderRole SenderRole
	SenderName string
	SentAt     time.Time
}

// Actor — явная идентичность вызывающего. Передаётся в каждый вызов движка,
// никакого ambient-состояния.
type Actor struct {
	ID    string
	Name  string
	Role  SenderRole
	Phone string
}
