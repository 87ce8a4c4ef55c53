package messages

import "time"

// TicketStatusChanged публикуется в Kafka после каждого успешного перехода
// статуса. Консьюмеры (другие инстансы API, notifier) используют его для
// инвалидации кэша и живых уведомлений.
type TicketStatusChanged struct {
	TicketID  uint64    `json:"ticket_id"`
	StatusID  int32     `json:"status_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`

	ArrivalDate *time.Time `json:"arrival_date,omitempty"`
}
