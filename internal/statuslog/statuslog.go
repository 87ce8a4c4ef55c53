package statuslog

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
)

// Временные метки в логе пишутся как toISOString(): UTC, ровно три знака
// после секунд. Так их читают и старые клиенты.
const wireTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type wireTime struct{ time.Time }

func (t wireTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(wireTimeFormat) + `"`), nil
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	// Нечитаемая метка не должна ронять весь лог: оставляем нулевое время.
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		t.Time = parsed
	}
	return nil
}

// wireEntry — проводной вид AuditEntry. Имена и порядок ключей зафиксированы,
// лог хранится в сторе строкой и читается другими клиентами.
type wireEntry struct {
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	StatusID      int32     `json:"statusId"`
	EmployeeName  string    `json:"employeeName"`
	EmployeePhone string    `json:"employeePhone"`
	ChangedBy     string    `json:"changedBy"`
	Timestamp     wireTime  `json:"timestamp"`
	ArrivalDate   *wireTime `json:"arrivalDate,omitempty"`
}

func toWire(e models.AuditEntry) wireEntry {
	w := wireEntry{
		Message:       e.Message,
		Status:        e.Status,
		StatusID:      int32(e.StatusID),
		EmployeeName:  e.EmployeeName,
		EmployeePhone: e.EmployeePhone,
		ChangedBy:     e.ChangedBy,
		Timestamp:     wireTime{e.Timestamp},
	}
	if e.ArrivalDate != nil {
		w.ArrivalDate = &wireTime{*e.ArrivalDate}
	}
	return w
}

func fromWire(w wireEntry) models.AuditEntry {
	e := models.AuditEntry{
		Message:       w.Message,
		Status:        w.Status,
		StatusID:      models.StatusID(w.StatusID),
		EmployeeName:  w.EmployeeName,
		EmployeePhone: w.EmployeePhone,
		ChangedBy:     w.ChangedBy,
		Timestamp:     w.Timestamp.Time,
	}
	if w.ArrivalDate != nil {
		d := w.ArrivalDate.Time
		e.ArrivalDate = &d
	}
	return e
}

// Decode разбирает сохранённый лог. Политика толерантная: пустая строка и
// битый JSON дают пустой лог (с warning), одиночный объект оборачивается в
// одноэлементный лог. Ошибок наружу нет — история не должна блокировать
// смену статуса.
func Decode(s string) []models.AuditEntry {
	if strings.TrimSpace(s) == "" {
		return []models.AuditEntry{}
	}

	var arr []wireEntry
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		var one wireEntry
		if err2 := json.Unmarshal([]byte(s), &one); err2 != nil {
			slog.Warn("invalid status_tracker data, treating as empty", "error", err.Error())
			return []models.AuditEntry{}
		}
		arr = []wireEntry{one}
	}

	out := make([]models.AuditEntry, 0, len(arr))
	for _, w := range arr {
		out = append(out, fromWire(w))
	}
	return out
}

// Encode сериализует лог обратно в проводной вид. Decode(Encode(x)) == x.
func Encode(entries []models.AuditEntry) string {
	arr := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		arr = append(arr, toWire(e))
	}
	b, _ := json.Marshal(arr)
	return string(b)
}

// Append добавляет запись в конец лога и возвращает новый сериализованный
// лог. Существующие записи никогда не переставляются и не удаляются.
func Append(prev string, e models.AuditEntry) string {
	return Encode(append(Decode(prev), e))
}
