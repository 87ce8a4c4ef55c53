package convlog

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
)

const wireTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Старые клиенты писали поле date локализованной строкой. Понимаем и её,
// чтобы не терять историю при миграции.
const legacyDateFormat = "Jan 02, 2006, 03:04 PM"

// wireMessage — одно сообщение в проводном виде.
type wireMessage struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name"`
	SentAt     string `json:"sent_at,omitempty"`
	Date       string `json:"date,omitempty"`
}

// wireGroup — обёртка вокруг сообщения. Сегодня каждая группа держит ровно
// одно сообщение; обёртка сохраняется для совместимости с групповыми
// записями в будущем.
type wireGroup struct {
	Message wireMessage `json:"message"`
}

func toWire(m models.ConversationMessage) wireGroup {
	return wireGroup{Message: wireMessage{
		ID:         m.ID,
		Text:       m.Text,
		SenderID:   m.SenderID,
		SenderRole: string(m.SenderRole),
		SenderName: m.SenderName,
		SentAt:     m.SentAt.UTC().Format(wireTimeFormat),
	}}
}

func fromWire(w wireMessage) models.ConversationMessage {
	m := models.ConversationMessage{
		ID:         w.ID,
		Text:       w.Text,
		SenderID:   w.SenderID,
		SenderRole: models.SenderRole(w.SenderRole),
		SenderName: w.SenderName,
	}
	if w.SentAt != "" {
		if t, err := time.Parse(time.RFC3339, w.SentAt); err == nil {
			m.SentAt = t
		}
	} else if w.Date != "" {
		if t, err := time.Parse(legacyDateFormat, w.Date); err == nil {
			m.SentAt = t
		}
	}
	return m
}

// Decode разбирает сохранённый лог разговора. Битый JSON даёт пустой список
// (с warning), элементы без текста пропускаются. Элемент может быть как
// обёрнутым {message: {...}}, так и голым сообщением из совсем старых логов.
func Decode(s string) []models.ConversationMessage {
	if strings.TrimSpace(s) == "" {
		return []models.ConversationMessage{}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		slog.Warn("invalid conversation data, treating as empty", "error", err.Error())
		return []models.ConversationMessage{}
	}

	out := make([]models.ConversationMessage, 0, len(raw))
	for _, el := range raw {
		var g wireGroup
		if err := json.Unmarshal(el, &g); err == nil && g.Message.Text != "" {
			out = append(out, fromWire(g.Message))
			continue
		}
		var bare wireMessage
		if err := json.Unmarshal(el, &bare); err == nil && bare.Text != "" {
			out = append(out, fromWire(bare))
		}
	}
	return out
}

// Encode сериализует список сообщений, каждое в своей обёртке.
func Encode(msgs []models.ConversationMessage) string {
	arr := make([]wireGroup, 0, len(msgs))
	for _, m := range msgs {
		arr = append(arr, toWire(m))
	}
	b, _ := json.Marshal(arr)
	return string(b)
}

// Append добавляет сообщение в конец лога, толерантно к прежнему содержимому.
func Append(prev string, m models.ConversationMessage) string {
	return Encode(append(Decode(prev), m))
}
