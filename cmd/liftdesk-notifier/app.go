package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/FieldLift/LiftDesk/internal/broker/messages"
	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/push"
	"github.com/go-chi/chi/v5"
)

type notifierOpts struct {
	httpAddr string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// notifier переливает TicketStatusChanged из Kafka в live-канал статусов
// тикета. Он не трогает стор: событие самодостаточно.
type notifier struct {
	pub push.StatusPublisher

	received  atomic.Int64
	published atomic.Int64
	skipped   atomic.Int64
}

func (n *notifier) handler(ctx context.Context) func(key, value []byte) error {
	return func(_, value []byte) error {
		n.received.Add(1)

		var msg messages.TicketStatusChanged
		if err := json.Unmarshal(value, &msg); err != nil || msg.TicketID == 0 {
			n.skipped.Add(1)
			slog.Warn("skip malformed status event")
			return nil
		}

		notice := push.StatusNotice{
			TicketID:  msg.TicketID,
			StatusID:  models.StatusID(msg.StatusID),
			Status:    msg.Status,
			Message:   msg.Message,
			ChangedBy: msg.ChangedBy,
			ChangedAt: msg.ChangedAt,
		}
		if err := n.pub.PublishStatus(ctx, notice); err != nil {
			// Уведомление best-effort: событие коммитим, подписчик догонит
			// статус из стора.
			n.skipped.Add(1)
			slog.Warn("publish status notice", "ticket_id", msg.TicketID, "error", err.Error())
			return nil
		}
		n.published.Add(1)
		return nil
	}
}

func (n *notifier) Stats() map[string]int64 {
	return map[string]int64{
		"received":  n.received.Load(),
		"published": n.published.Load(),
		"skipped":   n.skipped.Load(),
	}
}

func runNotifier(ctx context.Context, opts notifierOpts, pub push.StatusPublisher, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	n := &notifier{pub: pub}

	go func() {
		err := consumer.Consume(ctx, n.handler(ctx))
		if err != nil && ctx.Err() == nil {
			slog.Error("notifier consumer stopped", "error", err.Error())
		}
	}()

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(n.Stats())
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
