package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/FieldLift/LiftDesk/internal/api/tickets_api"
	"github.com/FieldLift/LiftDesk/internal/broker/messages"
	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/services/conversation"
	"github.com/FieldLift/LiftDesk/internal/services/lifecycle"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/go-chi/chi/v5"
)

type liftDeskAPIOpts struct {
	httpAddr string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runLiftDeskAPI(ctx context.Context, opts liftDeskAPIOpts, engine *lifecycle.Engine, convs *conversation.Manager, store ticketstore.Store, consumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	tickets_api.New(engine, convs, store).Routes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ctx.Err() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"shutting down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	// Переходы с других инстансов: перечитываем кэш снапшота и статус
	// открытых view.
	if consumer != nil {
		go func() {
			err := consumer.Consume(ctx, func(key, value []byte) error {
				var msg messages.TicketStatusChanged
				if err := json.Unmarshal(value, &msg); err != nil {
					slog.Warn("skip malformed status event", "error", err.Error())
					return nil
				}
				if err := engine.ApplyStatusEvent(ctx, msg); err != nil {
					slog.Warn("apply status event", "ticket_id", msg.TicketID, "error", err.Error())
					return nil
				}
				convs.UpdateStatus(msg.TicketID, models.StatusID(msg.StatusID))
				return nil
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("status consumer stopped", "error", err.Error())
			}
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
		convs.CloseAll()
	}()

	return srv.Serve(lis)
}
