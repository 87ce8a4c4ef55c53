package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FieldLift/LiftDesk/config"
	"github.com/FieldLift/LiftDesk/internal/broker/kafka"
	"github.com/FieldLift/LiftDesk/internal/cache/rediscache"
	"github.com/FieldLift/LiftDesk/internal/push/redispush"
	"github.com/FieldLift/LiftDesk/internal/services/conversation"
	"github.com/FieldLift/LiftDesk/internal/services/lifecycle"
	"github.com/FieldLift/LiftDesk/internal/storage/pgticket"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/FieldLift/LiftDesk/internal/ticketstore/httpstore"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.LiftDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.LiftDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "liftdesk-api"
	}
	topic := cfg.Kafka.StatusUpdatedTopicName
	if topic == "" {
		topic = "ticket.status.updated"
	}
	cacheTTL := time.Duration(cfg.LiftDesk.CurrentTicketTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	sendLimit := int64(cfg.LiftDesk.SendRateLimitPerMinute)
	if sendLimit <= 0 {
		sendLimit = 30
	}

	var store ticketstore.Store
	switch cfg.LiftDesk.TicketStoreMode {
	case "http":
		store = httpstore.New(cfg.LiftDesk.TicketStoreBaseURL)
	default:
		sslMode := cfg.Database.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
		st, err := pgticket.New(connString)
		if err != nil {
			panic(err)
		}
		defer st.Close()
		store = st
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)
	channel := redispush.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	engine := lifecycle.New(store, producer, topic, rc, cacheTTL)
	convs := conversation.NewManager(store, channel, rl, sendLimit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runLiftDeskAPI(ctx, liftDeskAPIOpts{httpAddr: httpAddr}, engine, convs, store, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
