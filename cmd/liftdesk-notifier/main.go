package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FieldLift/LiftDesk/config"
	"github.com/FieldLift/LiftDesk/internal/broker/kafka"
	"github.com/FieldLift/LiftDesk/internal/push/redispush"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.LiftDesk.NotifierHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}
	consumerGroup := cfg.LiftDesk.NotifierConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "liftdesk-notifier"
	}
	topic := cfg.Kafka.StatusUpdatedTopicName
	if topic == "" {
		topic = "ticket.status.updated"
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	channel := redispush.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runNotifier(ctx, notifierOpts{httpAddr: httpAddr}, channel, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
