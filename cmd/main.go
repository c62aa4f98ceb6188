package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/agent"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/config"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/database"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/kafka"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/s3"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/services/notify"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	if err := db.Init(); err != nil {
		log.Fatalf("Failed to init database schema: %v", err)
	}

	s3Client, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.SessionTopic)
	if err != nil {
		log.Fatalf("Failed to create Kafka consumer: %v", err)
	}
	defer consumer.Close()
	consumer.StartListening(ctx)

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic, cfg.Kafka.AlertTopic)
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	defer producer.Close()

	notifier := notify.NewClient(cfg.Alerts.WebhookURL)

	a := agent.New(cfg, db, s3Client, consumer, producer, notifier)
	go a.ListenAndRun(ctx)

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()
}
