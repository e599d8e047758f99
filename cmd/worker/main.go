package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"training-backend/cmd"
	"training-backend/internal/core"
	"training-backend/internal/database"
	"training-backend/internal/messaging"
	"training-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION,notEmpty,required"`
	ActivityBucket    string `env:"ACTIVITY_BUCKET" envDefault:"activities"`
	BackfillWorkers   int    `env:"BACKFILL_WORKERS" envDefault:"8"`
	Prefetch          int    `env:"PREFETCH" envDefault:"1"`
	RequeueOnStart    bool   `env:"REQUEUE_ON_START" envDefault:"true"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s3Provider, err := storage.NewS3Provider(context.Background(), &storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create S3 client: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.Prefetch)
	if err != nil {
		log.Fatalf("Worker: Failed to connect to RabbitMQ: %v", err)
	}

	if cfg.RequeueOnStart {
		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Worker: Failed to connect to RabbitMQ: %v", err)
		}
		if err := cmd.RequeuePendingBackfills(context.Background(), db, publisher); err != nil {
			log.Printf("Worker: error requeueing pending backfills: %v", err)
		}
		publisher.Close()
	}

	provider := core.NewStoredTimeseriesProvider(db, s3Provider, cfg.ActivityBucket)
	backfiller := core.NewBackfiller(db, provider, cfg.BackfillWorkers)
	worker := core.NewTaskProcessor(backfiller, receiver)

	done := make(chan struct{})
	go func() {
		worker.Start()
		close(done)
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutdown signal received, waiting for workers to finish...")
		worker.Stop()
	case <-done:
		log.Println("Task queue closed.")
	}

	log.Println("Worker process stopped.")
}
