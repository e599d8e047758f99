package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"training-backend/cmd"
	"training-backend/internal/api"
	"training-backend/internal/core"
	"training-backend/internal/database"
	"training-backend/internal/messaging"
	"training-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIConfig struct {
	DatabaseURL       string   `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string   `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string   `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string   `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string   `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string   `env:"AWS_REGION,notEmpty,required"`
	ActivityBucket    string   `env:"ACTIVITY_BUCKET" envDefault:"activities"`
	AuthMode          string   `env:"AUTH_MODE" envDefault:"multi_user"`
	AllowedOrigins    []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	BackfillWorkers   int      `env:"BACKFILL_WORKERS" envDefault:"8"`
	APIPort           string   `env:"API_PORT" envDefault:"8001"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	authMode, err := api.ParseAuthMode(cfg.AuthMode)
	if err != nil {
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
		log.Fatalf("Failed to create S3 client: %v", err)
	}
	if err := s3Provider.CreateBucket(context.Background(), cfg.ActivityBucket); err != nil {
		log.Fatalf("Failed to create activity bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	auth, err := api.NewAuthService(context.Background(), db, authMode)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	// Queries fill in missing derived values themselves, so the api needs its
	// own backfiller next to the workers.
	provider := core.NewStoredTimeseriesProvider(db, s3Provider, cfg.ActivityBucket)
	backfiller := core.NewBackfiller(db, provider, cfg.BackfillWorkers)
	backend := api.NewBackendService(db, s3Provider, cfg.ActivityBucket, publisher, backfiller)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Mount("/api", api.NewHandler(auth, backend))

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
