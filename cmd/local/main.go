package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
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

type Config struct {
	Root            string `env:"ROOT" envDefault:"./training-data"`
	Port            int    `env:"PORT" envDefault:"3001"`
	ActivityBucket  string `env:"ACTIVITY_BUCKET" envDefault:"activities"`
	BackfillWorkers int    `env:"BACKFILL_WORKERS" envDefault:"4"`
}

func createServer(auth *api.AuthService, backend *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Mount("/api", api.NewHandler(auth, backend))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db, err := database.NewDatabase("sqlite://" + filepath.Join(cfg.Root, "db", "training.db"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	if err := store.CreateBucket(context.Background(), cfg.ActivityBucket); err != nil {
		log.Fatalf("Failed to create activity bucket: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	provider := core.NewStoredTimeseriesProvider(db, store, cfg.ActivityBucket)
	backfiller := core.NewBackfiller(db, provider, cfg.BackfillWorkers)
	worker := core.NewTaskProcessor(backfiller, queue)

	auth, err := api.NewAuthService(context.Background(), db, api.SingleUser)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}
	backend := api.NewBackendService(db, store, cfg.ActivityBucket, queue, backfiller)

	server := createServer(auth, backend, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	go func() {
		if err := cmd.RequeuePendingBackfills(context.Background(), db, queue); err != nil {
			slog.Error("error requeueing pending backfills", "error", err)
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
