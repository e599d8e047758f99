package main

import (
	"context"
	"fmt"
	"os"

	"training-backend/internal/core"
	"training-backend/internal/database"
	"training-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type AdminConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	StorageDir        string `env:"STORAGE_DIR"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ActivityBucket    string `env:"ACTIVITY_BUCKET" envDefault:"activities"`
	BackfillWorkers   int    `env:"BACKFILL_WORKERS" envDefault:"4"`
}

var (
	envFile string
	cfg     AdminConfig
	db      *gorm.DB
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Maintenance commands for the training backend",
	Long: `Maintenance commands for the training backend.

Configuration is read from the environment, optionally loaded from the file
passed with --env:

  DATABASE_URL     postgres url, or sqlite://<path>
  STORAGE_DIR      serve activity files from a local directory instead of S3
  ACTIVITY_BUCKET  bucket holding the uploaded activity files`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("error loading env file '%s': %w", envFile, err)
			}
		}
		if err := env.Parse(&cfg); err != nil {
			return fmt.Errorf("error parsing config: %w", err)
		}

		var err error
		db, err = database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to load env from")
	rootCmd.AddCommand(migrateCmd, pendingCmd, backfillCmd, valuesCmd)
}

func activityStorage(ctx context.Context) (storage.Provider, error) {
	if cfg.StorageDir != "" {
		return storage.NewLocalProvider(cfg.StorageDir)
	}
	return storage.NewS3Provider(ctx, &storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
}

func newBackfiller(ctx context.Context) (*core.Backfiller, storage.Provider, error) {
	store, err := activityStorage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	provider := core.NewStoredTimeseriesProvider(db, store, cfg.ActivityBucket)
	return core.NewBackfiller(db, provider, cfg.BackfillWorkers), store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
