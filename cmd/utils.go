package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"training-backend/internal/database"
	"training-backend/internal/messaging"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// RequeuePendingBackfills publishes a backfill task for every key that still
// has placeholders, so work lost in a restart is picked up again.
func RequeuePendingBackfills(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	pending, err := database.ListPendingBackfills(ctx, db)
	if err != nil {
		return err
	}

	for _, p := range pending {
		if err := publisher.PublishBackfillTask(ctx, messaging.BackfillTaskPayload{
			UserId:    p.UserId,
			Metric:    p.Metric,
			Aggregate: p.Aggregate,
		}); err != nil {
			return fmt.Errorf("error requeueing backfill of %s/%s: %w", p.Metric, p.Aggregate, err)
		}
	}

	if len(pending) > 0 {
		slog.Info("requeued pending backfills", "count", len(pending))
	}
	return nil
}
