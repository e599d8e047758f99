package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"training-backend/internal/core/types"
	"training-backend/internal/core/utils"
	"training-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TimeseriesProvider re-reads the per-second series of an archived activity.
type TimeseriesProvider interface {
	Timeseries(ctx context.Context, activityId uuid.UUID) (*types.ActivityTimeseries, error)
}

const maxBackfillLocks = 4096

// Backfiller keeps the derived value cache complete. Concurrent calls for the
// same key are safe: writes are idempotent upserts and, inside one process,
// a keyed lock keeps two workers from parsing the same activity twice.
type Backfiller struct {
	db         *gorm.DB
	provider   TimeseriesProvider
	locks      *utils.MutexMap
	maxWorkers int
}

func NewBackfiller(db *gorm.DB, provider TimeseriesProvider, maxWorkers int) *Backfiller {
	return &Backfiller{
		db:         db,
		provider:   provider,
		locks:      utils.NewMutexMap(maxBackfillLocks),
		maxWorkers: max(maxWorkers, 1),
	}
}

type computedValue struct {
	activityId uuid.UUID
	value      types.DerivedValue
}

// EnsureComputed returns the cached value of key for every activity,
// computing and persisting the ones missing first.
func (b *Backfiller) EnsureComputed(ctx context.Context, key types.DerivedMetricKey, activityIds []uuid.UUID) (map[uuid.UUID]types.DerivedValue, error) {
	rows, err := database.ListDerivedValues(ctx, b.db, string(key.Metric), string(key.Aggregate), activityIds)
	if err != nil {
		return nil, err
	}

	values := make(map[uuid.UUID]types.DerivedValue, len(activityIds))
	for _, row := range rows {
		if row.Computed {
			values[row.ActivityId] = derivedFromRow(row)
		}
	}

	var missing []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, id := range activityIds {
		if _, ok := values[id]; !ok && !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	if len(missing) == 0 {
		return values, nil
	}

	slog.Info("backfilling derived values", "key", key.String(), "activities", len(missing))

	computed, err := utils.Collect(ctx, missing, func(ctx context.Context, id uuid.UUID) (computedValue, error) {
		return b.computeOne(ctx, key, id)
	}, b.maxWorkers)
	if err != nil {
		return nil, err
	}

	for _, c := range computed {
		values[c.activityId] = c.value
	}

	return values, nil
}

// Backfill computes key for every activity of the user still lacking it.
func (b *Backfiller) Backfill(ctx context.Context, userId uuid.UUID, key types.DerivedMetricKey) (int, error) {
	ids, err := database.ListUncomputedActivityIds(ctx, b.db, userId, string(key.Metric), string(key.Aggregate))
	if err != nil {
		return 0, err
	}
	if _, err := b.EnsureComputed(ctx, key, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (b *Backfiller) computeOne(ctx context.Context, key types.DerivedMetricKey, activityId uuid.UUID) (computedValue, error) {
	lockKey := activityId.String() + "/" + key.String()
	if err := b.locks.Lock(lockKey); err == nil {
		defer func() {
			if err := b.locks.Unlock(lockKey); err != nil {
				slog.Error("error releasing backfill lock", "key", lockKey, "error", err)
			}
		}()
	} else {
		slog.Debug("backfill lock unavailable, computing without it", "key", lockKey, "error", err)
	}

	// Another worker may have finished while this one waited on the lock.
	rows, err := database.ListDerivedValues(ctx, b.db, string(key.Metric), string(key.Aggregate), []uuid.UUID{activityId})
	if err != nil {
		return computedValue{}, err
	}
	if len(rows) == 1 && rows[0].Computed {
		return computedValue{activityId: activityId, value: derivedFromRow(rows[0])}, nil
	}

	row := database.ActivityDerivedValue{
		ActivityId: activityId,
		Metric:     string(key.Metric),
		Aggregate:  string(key.Aggregate),
		Computed:   true,
	}

	series, err := b.provider.Timeseries(ctx, activityId)
	switch {
	case err == nil:
		if v, ok := key.Aggregate.Compute(series.Values(key.Metric)); ok {
			row.Value = sql.NullFloat64{Float64: v, Valid: true}
		}
	case ctx.Err() != nil:
		return computedValue{}, ctx.Err()
	case errors.Is(err, ErrActivityNotFound):
		// Deleted while the query ran; nothing to cache.
		return computedValue{activityId: activityId, value: types.DerivedValue{State: types.ComputedEmpty}}, nil
	case errors.Is(err, ErrUnreadableFile):
		slog.Warn("could not read activity timeseries, caching empty value", "activity_id", activityId, "key", key.String(), "error", err)
	default:
		// Database and other transient failures are retried on the next request.
		return computedValue{}, fmt.Errorf("error computing %s for activity %s: %w", key, activityId, err)
	}

	if err := database.UpsertDerivedValue(ctx, b.db, row); err != nil {
		return computedValue{}, fmt.Errorf("error caching %s for activity %s: %w", key, activityId, err)
	}

	// A concurrent writer may have won the upsert; the stored row is authoritative.
	rows, err = database.ListDerivedValues(ctx, b.db, string(key.Metric), string(key.Aggregate), []uuid.UUID{activityId})
	if err != nil {
		return computedValue{}, err
	}
	if len(rows) == 1 && rows[0].Computed {
		row = rows[0]
	}

	return computedValue{activityId: activityId, value: derivedFromRow(row)}, nil
}
