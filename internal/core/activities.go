package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"training-backend/internal/core/metrics"
	"training-backend/internal/core/parser"
	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/internal/messaging"
	"training-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reasons a file of an upload is rejected.
const (
	ReasonCannotReadContent        = "CannotReadContent"
	ReasonCannotProcessFile        = "CannotProcessFile"
	ReasonDuplicatedActivity       = "DuplicatedActivity"
	ReasonIncoherentTimeseries     = "IncoherentTimeseries"
	ReasonUnsupportedFileExtension = "UnsupportedFileExtension"
	ReasonUnknown                  = "Unknown"
)

type UploadedFile struct {
	Name string
	Data []byte
	// ReadErr is set when the multipart part could not be read.
	ReadErr error
}

type UnprocessableFile struct {
	Name   string
	Reason string
}

type UploadResult struct {
	CreatedIds  []uuid.UUID
	Unprocessed []UnprocessableFile
}

// ActivityUpdate sets the non-nil fields. A Clear flag resets its field to
// null and takes precedence over a value.
type ActivityUpdate struct {
	Name        *string
	Rpe         *int
	WorkoutType *string
	BonkStatus  *string

	ClearRpe         bool
	ClearWorkoutType bool
	ClearBonkStatus  bool
}

// ActivityService archives uploaded activity files and manages the
// user-editable fields of activities.
type ActivityService struct {
	db        *gorm.DB
	storage   storage.Provider
	bucket    string
	publisher messaging.Publisher
}

func NewActivityService(db *gorm.DB, storage storage.Provider, bucket string, publisher messaging.Publisher) *ActivityService {
	return &ActivityService{db: db, storage: storage, bucket: bucket, publisher: publisher}
}

func (s *ActivityService) Upload(ctx context.Context, userId uuid.UUID, files []UploadedFile) (UploadResult, error) {
	result := UploadResult{CreatedIds: []uuid.UUID{}, Unprocessed: []UnprocessableFile{}}

	for _, file := range files {
		id, reason, err := s.uploadOne(ctx, userId, file)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			slog.Error("error archiving activity file", "filename", file.Name, "error", err)
		}
		if reason != "" {
			result.Unprocessed = append(result.Unprocessed, UnprocessableFile{Name: file.Name, Reason: reason})
			continue
		}
		result.CreatedIds = append(result.CreatedIds, id)
	}

	if len(result.CreatedIds) > 0 {
		s.warmUp(ctx, userId, result.CreatedIds)
	}

	return result, nil
}

func (s *ActivityService) uploadOne(ctx context.Context, userId uuid.UUID, file UploadedFile) (uuid.UUID, string, error) {
	ext, err := parser.Extension(file.Name)
	if err != nil {
		return uuid.Nil, ReasonUnsupportedFileExtension, nil
	}
	if file.ReadErr != nil {
		return uuid.Nil, ReasonCannotReadContent, nil
	}

	parsed, err := parser.Parse(ext, file.Data)
	if err != nil {
		if errors.Is(err, parser.ErrIncoherentTimeseries) {
			return uuid.Nil, ReasonIncoherentTimeseries, nil
		}
		slog.Info("could not parse activity file", "filename", file.Name, "error", err)
		return uuid.Nil, ReasonCannotProcessFile, nil
	}

	hash := sha256.Sum256(file.Data)
	contentHash := hex.EncodeToString(hash[:])

	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Activity{}).
		Where("user_id = ? AND content_hash = ?", userId, contentHash).
		Count(&count).Error; err != nil {
		return uuid.Nil, ReasonUnknown, fmt.Errorf("error checking duplicate activity: %w", err)
	}
	if count > 0 {
		return uuid.Nil, ReasonDuplicatedActivity, nil
	}

	id := uuid.New()
	key := fmt.Sprintf("%s/%s.%s", userId, id, ext)

	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(file.Data)); err != nil {
		return uuid.Nil, ReasonUnknown, fmt.Errorf("error storing activity file: %w", err)
	}

	stats := make(map[string]float64, len(parsed.Statistics))
	for stat, v := range parsed.Statistics {
		stats[string(stat)] = v
	}
	_, offset := parsed.StartTime.Zone()

	activity := database.Activity{
		Id:               id,
		UserId:           userId,
		Name:             strings.TrimSuffix(filepath.Base(file.Name), filepath.Ext(file.Name)),
		StartTime:        parsed.StartTime.UTC(),
		UtcOffsetSeconds: offset,
		Sport:            string(parsed.Sport),
		Statistics:       datatypes.NewJSONType(stats),
		FileKey:          key,
		ContentHash:      contentHash,
		CreationTime:     time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&activity).Error; err != nil {
		if err := s.storage.DeleteObject(ctx, s.bucket, key); err != nil {
			slog.Error("error removing orphan activity file", "key", key, "error", err)
		}
		return uuid.Nil, ReasonUnknown, fmt.Errorf("error saving activity: %w", err)
	}

	slog.Info("archived activity", "activity_id", id, "sport", activity.Sport, "user_id", userId)

	return id, "", nil
}

// warmUp queues the backfill of every timeseries key the user's metrics use
// for the new activities. Failures only delay the computation until the next
// query.
func (s *ActivityService) warmUp(ctx context.Context, userId uuid.UUID, activityIds []uuid.UUID) {
	keys, err := database.DistinctTimeseriesKeys(ctx, s.db, userId)
	if err != nil {
		slog.Warn("could not list timeseries keys for warm-up", "user_id", userId, "error", err)
		return
	}

	for _, key := range keys {
		queueBackfill(ctx, s.db, s.publisher, userId, key[0], key[1], activityIds)
	}
}

func queueBackfill(ctx context.Context, db *gorm.DB, publisher messaging.Publisher, userId uuid.UUID, metric, aggregate string, activityIds []uuid.UUID) {
	if err := database.InsertDerivedPlaceholders(ctx, db, metric, aggregate, activityIds); err != nil {
		slog.Warn("could not insert derived value placeholders", "metric", metric, "aggregate", aggregate, "error", err)
		return
	}

	if publisher == nil {
		return
	}

	payload := messaging.BackfillTaskPayload{UserId: userId, Metric: metric, Aggregate: aggregate, ActivityIds: activityIds}
	if err := publisher.PublishBackfillTask(ctx, payload); err != nil {
		slog.Warn("could not queue backfill task", "metric", metric, "aggregate", aggregate, "error", err)
	}
}

func (s *ActivityService) List(ctx context.Context, userId uuid.UUID) ([]database.Activity, error) {
	var activities []database.Activity
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).Order("start_time DESC").Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("error listing activities: %w", err)
	}
	return activities, nil
}

// ListFacts returns the user's activities whose local start date falls
// between the dates of start and end.
func (s *ActivityService) ListFacts(ctx context.Context, userId uuid.UUID, start, end time.Time) ([]types.ActivityFacts, error) {
	from := metrics.CalendarDay(start).Add(-types.MaxUtcOffset)
	to := metrics.CalendarDay(end).Add(24*time.Hour + types.MaxUtcOffset)

	var activities []database.Activity
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND start_time >= ? AND start_time < ?", userId, from, to).
		Order("start_time ASC").
		Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("error listing activities: %w", err)
	}

	facts := make([]types.ActivityFacts, 0, len(activities))
	for _, a := range activities {
		f, err := ActivityFacts(a)
		if err != nil {
			slog.Warn("skipping activity with invalid facts", "activity_id", a.Id, "error", err)
			continue
		}
		if !metrics.InRange(start, end, f.StartTime) {
			continue
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// ListInPeriod returns the user's activities contained in the period, most
// recent first.
func (s *ActivityService) ListInPeriod(ctx context.Context, userId uuid.UUID, period types.TrainingPeriod) ([]database.Activity, error) {
	query := s.db.WithContext(ctx).Where("user_id = ? AND start_time >= ?", userId, metrics.CalendarDay(period.Start).Add(-types.MaxUtcOffset))
	if period.End != nil {
		query = query.Where("start_time < ?", metrics.CalendarDay(*period.End).Add(24*time.Hour+types.MaxUtcOffset))
	}

	var activities []database.Activity
	if err := query.Order("start_time DESC").Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("error listing period activities: %w", err)
	}

	contained := make([]database.Activity, 0, len(activities))
	for _, a := range activities {
		f, err := ActivityFacts(a)
		if err != nil {
			slog.Warn("skipping activity with invalid facts", "activity_id", a.Id, "error", err)
			continue
		}
		if period.Contains(f) {
			contained = append(contained, a)
		}
	}
	return contained, nil
}

func (s *ActivityService) Update(ctx context.Context, userId, activityId uuid.UUID, update ActivityUpdate) error {
	changes := map[string]any{}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return fmt.Errorf("%w: name cannot be blank", ErrInvalidActivity)
		}
		changes["name"] = name
	}
	if update.ClearRpe {
		changes["rpe"] = sql.NullInt16{}
	} else if update.Rpe != nil {
		rpe, err := types.ParseRpe(*update.Rpe)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidActivity, err)
		}
		changes["rpe"] = sql.NullInt16{Int16: int16(rpe), Valid: true}
	}
	if update.ClearWorkoutType {
		changes["workout_type"] = sql.NullString{}
	} else if update.WorkoutType != nil {
		w, err := types.ParseWorkoutType(*update.WorkoutType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidActivity, err)
		}
		changes["workout_type"] = sql.NullString{String: string(w), Valid: true}
	}
	if update.ClearBonkStatus {
		changes["bonk_status"] = sql.NullString{}
	} else if update.BonkStatus != nil {
		b, err := types.ParseBonkStatus(*update.BonkStatus)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidActivity, err)
		}
		changes["bonk_status"] = sql.NullString{String: string(b), Valid: true}
	}

	if len(changes) == 0 {
		return ErrEmptyUpdate
	}

	result := s.db.WithContext(ctx).Model(&database.Activity{}).
		Where("id = ? AND user_id = ?", activityId, userId).
		Updates(changes)
	if result.Error != nil {
		return fmt.Errorf("error updating activity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrActivityNotFound
	}
	return nil
}

// Delete removes the activity, its cached derived values and its raw file.
func (s *ActivityService) Delete(ctx context.Context, userId, activityId uuid.UUID) error {
	activity, err := database.DeleteActivity(ctx, s.db, userId, activityId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrActivityNotFound
		}
		return err
	}

	if err := s.storage.DeleteObject(ctx, s.bucket, activity.FileKey); err != nil {
		slog.Warn("could not delete activity file", "activity_id", activityId, "key", activity.FileKey, "error", err)
	}

	return nil
}
