package core

import (
	"context"
	"errors"
	"fmt"

	"training-backend/internal/core/parser"
	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoredTimeseriesProvider parses the raw file archived at upload time.
type StoredTimeseriesProvider struct {
	db      *gorm.DB
	storage storage.Provider
	bucket  string
}

func NewStoredTimeseriesProvider(db *gorm.DB, storage storage.Provider, bucket string) *StoredTimeseriesProvider {
	return &StoredTimeseriesProvider{db: db, storage: storage, bucket: bucket}
}

func (p *StoredTimeseriesProvider) Timeseries(ctx context.Context, activityId uuid.UUID) (*types.ActivityTimeseries, error) {
	var activity database.Activity
	if err := p.db.WithContext(ctx).Select("id", "file_key").First(&activity, "id = ?", activityId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("error loading activity %s: %w", activityId, err)
	}

	ext, err := parser.Extension(activity.FileKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}

	data, err := p.storage.GetObject(ctx, p.bucket, activity.FileKey)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading activity file %s: %w", ErrUnreadableFile, activity.FileKey, err)
	}

	parsed, err := parser.Parse(ext, data)
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing activity file %s: %w", ErrUnreadableFile, activity.FileKey, err)
	}

	return parsed.Timeseries, nil
}
