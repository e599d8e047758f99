package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// Provider stores the raw activity files. Keys are "<user id>/<activity id>.<ext>".
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	DeleteObject(ctx context.Context, bucket, key string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
}
