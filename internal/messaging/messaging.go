package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	BackfillQueue   = "backfill_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// BackfillTaskPayload asks a worker to compute the derived value of one
// timeseries key. An empty ActivityIds means every activity of the user
// still missing a computed value.
type BackfillTaskPayload struct {
	UserId      uuid.UUID
	Metric      string
	Aggregate   string
	ActivityIds []uuid.UUID
}

type Publisher interface {
	PublishBackfillTask(ctx context.Context, payload BackfillTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
