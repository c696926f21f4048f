package buffer

import (
	"context"
	"time"
)

// Record wraps one serialized telemetry point in the durable buffer.
// The sent flag only ever transitions from false to true; records are
// never reverted and never deleted while unsent.
type Record struct {
	ID        string
	Payload   []byte
	CreatedAt time.Time
	Sent      bool
}

// Store is the durable point buffer. Inserts are idempotent by point
// id, and ListUnsent returns oldest first; callers rely on that order
// for in-order delivery.
type Store interface {
	Insert(ctx context.Context, record Record) error
	MarkSent(ctx context.Context, id string) error
	ListUnsent(ctx context.Context, limit int) ([]Record, error)
	CountUnsent(ctx context.Context) (int, error)
}
