package rate

import (
	"context"
	"time"
)

// Limiter gates settlement attempts per client key within a rolling window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
