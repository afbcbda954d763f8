package async

import (
	"context"
	"time"

	"github.com/kelsos/mesh-link/internal/logger"
)

// DefaultPollInterval is used when Poll is given a non-positive interval.
const DefaultPollInterval = time.Second

// Poll calls check immediately and then on every tick until it reports done
// or ctx ends.
func Poll[T any](ctx context.Context, interval time.Duration, check func() (T, bool)) (T, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if result, done := check(); done {
		return result, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var zero T
			logger.Debug("Stopped polling: %v", ctx.Err())
			return zero, ctx.Err()
		case <-ticker.C:
			if result, done := check(); done {
				return result, nil
			}
		}
	}
}
