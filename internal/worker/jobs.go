package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchRunner is implemented by the expiry and stats reconciliation services.
type BatchRunner interface {
	Run(ctx context.Context) (int, error)
}

type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// CountingJob adapts a BatchRunner, logging how many records a pass touched.
func CountingJob(runner BatchRunner, what string, logger *zap.Logger) Job {
	return func(ctx context.Context) error {
		n, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("worker pass finished", zap.String("job", what), zap.Int("count", n))
		}
		return nil
	}
}

func PurgeJob(p Purger, now func() time.Time) Job {
	return func(ctx context.Context) error {
		_, err := p.Purge(ctx, now())
		return err
	}
}
