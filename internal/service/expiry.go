package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"go.uber.org/zap"
)

const expiryBatchSize = 200

// ExpiryService expires ACTIVE postings that outlived maxAge.
type ExpiryService struct {
	store    QueryStore
	postings *PostingService
	maxAge   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewExpiryService(store QueryStore, postings *PostingService, maxAge time.Duration, logger *zap.Logger) *ExpiryService {
	if logger == nil {
		logger = zap.L()
	}
	return &ExpiryService{store: store, postings: postings, maxAge: maxAge, logger: logger, now: utcNow}
}

// WithClock overrides the time source.
func (s *ExpiryService) WithClock(now func() time.Time) *ExpiryService {
	s.now = now
	return s
}

// Run expires stale postings batch by batch and returns how many it expired.
// Postings that changed state in the meantime are skipped.
func (s *ExpiryService) Run(ctx context.Context) (int, error) {
	if s.maxAge <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.maxAge)
	status := domain.PostingActive

	expired := 0
	for {
		batch, err := s.store.Queries().ListPostings(ctx, repository.ListPostingsParams{
			Status:        &status,
			CreatedBefore: &cutoff,
			Limit:         expiryBatchSize,
		})
		if err != nil {
			return expired, fmt.Errorf("list stale postings: %w", err)
		}

		progressed := 0
		for _, p := range batch {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			if _, err := s.postings.Expire(ctx, p.ID); err != nil {
				if errors.Is(err, domain.ErrPostingNotActive) || errors.Is(err, domain.ErrConcurrentModification) {
					continue
				}
				return expired, fmt.Errorf("expire posting %s: %w", p.ID, err)
			}
			expired++
			progressed++
		}

		if len(batch) < expiryBatchSize || progressed == 0 {
			break
		}
	}

	if expired > 0 {
		s.logger.Info("stale postings expired", zap.Int("count", expired), zap.Time("cutoff", cutoff))
	}
	return expired, nil
}
