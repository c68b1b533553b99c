package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/peer-exchange/internal/observability"
	"go.uber.org/zap"
)

const reconciliationBatchSize = 500

// StatsReconciliationService repairs user aggregates that drifted from the
// deals and ratings they are derived from.
type StatsReconciliationService struct {
	store QueryStore
	trust *TrustService
}

func NewStatsReconciliationService(store QueryStore, trust *TrustService) *StatsReconciliationService {
	return &StatsReconciliationService{store: store, trust: trust}
}

// Run refreshes every drifted user found in one batch and returns how many
// were repaired.
func (s *StatsReconciliationService) Run(ctx context.Context) (int, error) {
	drifted, err := s.store.Queries().ListUsersWithStatsDrift(ctx, reconciliationBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list drifted users: %w", err)
	}
	if len(drifted) == 0 {
		zap.L().Debug("user stats consistent")
		return 0, nil
	}

	observability.AddStatsDrift(len(drifted))
	zap.L().Warn("user stats drift detected", zap.Int("users", len(drifted)))

	repaired := 0
	for _, id := range drifted {
		if _, err := s.trust.Refresh(ctx, id); err != nil {
			zap.L().Error("failed to refresh drifted user", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}
