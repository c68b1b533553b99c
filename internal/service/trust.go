package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TrustService keeps user aggregates in line with deals and ratings.
type TrustService struct {
	store  QueryStore
	logger *zap.Logger
	now    func() time.Time
}

func NewTrustService(store QueryStore, logger *zap.Logger) *TrustService {
	if logger == nil {
		logger = zap.L()
	}
	return &TrustService{store: store, logger: logger, now: utcNow}
}

// WithClock overrides the time source.
func (s *TrustService) WithClock(now func() time.Time) *TrustService {
	s.now = now
	return s
}

// Refresh recomputes the user's successful deal count and trust rating.
func (s *TrustService) Refresh(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		user, err = refreshInTx(ctx, q, userID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// refreshInTx rebuilds the aggregates from deals and ratings visible to q.
// The write is skipped when nothing changed.
func refreshInTx(ctx context.Context, q repository.Querier, userID uuid.UUID, now time.Time) (models.User, error) {
	user, err := q.GetUserForUpdate(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	deals, err := q.CountCompletedDealsByUser(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("count deals: %w", err)
	}
	stats, err := q.GetRatingStats(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("rating stats: %w", err)
	}

	rating := decimal.Zero
	if stats.Count > 0 {
		rating = stats.Average.Round(domain.TrustScale)
	}

	if user.SuccessfulDeals == int(deals) && user.TrustRating.Equal(rating) {
		return user, nil
	}

	user.SuccessfulDeals = int(deals)
	user.TrustRating = rating
	user.UpdatedAt = now
	err = q.UpdateUserStats(ctx, repository.UpdateUserStatsParams{
		ID:              user.ID,
		TrustRating:     user.TrustRating,
		SuccessfulDeals: user.SuccessfulDeals,
		UpdatedAt:       now,
	})
	if err != nil {
		return models.User{}, fmt.Errorf("update user stats: %w", err)
	}
	return user, nil
}

type RecordRatingCmd struct {
	DealID  uuid.UUID
	RaterID uuid.UUID
	Value   decimal.Decimal
}

// RecordRating stores the rater's score for the other participant of the deal
// and refreshes that participant's aggregates in the same transaction.
func (s *TrustService) RecordRating(ctx context.Context, cmd RecordRatingCmd) (*models.Rating, *models.User, error) {
	value := cmd.Value.Round(domain.RatingScale)
	if value.LessThan(domain.MinRatingValue) || value.GreaterThan(domain.MaxRatingValue) {
		return nil, nil, domain.ErrRatingOutOfRange
	}

	var (
		rating models.Rating
		rated  models.User
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		deal, err := q.GetDeal(ctx, cmd.DealID)
		if err != nil {
			return err
		}
		if deal.Status != domain.DealStatusCompleted {
			return domain.ErrDealNotCompleted
		}
		ratedID, ok := deal.Counterparty(cmd.RaterID)
		if !ok {
			return domain.ErrNotDealParticipant
		}

		exists, err := q.RatingExists(ctx, deal.ID, cmd.RaterID)
		if err != nil {
			return fmt.Errorf("check rating: %w", err)
		}
		if exists {
			return domain.ErrDuplicateRating
		}

		now := s.now()
		rating = models.Rating{
			ID:          newID(),
			DealID:      deal.ID,
			RaterID:     cmd.RaterID,
			RatedUserID: ratedID,
			Value:       value,
			CreatedAt:   now,
		}
		if err := q.CreateRating(ctx, rating); err != nil {
			if errors.Is(err, domain.ErrDuplicateRating) {
				return err
			}
			return fmt.Errorf("create rating: %w", err)
		}

		rated, err = refreshInTx(ctx, q, ratedID, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("rating recorded",
		zap.String("deal_id", rating.DealID.String()),
		zap.String("rater_id", rating.RaterID.String()),
		zap.String("rated_user_id", rating.RatedUserID.String()),
		zap.String("value", rating.Value.String()),
		zap.String("trust_rating", rated.TrustRating.StringFixed(domain.TrustScale)),
	)
	return &rating, &rated, nil
}
