package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const createRating = `
INSERT INTO ratings (id, deal_id, rater_id, rated_user_id, value, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// CreateRating maps the (deal_id, rater_id) unique violation to domain.ErrDuplicateRating.
func (q *Queries) CreateRating(ctx context.Context, r models.Rating) error {
	_, err := q.db.Exec(ctx, createRating, r.ID, r.DealID, r.RaterID, r.RatedUserID, r.Value, r.CreatedAt)
	if err != nil {
		if hasSQLState(err, sqlStateUniqueViolation) {
			return domain.ErrDuplicateRating
		}
		return fmt.Errorf("failed to create rating: %w", err)
	}
	return nil
}

const ratingExists = `SELECT EXISTS (SELECT 1 FROM ratings WHERE deal_id = $1 AND rater_id = $2)`

func (q *Queries) RatingExists(ctx context.Context, dealID, raterID uuid.UUID) (bool, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, ratingExists, dealID, raterID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check rating: %w", err)
	}
	return exists, nil
}

const getRatingStats = `
SELECT COUNT(*), COALESCE(AVG(value), 0)::text
FROM ratings
WHERE rated_user_id = $1`

func (q *Queries) GetRatingStats(ctx context.Context, userID uuid.UUID) (models.RatingStats, error) {
	var (
		stats models.RatingStats
		avg   string
	)
	if err := q.db.QueryRow(ctx, getRatingStats, userID).Scan(&stats.Count, &avg); err != nil {
		return models.RatingStats{}, fmt.Errorf("failed to get rating stats: %w", err)
	}
	average, err := decimal.NewFromString(avg)
	if err != nil {
		return models.RatingStats{}, fmt.Errorf("failed to parse rating average %q: %w", avg, err)
	}
	stats.Average = average
	return stats, nil
}
