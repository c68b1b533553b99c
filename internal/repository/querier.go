package repository

import (
	"context"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Querier is the persistence surface the services depend on.
type Querier interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByExternalID(ctx context.Context, externalID int64) (models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
	UpdateUserStats(ctx context.Context, arg UpdateUserStatsParams) error
	ListUsersWithStatsDrift(ctx context.Context, limit int32) ([]uuid.UUID, error)

	CreatePosting(ctx context.Context, p models.Posting) error
	GetPosting(ctx context.Context, id uuid.UUID) (models.Posting, error)
	GetPostingForUpdate(ctx context.Context, id uuid.UUID) (models.Posting, error)
	UpdatePosting(ctx context.Context, p models.Posting, expectedVersion int64) error
	ListPostings(ctx context.Context, arg ListPostingsParams) ([]models.Posting, error)
	CountActivePostingsByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)

	CreateDeal(ctx context.Context, d models.Deal) error
	GetDeal(ctx context.Context, id uuid.UUID) (models.Deal, error)
	ListDealsByUser(ctx context.Context, userID uuid.UUID, limit int32) ([]models.Deal, error)
	CountCompletedDealsByUser(ctx context.Context, userID uuid.UUID) (int64, error)

	CreateRating(ctx context.Context, r models.Rating) error
	RatingExists(ctx context.Context, dealID, raterID uuid.UUID) (bool, error)
	GetRatingStats(ctx context.Context, userID uuid.UUID) (models.RatingStats, error)
}

var _ Querier = (*Queries)(nil)

type UpdateUserStatsParams struct {
	ID              uuid.UUID
	TrustRating     decimal.Decimal
	SuccessfulDeals int
	UpdatedAt       time.Time
}

// ListPostingsParams filters postings. Nil fields are not applied.
type ListPostingsParams struct {
	OwnerID        *uuid.UUID
	ExcludeOwnerID *uuid.UUID
	Currency       *domain.Currency
	Status         *domain.PostingStatus
	CreatedBefore  *time.Time
	Limit          int32
}
