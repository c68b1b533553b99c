package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostingService owns the posting lifecycle.
type PostingService struct {
	store  QueryStore
	logger *zap.Logger
	now    func() time.Time
}

func NewPostingService(store QueryStore, logger *zap.Logger) *PostingService {
	if logger == nil {
		logger = zap.L()
	}
	return &PostingService{store: store, logger: logger, now: utcNow}
}

// WithClock overrides the time source.
func (s *PostingService) WithClock(now func() time.Time) *PostingService {
	s.now = now
	return s
}

type CreatePostingCmd struct {
	OwnerID        uuid.UUID
	Currency       domain.Currency
	Amount         decimal.Decimal
	TransferMethod domain.TransferMethod
	Notes          string
}

// Create opens a new ACTIVE posting. The owner row is locked so concurrent
// creates cannot slip past the active-posting cap.
func (s *PostingService) Create(ctx context.Context, cmd CreatePostingCmd) (*models.Posting, error) {
	if !cmd.Currency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrValidation, cmd.Currency)
	}
	amount := domain.RoundAmount(cmd.Amount)
	if amount.LessThan(domain.MinPostingAmount) {
		return nil, domain.ErrAmountBelowMinimum
	}
	method, err := domain.ParseTransferMethod(string(cmd.TransferMethod))
	if err != nil {
		return nil, err
	}
	notes, err := normalizeNotes(cmd.Notes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	posting := models.Posting{
		ID:              newID(),
		OwnerID:         cmd.OwnerID,
		Currency:        cmd.Currency,
		RemainingAmount: amount,
		Status:          domain.PostingActive,
		TransferMethod:  method,
		Notes:           notes,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		owner, err := q.GetUserForUpdate(ctx, cmd.OwnerID)
		if err != nil {
			return err
		}
		if !owner.Enabled {
			return domain.ErrUserDisabled
		}
		active, err := q.CountActivePostingsByOwner(ctx, owner.ID)
		if err != nil {
			return err
		}
		if active >= domain.MaxActivePostingsPerUser {
			return domain.ErrActivePostingLimit
		}
		return q.CreatePosting(ctx, posting)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("posting created",
		zap.String("posting_id", posting.ID.String()),
		zap.String("owner_id", posting.OwnerID.String()),
		zap.String("currency", string(posting.Currency)),
		zap.String("amount", posting.RemainingAmount.String()),
	)
	return &posting, nil
}

// ReduceAfterPartialFill subtracts filled from the posting's remainder,
// completing it when less than one unit is left.
func (s *PostingService) ReduceAfterPartialFill(ctx context.Context, postingID uuid.UUID, filled decimal.Decimal) (*models.Posting, error) {
	var updated models.Posting
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		updated, err = reducePosting(ctx, q, postingID, filled, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	recordTransition(domain.PostingActive, updated)

	s.logger.Info("posting reduced",
		zap.String("posting_id", postingID.String()),
		zap.String("filled", filled.String()),
		zap.String("remaining", updated.RemainingAmount.String()),
		zap.String("status", string(updated.Status)),
	)
	return &updated, nil
}

// Cancel lets the owner withdraw an ACTIVE posting.
func (s *PostingService) Cancel(ctx context.Context, postingID, byUserID uuid.UUID) (*models.Posting, error) {
	var cancelled models.Posting
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		cancelled, err = transitionPosting(ctx, q, postingID, domain.PostingCancelled, s.now(), ownedBy(byUserID))
		return err
	})
	if err != nil {
		return nil, err
	}
	recordTransition(domain.PostingActive, cancelled)

	s.logger.Info("posting cancelled", zap.String("posting_id", postingID.String()), zap.String("by", byUserID.String()))
	return &cancelled, nil
}

// Expire moves an ACTIVE posting to EXPIRED.
func (s *PostingService) Expire(ctx context.Context, postingID uuid.UUID) (*models.Posting, error) {
	var expired models.Posting
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		expired, err = transitionPosting(ctx, q, postingID, domain.PostingExpired, s.now(), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	recordTransition(domain.PostingActive, expired)

	s.logger.Info("posting expired", zap.String("posting_id", postingID.String()))
	return &expired, nil
}

type UpdatePostingCmd struct {
	PostingID uuid.UUID
	ActorID   uuid.UUID
	Amount    *decimal.Decimal
	Notes     *string
}

// Update changes the amount and/or notes of an ACTIVE posting. The amount may
// only be lowered and must stay at or above the minimum.
func (s *PostingService) Update(ctx context.Context, cmd UpdatePostingCmd) (*models.Posting, error) {
	var amount decimal.Decimal
	if cmd.Amount != nil {
		amount = domain.RoundAmount(*cmd.Amount)
		if amount.LessThan(domain.MinPostingAmount) {
			return nil, domain.ErrAmountBelowMinimum
		}
	}
	var notes string
	if cmd.Notes != nil {
		var err error
		if notes, err = normalizeNotes(*cmd.Notes); err != nil {
			return nil, err
		}
	}

	var updated models.Posting
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		p, err := q.GetPostingForUpdate(ctx, cmd.PostingID)
		if err != nil {
			return err
		}
		if err := ownedBy(cmd.ActorID)(p); err != nil {
			return err
		}
		if p.Status != domain.PostingActive {
			return fmt.Errorf("%w: posting %s is %s", domain.ErrPostingNotActive, p.ID, p.Status)
		}

		if cmd.Amount != nil {
			if amount.GreaterThan(p.RemainingAmount) {
				return domain.ErrAmountIncrease
			}
			p.RemainingAmount = amount
		}
		if cmd.Notes != nil {
			p.Notes = notes
		}
		p.UpdatedAt = s.now()

		if err := savePosting(ctx, q, &p); err != nil {
			return fmt.Errorf("update posting: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("posting updated",
		zap.String("posting_id", updated.ID.String()),
		zap.String("remaining", updated.RemainingAmount.String()),
	)
	return &updated, nil
}

func (s *PostingService) Get(ctx context.Context, postingID uuid.UUID) (*models.Posting, error) {
	p, err := s.store.Queries().GetPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByOwner returns the owner's postings, optionally filtered by status.
func (s *PostingService) ListByOwner(ctx context.Context, ownerID uuid.UUID, status *domain.PostingStatus, limit int) ([]models.Posting, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *status)
	}
	return s.store.Queries().ListPostings(ctx, repository.ListPostingsParams{
		OwnerID: &ownerID,
		Status:  status,
		Limit:   int32(clampLimit(limit, domain.DefaultCandidateLimit, domain.MaxCandidateLimit)),
	})
}

// ListActive returns ACTIVE postings needing currency, oldest first.
func (s *PostingService) ListActive(ctx context.Context, currency domain.Currency, limit int) ([]models.Posting, error) {
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrValidation, currency)
	}
	status := domain.PostingActive
	return s.store.Queries().ListPostings(ctx, repository.ListPostingsParams{
		Currency: &currency,
		Status:   &status,
		Limit:    int32(clampLimit(limit, domain.DefaultCandidateLimit, domain.MaxCandidateLimit)),
	})
}

func ownedBy(userID uuid.UUID) func(p models.Posting) error {
	return func(p models.Posting) error {
		if p.OwnerID != userID {
			return domain.ErrNotPostingOwner
		}
		return nil
	}
}
