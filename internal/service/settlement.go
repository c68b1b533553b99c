package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/observability"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Counterparty auto-fill outcomes.
const (
	counterpartyFilled  = "filled"
	counterpartyNone    = "none"
	counterpartySkipped = "skipped"
	counterpartyFailed  = "failed"
)

// SettlementService turns an agreed exchange into a Deal.
type SettlementService struct {
	store  QueryStore
	rates  RateResolver
	logger *zap.Logger
	now    func() time.Time
}

func NewSettlementService(store QueryStore, rates RateResolver, logger *zap.Logger) *SettlementService {
	if logger == nil {
		logger = zap.L()
	}
	return &SettlementService{store: store, rates: rates, logger: logger, now: utcNow}
}

// WithClock overrides the time source.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

type SettleCmd struct {
	PostingID      uuid.UUID
	CounterpartyID uuid.UUID
	Amount         decimal.Decimal
}

type SettlementResult struct {
	Deal                models.Deal     `json:"deal"`
	Posting             models.Posting  `json:"posting"`
	CounterpartyPosting *models.Posting `json:"counterparty_posting,omitempty"`
	Requester           models.User     `json:"requester"`
	Provider            models.User     `json:"provider"`
}

// Settle records a completed deal between the posting owner and the
// counterparty and reduces the posting by the filled amount. The deal, the
// reduction and both users' refreshed aggregates commit together.
//
// Settle is not idempotent: every call creates a new deal.
func (s *SettlementService) Settle(ctx context.Context, cmd SettleCmd) (*SettlementResult, error) {
	amount, err := normalizeAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}

	q := s.store.Queries()
	posting, err := q.GetPosting(ctx, cmd.PostingID)
	if err != nil {
		return nil, err
	}
	if err := checkSettleable(posting, cmd.CounterpartyID); err != nil {
		return nil, err
	}

	// Rate lookups may hit the network, so they stay outside the transaction.
	rate := s.rates.Resolve(ctx, domain.DirectionFrom(posting.Currency))
	if !rate.IsPositive() {
		return nil, fmt.Errorf("no usable rate for %s", domain.DirectionFrom(posting.Currency))
	}

	var result SettlementResult
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		p, err := q.GetPostingForUpdate(ctx, cmd.PostingID)
		if err != nil {
			return err
		}
		if err := checkSettleable(p, cmd.CounterpartyID); err != nil {
			return err
		}
		provider, err := q.GetUser(ctx, cmd.CounterpartyID)
		if err != nil {
			return err
		}
		if !provider.Enabled {
			return domain.ErrUserDisabled
		}

		now := s.now()
		filled := decimal.Min(amount, p.RemainingAmount)
		finished := now
		deal := models.Deal{
			ID:              newID(),
			RequesterID:     p.OwnerID,
			ProviderID:      provider.ID,
			SourcePostingID: p.ID,
			Amount:          amount,
			Currency:        p.Currency,
			ExchangeRate:    rate.Round(domain.RateScale),
			TransferMethod:  p.TransferMethod,
			Status:          domain.DealStatusCompleted,
			CreatedAt:       now,
			FinishedAt:      &finished,
		}
		if err := q.CreateDeal(ctx, deal); err != nil {
			return fmt.Errorf("create deal: %w", err)
		}

		if err := p.ApplyFill(filled, now); err != nil {
			return err
		}
		if err := savePosting(ctx, q, &p); err != nil {
			return fmt.Errorf("reduce posting: %w", err)
		}

		users, err := refreshParticipants(ctx, q, now, deal.RequesterID, deal.ProviderID)
		if err != nil {
			return err
		}

		result = SettlementResult{
			Deal:      deal,
			Posting:   p,
			Requester: users[deal.RequesterID],
			Provider:  users[deal.ProviderID],
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordTransition(domain.PostingActive, result.Posting)
	observability.IncrementSettlement(string(result.Deal.Currency), string(result.Posting.Status))
	s.logger.Info("deal settled",
		zap.String("deal_id", result.Deal.ID.String()),
		zap.String("posting_id", result.Posting.ID.String()),
		zap.String("requester_id", result.Deal.RequesterID.String()),
		zap.String("provider_id", result.Deal.ProviderID.String()),
		zap.String("amount", result.Deal.Amount.String()),
		zap.String("currency", string(result.Deal.Currency)),
		zap.String("rate", result.Deal.ExchangeRate.String()),
		zap.String("remaining", result.Posting.RemainingAmount.String()),
		zap.String("posting_status", string(result.Posting.Status)),
	)

	counter, outcome, err := s.fillCounterpartyPosting(ctx, result.Deal)
	observability.IncrementCounterpartyFill(outcome)
	if err != nil {
		s.logger.Warn("counterparty posting not reduced",
			zap.String("deal_id", result.Deal.ID.String()),
			zap.String("provider_id", result.Deal.ProviderID.String()),
			zap.Error(err),
		)
	}
	result.CounterpartyPosting = counter

	return &result, nil
}

// fillCounterpartyPosting reduces the provider's first ACTIVE posting in the
// opposite currency by the converted deal amount. It runs after the deal has
// committed and never affects it.
func (s *SettlementService) fillCounterpartyPosting(ctx context.Context, deal models.Deal) (*models.Posting, string, error) {
	want := deal.OppositeCurrency()
	status := domain.PostingActive
	postings, err := s.store.Queries().ListPostings(ctx, repository.ListPostingsParams{
		OwnerID:  &deal.ProviderID,
		Currency: &want,
		Status:   &status,
		Limit:    1,
	})
	if err != nil {
		return nil, counterpartyFailed, fmt.Errorf("find counterparty posting: %w", err)
	}
	if len(postings) == 0 {
		return nil, counterpartyNone, nil
	}

	target := postings[0]
	var reduced models.Posting
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		p, err := q.GetPostingForUpdate(ctx, target.ID)
		if err != nil {
			return err
		}
		if p.Status != domain.PostingActive {
			return fmt.Errorf("%w: posting %s is %s", domain.ErrPostingNotActive, p.ID, p.Status)
		}
		filled := decimal.Min(deal.ConvertedAmount(), p.RemainingAmount)
		if !filled.IsPositive() {
			reduced = p
			return nil
		}
		reduced, err = reducePosting(ctx, q, p.ID, filled, s.now())
		return err
	})
	if err != nil {
		return nil, counterpartyFailed, err
	}
	if reduced.Version == target.Version {
		return &reduced, counterpartySkipped, nil
	}
	recordTransition(domain.PostingActive, reduced)

	s.logger.Info("counterparty posting reduced",
		zap.String("deal_id", deal.ID.String()),
		zap.String("posting_id", reduced.ID.String()),
		zap.String("remaining", reduced.RemainingAmount.String()),
		zap.String("status", string(reduced.Status)),
	)
	return &reduced, counterpartyFilled, nil
}

// GetDeal returns a deal the user took part in.
func (s *SettlementService) GetDeal(ctx context.Context, dealID, userID uuid.UUID) (*models.Deal, error) {
	deal, err := s.store.Queries().GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: deal %s", domain.ErrNotFound, dealID)
	}
	return &deal, nil
}

// ListDealsForUser returns the user's deals, newest first.
func (s *SettlementService) ListDealsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Deal, error) {
	return s.store.Queries().ListDealsByUser(ctx, userID, int32(clampLimit(limit, domain.DefaultCandidateLimit, domain.MaxCandidateLimit)))
}

func checkSettleable(p models.Posting, counterpartyID uuid.UUID) error {
	if p.OwnerID == counterpartyID {
		return domain.ErrSelfDeal
	}
	if p.Status != domain.PostingActive {
		return fmt.Errorf("%w: posting %s is %s", domain.ErrPostingNotActive, p.ID, p.Status)
	}
	return nil
}

// refreshParticipants refreshes both users, locking them in id order.
func refreshParticipants(ctx context.Context, q repository.Querier, now time.Time, a, b uuid.UUID) (map[uuid.UUID]models.User, error) {
	first, second := a, b
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	users := make(map[uuid.UUID]models.User, 2)
	for _, id := range []uuid.UUID{first, second} {
		u, err := refreshInTx(ctx, q, id, now)
		if err != nil {
			return nil, fmt.Errorf("refresh user %s: %w", id, err)
		}
		users[id] = u
	}
	return users, nil
}
