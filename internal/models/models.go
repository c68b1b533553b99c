package models

import (
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID              uuid.UUID       `json:"id"`
	ExternalID      int64           `json:"external_id"`
	Username        string          `json:"username"`
	TrustRating     decimal.Decimal `json:"trust_rating"`
	SuccessfulDeals int             `json:"successful_deals"`
	Enabled         bool            `json:"enabled"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Posting is a standing request to acquire RemainingAmount of Currency.
type Posting struct {
	ID              uuid.UUID             `json:"id"`
	OwnerID         uuid.UUID             `json:"owner_id"`
	Currency        domain.Currency       `json:"currency"`
	RemainingAmount decimal.Decimal       `json:"remaining_amount"`
	Status          domain.PostingStatus  `json:"status"`
	TransferMethod  domain.TransferMethod `json:"transfer_method"`
	Notes           string                `json:"notes,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
}

// Transition moves the posting to next, stamping FinishedAt for terminal states.
func (p *Posting) Transition(next domain.PostingStatus, now time.Time) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	if next.Terminal() {
		finished := now
		p.FinishedAt = &finished
	}
	return nil
}

// ApplyFill subtracts filled from the remainder. A remainder below the
// completion threshold is zeroed and the posting completes.
func (p *Posting) ApplyFill(filled decimal.Decimal, now time.Time) error {
	if p.Status != domain.PostingActive {
		return domain.ErrPostingNotActive
	}
	if !filled.IsPositive() {
		return domain.ErrNonPositiveAmount
	}
	if filled.GreaterThan(p.RemainingAmount) {
		return domain.ErrFillExceedsRemaining
	}

	p.RemainingAmount = p.RemainingAmount.Sub(filled)
	p.UpdatedAt = now
	if p.RemainingAmount.LessThan(domain.CompletionThreshold) {
		p.RemainingAmount = decimal.Zero
		return p.Transition(domain.PostingCompleted, now)
	}
	return nil
}

// Deal is the immutable record of one realised exchange.
type Deal struct {
	ID              uuid.UUID             `json:"id"`
	RequesterID     uuid.UUID             `json:"requester_id"`
	ProviderID      uuid.UUID             `json:"provider_id"`
	SourcePostingID uuid.UUID             `json:"source_posting_id"`
	Amount          decimal.Decimal       `json:"amount"`
	Currency        domain.Currency       `json:"currency"`
	ExchangeRate    decimal.Decimal       `json:"exchange_rate"`
	TransferMethod  domain.TransferMethod `json:"transfer_method"`
	Status          domain.DealStatus     `json:"status"`
	CreatedAt       time.Time             `json:"created_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
}

// ConvertedAmount is Amount x ExchangeRate rounded half-up to cents.
func (d Deal) ConvertedAmount() decimal.Decimal {
	return domain.RoundAmount(d.Amount.Mul(d.ExchangeRate))
}

func (d Deal) OppositeCurrency() domain.Currency {
	return d.Currency.Flip()
}

func (d Deal) IsParticipant(userID uuid.UUID) bool {
	return d.RequesterID == userID || d.ProviderID == userID
}

// Counterparty returns the other participant of the deal.
func (d Deal) Counterparty(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case d.RequesterID:
		return d.ProviderID, true
	case d.ProviderID:
		return d.RequesterID, true
	default:
		return uuid.Nil, false
	}
}

type Rating struct {
	ID          uuid.UUID       `json:"id"`
	DealID      uuid.UUID       `json:"deal_id"`
	RaterID     uuid.UUID       `json:"rater_id"`
	RatedUserID uuid.UUID       `json:"rated_user_id"`
	Value       decimal.Decimal `json:"value"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RatingStats is the source-of-truth aggregate for one user.
type RatingStats struct {
	Count   int64
	Average decimal.Decimal
}
