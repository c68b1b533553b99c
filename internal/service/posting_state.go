package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/observability"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// savePosting writes p guarded by the version it was read at and bumps p.Version.
func savePosting(ctx context.Context, q repository.Querier, p *models.Posting) error {
	expected := p.Version
	p.Version = expected + 1
	if err := q.UpdatePosting(ctx, *p, expected); err != nil {
		p.Version = expected
		return err
	}
	return nil
}

// recordTransition counts a committed status change. Call it only after the
// transaction that saved the posting has committed.
func recordTransition(previous domain.PostingStatus, p models.Posting) {
	if p.Status != previous {
		observability.IncrementPostingTransition(string(p.Status))
	}
}

// transitionPosting locks the posting, checks guard and moves it to next.
func transitionPosting(ctx context.Context, q repository.Querier, postingID uuid.UUID, next domain.PostingStatus, now time.Time, guard func(p models.Posting) error) (models.Posting, error) {
	p, err := q.GetPostingForUpdate(ctx, postingID)
	if err != nil {
		return models.Posting{}, err
	}
	if guard != nil {
		if err := guard(p); err != nil {
			return models.Posting{}, err
		}
	}
	if p.Status != domain.PostingActive {
		return models.Posting{}, fmt.Errorf("%w: posting %s is %s", domain.ErrPostingNotActive, p.ID, p.Status)
	}

	if err := p.Transition(next, now); err != nil {
		return models.Posting{}, err
	}
	if err := savePosting(ctx, q, &p); err != nil {
		return models.Posting{}, fmt.Errorf("transition posting to %s: %w", next, err)
	}
	return p, nil
}

// reducePosting locks the posting and subtracts filled from its remainder.
func reducePosting(ctx context.Context, q repository.Querier, postingID uuid.UUID, filled decimal.Decimal, now time.Time) (models.Posting, error) {
	p, err := q.GetPostingForUpdate(ctx, postingID)
	if err != nil {
		return models.Posting{}, err
	}
	if p.Status != domain.PostingActive {
		return models.Posting{}, fmt.Errorf("%w: posting %s is %s", domain.ErrPostingNotActive, p.ID, p.Status)
	}

	if err := p.ApplyFill(filled, now); err != nil {
		return models.Posting{}, err
	}
	if err := savePosting(ctx, q, &p); err != nil {
		return models.Posting{}, fmt.Errorf("reduce posting: %w", err)
	}
	return p, nil
}
