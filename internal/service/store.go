package service

import (
	"context"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/shopspring/decimal"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// RateResolver returns the live rate for a direction. Implementations never fail.
type RateResolver interface {
	Resolve(ctx context.Context, dir domain.Direction) decimal.Decimal
}
