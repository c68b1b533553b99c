package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
)

const dealColumns = `id, requester_id, provider_id, source_posting_id, amount, currency, exchange_rate, transfer_method, status, created_at, finished_at`

func scanDeal(row rowScanner) (models.Deal, error) {
	var d models.Deal
	err := row.Scan(
		&d.ID,
		&d.RequesterID,
		&d.ProviderID,
		&d.SourcePostingID,
		&d.Amount,
		&d.Currency,
		&d.ExchangeRate,
		&d.TransferMethod,
		&d.Status,
		&d.CreatedAt,
		&d.FinishedAt,
	)
	return d, err
}

const createDeal = `
INSERT INTO deals (id, requester_id, provider_id, source_posting_id, amount, currency, exchange_rate, transfer_method, status, created_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (q *Queries) CreateDeal(ctx context.Context, d models.Deal) error {
	_, err := q.db.Exec(ctx, createDeal,
		d.ID,
		d.RequesterID,
		d.ProviderID,
		d.SourcePostingID,
		d.Amount,
		d.Currency,
		d.ExchangeRate.Round(domain.RateScale),
		d.TransferMethod,
		d.Status,
		d.CreatedAt,
		d.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deal: %w", err)
	}
	return nil
}

const getDeal = `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`

func (q *Queries) GetDeal(ctx context.Context, id uuid.UUID) (models.Deal, error) {
	d, err := scanDeal(q.db.QueryRow(ctx, getDeal, id))
	if err != nil {
		return models.Deal{}, notFound(err, "deal "+id.String())
	}
	return d, nil
}

const listDealsByUser = `
SELECT ` + dealColumns + `
FROM deals
WHERE requester_id = $1 OR provider_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

func (q *Queries) ListDealsByUser(ctx context.Context, userID uuid.UUID, limit int32) ([]models.Deal, error) {
	rows, err := q.db.Query(ctx, listDealsByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

const countCompletedDealsByUser = `
SELECT COUNT(*) FROM deals
WHERE status = 'COMPLETED' AND (requester_id = $1 OR provider_id = $1)`

func (q *Queries) CountCompletedDealsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countCompletedDealsByUser, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count completed deals: %w", err)
	}
	return n, nil
}
