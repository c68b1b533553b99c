package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
)

const postingColumns = `id, owner_id, currency, remaining_amount, status, transfer_method, notes, version, created_at, updated_at, finished_at`

func scanPosting(row rowScanner) (models.Posting, error) {
	var p models.Posting
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Currency,
		&p.RemainingAmount,
		&p.Status,
		&p.TransferMethod,
		&p.Notes,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.FinishedAt,
	)
	return p, err
}

const createPosting = `
INSERT INTO postings (id, owner_id, currency, remaining_amount, status, transfer_method, notes, version, created_at, updated_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (q *Queries) CreatePosting(ctx context.Context, p models.Posting) error {
	_, err := q.db.Exec(ctx, createPosting,
		p.ID,
		p.OwnerID,
		p.Currency,
		p.RemainingAmount,
		p.Status,
		p.TransferMethod,
		p.Notes,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
		p.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create posting: %w", err)
	}
	return nil
}

const getPosting = `SELECT ` + postingColumns + ` FROM postings WHERE id = $1`

func (q *Queries) GetPosting(ctx context.Context, id uuid.UUID) (models.Posting, error) {
	p, err := scanPosting(q.db.QueryRow(ctx, getPosting, id))
	if err != nil {
		return models.Posting{}, notFound(err, "posting "+id.String())
	}
	return p, nil
}

const getPostingForUpdate = `SELECT ` + postingColumns + ` FROM postings WHERE id = $1 FOR UPDATE`

// GetPostingForUpdate locks the posting row until the surrounding transaction ends.
func (q *Queries) GetPostingForUpdate(ctx context.Context, id uuid.UUID) (models.Posting, error) {
	p, err := scanPosting(q.db.QueryRow(ctx, getPostingForUpdate, id))
	if err != nil {
		return models.Posting{}, notFound(err, "posting "+id.String())
	}
	return p, nil
}

const updatePosting = `
UPDATE postings
SET remaining_amount = $1, status = $2, notes = $3, version = $4, updated_at = $5, finished_at = $6
WHERE id = $7 AND version = $8`

// UpdatePosting writes p if the stored version still equals expectedVersion.
// p.Version must already hold the new version.
func (q *Queries) UpdatePosting(ctx context.Context, p models.Posting, expectedVersion int64) error {
	tag, err := q.db.Exec(ctx, updatePosting,
		p.RemainingAmount,
		p.Status,
		p.Notes,
		p.Version,
		p.UpdatedAt,
		p.FinishedAt,
		p.ID,
		expectedVersion,
	)
	if err != nil {
		if hasSQLState(err, sqlStateCheckViolation) {
			return fmt.Errorf("%w: posting %s update violates constraints", domain.ErrValidation, p.ID)
		}
		return fmt.Errorf("failed to update posting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: posting %s changed since version %d", domain.ErrConcurrentModification, p.ID, expectedVersion)
	}
	return nil
}

const listPostings = `
SELECT ` + postingColumns + `
FROM postings
WHERE ($1::uuid IS NULL OR owner_id = $1)
  AND ($2::uuid IS NULL OR owner_id <> $2)
  AND ($3::varchar IS NULL OR currency = $3)
  AND ($4::varchar IS NULL OR status = $4)
  AND ($5::timestamptz IS NULL OR created_at < $5)
ORDER BY created_at, id
LIMIT $6`

func (q *Queries) ListPostings(ctx context.Context, arg ListPostingsParams) ([]models.Posting, error) {
	rows, err := q.db.Query(ctx, listPostings,
		arg.OwnerID,
		arg.ExcludeOwnerID,
		arg.Currency,
		arg.Status,
		arg.CreatedBefore,
		arg.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	defer rows.Close()

	var postings []models.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

const countActivePostingsByOwner = `SELECT COUNT(*) FROM postings WHERE owner_id = $1 AND status = 'ACTIVE'`

func (q *Queries) CountActivePostingsByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countActivePostingsByOwner, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active postings: %w", err)
	}
	return n, nil
}
