package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
)

const userColumns = `id, external_id, username, trust_rating, successful_deals, enabled, created_at, updated_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.ExternalID,
		&u.Username,
		&u.TrustRating,
		&u.SuccessfulDeals,
		&u.Enabled,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

const createUser = `
INSERT INTO users (id, external_id, username, trust_rating, successful_deals, enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (q *Queries) CreateUser(ctx context.Context, u models.User) error {
	_, err := q.db.Exec(ctx, createUser,
		u.ID,
		u.ExternalID,
		u.Username,
		u.TrustRating,
		u.SuccessfulDeals,
		u.Enabled,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if hasSQLState(err, sqlStateUniqueViolation) {
			return fmt.Errorf("%w: user %d already registered", domain.ErrBusinessRule, u.ExternalID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUser, id))
	if err != nil {
		return models.User{}, notFound(err, "user "+id.String())
	}
	return u, nil
}

const getUserForUpdate = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

// GetUserForUpdate locks the user row until the surrounding transaction ends.
func (q *Queries) GetUserForUpdate(ctx context.Context, id uuid.UUID) (models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUserForUpdate, id))
	if err != nil {
		return models.User{}, notFound(err, "user "+id.String())
	}
	return u, nil
}

const getUserByExternalID = `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`

func (q *Queries) GetUserByExternalID(ctx context.Context, externalID int64) (models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUserByExternalID, externalID))
	if err != nil {
		return models.User{}, notFound(err, fmt.Sprintf("user with external id %d", externalID))
	}
	return u, nil
}

const getUsersByIDs = `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1::uuid[])`

func (q *Queries) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, getUsersByIDs, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const updateUserStats = `
UPDATE users
SET trust_rating = $2, successful_deals = $3, updated_at = $4
WHERE id = $1`

func (q *Queries) UpdateUserStats(ctx context.Context, arg UpdateUserStatsParams) error {
	tag, err := q.db.Exec(ctx, updateUserStats, arg.ID, arg.TrustRating, arg.SuccessfulDeals, arg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update user stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &notFoundError{what: "user " + arg.ID.String()}
	}
	return nil
}

// listUsersWithStatsDrift finds users whose stored aggregates disagree with
// the deals and ratings tables.
const listUsersWithStatsDrift = `
SELECT u.id
FROM users u
LEFT JOIN LATERAL (
    SELECT COUNT(*) AS deals
    FROM deals d
    WHERE d.status = 'COMPLETED' AND (d.requester_id = u.id OR d.provider_id = u.id)
) dc ON TRUE
LEFT JOIN LATERAL (
    SELECT COALESCE(ROUND(AVG(r.value), 2), 0) AS rating
    FROM ratings r
    WHERE r.rated_user_id = u.id
) rc ON TRUE
WHERE u.successful_deals <> dc.deals OR u.trust_rating <> rc.rating
ORDER BY u.id
LIMIT $1`

func (q *Queries) ListUsersWithStatsDrift(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listUsersWithStatsDrift, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drifted users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
