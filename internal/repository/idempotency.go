package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type IdempotencyKey struct {
	UserID         uuid.UUID
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	CreatedAt      time.Time
}

const idempotencyColumns = `user_id, idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type, created_at`

func scanIdempotencyKey(row rowScanner) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(
		&k.UserID,
		&k.IdempotencyKey,
		&k.RequestHash,
		&k.Method,
		&k.Path,
		&k.InProgress,
		&k.ResponseStatus,
		&k.ResponseBody,
		&k.ContentType,
		&k.CreatedAt,
	)
	return k, err
}

const getIdempotencyKey = `SELECT ` + idempotencyColumns + ` FROM idempotency_keys WHERE user_id = $1 AND idempotency_key = $2`

func (q *Queries) GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (IdempotencyKey, error) {
	k, err := scanIdempotencyKey(q.db.QueryRow(ctx, getIdempotencyKey, userID, key))
	if err != nil {
		return IdempotencyKey{}, notFound(err, "idempotency key")
	}
	return k, nil
}

type ReserveIdempotencyKeyParams struct {
	UserID         uuid.UUID
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

const reserveIdempotencyKey = `
INSERT INTO idempotency_keys (user_id, idempotency_key, request_hash, method, path, in_progress)
VALUES ($1, $2, $3, $4, $5, TRUE)
ON CONFLICT (user_id, idempotency_key) DO NOTHING`

// ReserveIdempotencyKey reports false when the key already exists.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	tag, err := q.db.Exec(ctx, reserveIdempotencyKey, arg.UserID, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path)
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type FinalizeIdempotencyKeyParams struct {
	UserID         uuid.UUID
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

const finalizeIdempotencyKey = `
UPDATE idempotency_keys
SET in_progress = FALSE, response_status = $4, response_body = $5, content_type = $6, updated_at = NOW()
WHERE user_id = $1 AND idempotency_key = $2 AND request_hash = $3
RETURNING ` + idempotencyColumns

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	k, err := scanIdempotencyKey(q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.UserID,
		arg.IdempotencyKey,
		arg.RequestHash,
		arg.ResponseStatus,
		arg.ResponseBody,
		arg.ContentType,
	))
	if err != nil {
		return IdempotencyKey{}, notFound(err, "idempotency key")
	}
	return k, nil
}

// releaseIdempotencyKey drops an unfinished reservation so the client can retry.
const releaseIdempotencyKey = `
DELETE FROM idempotency_keys
WHERE user_id = $1 AND idempotency_key = $2 AND in_progress`

func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) error {
	if _, err := q.db.Exec(ctx, releaseIdempotencyKey, userID, key); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

const deleteIdempotencyKeysBefore = `DELETE FROM idempotency_keys WHERE created_at < $1 AND NOT in_progress`

func (q *Queries) DeleteIdempotencyKeysBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteIdempotencyKeysBefore, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
