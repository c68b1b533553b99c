package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "idempotency"

// Queries is the subset of the repository the store persists keys with.
type Queries interface {
	GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (repository.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error)
	ReleaseIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) error
	DeleteIdempotencyKeysBefore(ctx context.Context, before time.Time) (int64, error)
}

type Record struct {
	UserID      uuid.UUID
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps idempotency keys in Postgres and caches finished responses in
// Redis when a client is configured.
type Store struct {
	redis redis.Cmdable
	db    Queries
	ttl   time.Duration
	poll  time.Duration
}

func NewStore(redis redis.Cmdable, db Queries, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl, poll: 50 * time.Millisecond}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (s *Store) Lookup(ctx context.Context, userID uuid.UUID, key, requestHash string) (*Record, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, redisKey(userID, key)).Result()
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal([]byte(val), &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					UserID:      userID,
					Key:         env.Key,
					RequestHash: env.Hash,
					Status:      env.Status,
					Body:        env.Body,
					ContentType: env.ContentType,
					ServedBy:    "redis",
				}, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
	}

	row, err := s.db.GetIdempotencyKey(ctx, userID, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	rec := fromRow(row)
	if rec.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	rec.ServedBy = "postgres"
	s.cache(ctx, rec)
	return &rec, nil
}

// Reserve claims key for userID. It reports false when the key is already taken.
func (s *Store) Reserve(ctx context.Context, userID uuid.UUID, key, requestHash, method, path string) (bool, error) {
	reserved, err := s.db.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		UserID:         userID,
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return reserved, nil
}

func (s *Store) Finalize(ctx context.Context, userID uuid.UUID, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.db.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		UserID:         userID,
		IdempotencyKey: key,
		RequestHash:    requestHash,
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}

	rec := fromRow(row)
	rec.ServedBy = "postgres"
	s.cache(ctx, rec)
	return &rec, nil
}

// Release drops an unfinished reservation so the client may retry the request.
func (s *Store) Release(ctx context.Context, userID uuid.UUID, key string) error {
	return s.db.ReleaseIdempotencyKey(ctx, userID, key)
}

func (s *Store) WaitForCompletion(ctx context.Context, userID uuid.UUID, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, userID, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

// Purge deletes finished keys older than the store's TTL and returns how many went.
func (s *Store) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.db.DeleteIdempotencyKeysBefore(ctx, now.Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	if n > 0 {
		zap.L().Info("idempotency keys purged", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	env := cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.UserID, rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func fromRow(row repository.IdempotencyKey) Record {
	return Record{
		UserID:      row.UserID,
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
	}
}

func redisKey(userID uuid.UUID, key string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, userID, key)
}
