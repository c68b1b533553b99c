package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxUsernameLength = 64

type UserService struct {
	store  QueryStore
	logger *zap.Logger
	now    func() time.Time
}

func NewUserService(store QueryStore, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.L()
	}
	return &UserService{store: store, logger: logger, now: utcNow}
}

// RegisterUser returns the user known under externalID, creating it on first
// sight. The boolean reports whether a new user was created.
func (s *UserService) RegisterUser(ctx context.Context, externalID int64, username string) (*models.User, bool, error) {
	if externalID <= 0 {
		return nil, false, fmt.Errorf("%w: external id must be positive", domain.ErrValidation)
	}
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return nil, false, fmt.Errorf("%w: username must be 1-%d characters", domain.ErrValidation, maxUsernameLength)
	}

	q := s.store.Queries()
	existing, err := q.GetUserByExternalID(ctx, externalID)
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	user := models.User{
		ID:          newID(),
		ExternalID:  externalID,
		Username:    username,
		TrustRating: decimal.Zero,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrBusinessRule) {
			return nil, false, err
		}
		// Lost a registration race; the winner's row is the answer.
		existing, getErr := q.GetUserByExternalID(ctx, externalID)
		if getErr != nil {
			return nil, false, getErr
		}
		return &existing, false, nil
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.Int64("external_id", externalID),
	)
	return &user, true, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.store.Queries().GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByExternalID resolves a user by the id of the chat or identity provider.
func (s *UserService) GetByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	u, err := s.store.Queries().GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
