package service

import (
	"context"
	"testing"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewUserService(store, zap.NewNop())

	u, created, err := svc.RegisterUser(ctx, 777, "  aigerim ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "aigerim", u.Username)
	assert.True(t, u.Enabled)
	assert.True(t, u.TrustRating.IsZero())
	assert.Equal(t, 0, u.SuccessfulDeals)

	again, created, err := svc.RegisterUser(ctx, 777, "someone-else")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "aigerim", again.Username)

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	byExternal, err := svc.GetByExternalID(ctx, 777)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byExternal.ID)

	_, err = svc.GetUser(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterUserValidation(t *testing.T) {
	svc := NewUserService(newMemStore(), zap.NewNop())

	_, _, err := svc.RegisterUser(context.Background(), 0, "name")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = svc.RegisterUser(context.Background(), 5, "   ")
	require.ErrorIs(t, err, domain.ErrValidation)
}
