package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
)

type UserLookup interface {
	GetByExternalID(ctx context.Context, externalID int64) (*models.User, error)
}

type TokenIssuer interface {
	Issue(userID uuid.UUID) (string, time.Time, error)
}

type AuthHandler struct {
	users  UserLookup
	tokens TokenIssuer
}

func NewAuthHandler(users UserLookup, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens}
}

// Login exchanges a registered external id for a bearer token. Identity is
// asserted by the upstream chat integration.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID int64 `json:"external_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ExternalID <= 0 {
		RespondError(w, r, http.StatusBadRequest, "validation", "external_id must be positive")
		return
	}

	user, err := h.users.GetByExternalID(r.Context(), req.ExternalID)
	if err != nil {
		RespondServiceError(w, r, err, "auth/login-failed")
		return
	}
	if !user.Enabled {
		RespondError(w, r, http.StatusForbidden, "auth/user-disabled", "user is disabled")
		return
	}

	token, expires, err := h.tokens.Issue(user.ID)
	if err != nil {
		RespondServiceError(w, r, err, "auth/sign-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"user_id":    user.ID,
		"expires_at": expires.UTC(),
	})
}
