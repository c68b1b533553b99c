package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/google/uuid"
)

type UserService interface {
	RegisterUser(ctx context.Context, externalID int64, username string) (*models.User, bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type UserHandler struct {
	svc UserService
}

func NewUserHandler(svc UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// CreateUser registers a user, answering 200 with the existing user when the
// external id is already known.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID int64  `json:"external_id"`
		Username   string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, created, err := h.svc.RegisterUser(r.Context(), req.ExternalID, req.Username)
	if err != nil {
		RespondServiceError(w, r, err, "user/create-failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	RespondJSON(w, status, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err, "user/get-failed")
		return
	}
	RespondJSON(w, http.StatusOK, user)
}
