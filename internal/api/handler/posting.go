package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PostingService interface {
	Create(ctx context.Context, cmd service.CreatePostingCmd) (*models.Posting, error)
	Get(ctx context.Context, postingID uuid.UUID) (*models.Posting, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, status *domain.PostingStatus, limit int) ([]models.Posting, error)
	Update(ctx context.Context, cmd service.UpdatePostingCmd) (*models.Posting, error)
	Cancel(ctx context.Context, postingID, byUserID uuid.UUID) (*models.Posting, error)
}

type PostingHandler struct {
	svc PostingService
}

func NewPostingHandler(svc PostingService) *PostingHandler {
	return &PostingHandler{svc: svc}
}

func (h *PostingHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req struct {
		Currency       string          `json:"currency"`
		Amount         decimal.Decimal `json:"amount"`
		TransferMethod string          `json:"transfer_method"`
		Notes          string          `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		RespondServiceError(w, r, err, "posting/create-failed")
		return
	}

	posting, err := h.svc.Create(r.Context(), service.CreatePostingCmd{
		OwnerID:        actor,
		Currency:       currency,
		Amount:         req.Amount,
		TransferMethod: domain.TransferMethod(req.TransferMethod),
		Notes:          req.Notes,
	})
	if err != nil {
		RespondServiceError(w, r, err, "posting/create-failed")
		return
	}
	RespondJSON(w, http.StatusCreated, posting)
}

func (h *PostingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	posting, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err, "posting/get-failed")
		return
	}
	RespondJSON(w, http.StatusOK, posting)
}

// List returns the caller's postings, optionally filtered by ?status=.
func (h *PostingHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	var status *domain.PostingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.PostingStatus(raw)
		status = &s
	}

	postings, err := h.svc.ListByOwner(r.Context(), actor, status, limit)
	if err != nil {
		RespondServiceError(w, r, err, "posting/list-failed")
		return
	}
	if postings == nil {
		postings = []models.Posting{}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"postings": postings})
}

func (h *PostingHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount *decimal.Decimal `json:"amount"`
		Notes  *string          `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount == nil && req.Notes == nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "amount or notes is required")
		return
	}

	posting, err := h.svc.Update(r.Context(), service.UpdatePostingCmd{
		PostingID: id,
		ActorID:   actor,
		Amount:    req.Amount,
		Notes:     req.Notes,
	})
	if err != nil {
		RespondServiceError(w, r, err, "posting/update-failed")
		return
	}
	RespondJSON(w, http.StatusOK, posting)
}

func (h *PostingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	posting, err := h.svc.Cancel(r.Context(), id, actor)
	if err != nil {
		RespondServiceError(w, r, err, "posting/cancel-failed")
		return
	}
	RespondJSON(w, http.StatusOK, posting)
}
