package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementService interface {
	Settle(ctx context.Context, cmd service.SettleCmd) (*service.SettlementResult, error)
	GetDeal(ctx context.Context, dealID, userID uuid.UUID) (*models.Deal, error)
	ListDealsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Deal, error)
}

type RatingService interface {
	RecordRating(ctx context.Context, cmd service.RecordRatingCmd) (*models.Rating, *models.User, error)
}

type DealHandler struct {
	settlements SettlementService
	ratings     RatingService
}

func NewDealHandler(settlements SettlementService, ratings RatingService) *DealHandler {
	return &DealHandler{settlements: settlements, ratings: ratings}
}

// Settle closes a deal against the posting in the path. The caller is the
// counterparty providing the posting's currency.
func (h *DealHandler) Settle(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	postingID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.settlements.Settle(r.Context(), service.SettleCmd{
		PostingID:      postingID,
		CounterpartyID: actor,
		Amount:         req.Amount,
	})
	if err != nil {
		RespondServiceError(w, r, err, "deal/settle-failed")
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

func (h *DealHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	dealID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	deal, err := h.settlements.GetDeal(r.Context(), dealID, actor)
	if err != nil {
		RespondServiceError(w, r, err, "deal/get-failed")
		return
	}
	RespondJSON(w, http.StatusOK, deal)
}

func (h *DealHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	deals, err := h.settlements.ListDealsForUser(r.Context(), actor, limit)
	if err != nil {
		RespondServiceError(w, r, err, "deal/list-failed")
		return
	}
	if deals == nil {
		deals = []models.Deal{}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"deals": deals})
}

func (h *DealHandler) Rate(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	dealID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Value decimal.Decimal `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rating, rated, err := h.ratings.RecordRating(r.Context(), service.RecordRatingCmd{
		DealID:  dealID,
		RaterID: actor,
		Value:   req.Value,
	})
	if err != nil {
		RespondServiceError(w, r, err, "rating/create-failed")
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"rating":     rating,
		"rated_user": rated,
	})
}
