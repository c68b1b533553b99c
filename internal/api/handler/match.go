package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/service"
	"github.com/google/uuid"
)

type MatchService interface {
	FindRankedCandidates(ctx context.Context, seekerID uuid.UUID, want domain.Currency, limit int, target *domain.Money) ([]service.RankedCandidate, error)
	FindCounterOffers(ctx context.Context, userID uuid.UUID) ([]service.RankedCandidate, error)
}

type MatchHandler struct {
	svc MatchService
}

func NewMatchHandler(svc MatchService) *MatchHandler {
	return &MatchHandler{svc: svc}
}

// Find ranks postings in ?currency=, optionally against
// ?target_amount= in ?target_currency= (defaults to currency).
func (h *MatchHandler) Find(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	want, err := domain.ParseCurrency(q.Get("currency"))
	if err != nil {
		RespondServiceError(w, r, err, "match/find-failed")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	var target *domain.Money
	if raw := q.Get("target_amount"); raw != "" {
		amount, ok := parseAmount(w, r, "target_amount", raw)
		if !ok {
			return
		}
		currency := want
		if rawCurrency := q.Get("target_currency"); rawCurrency != "" {
			if currency, err = domain.ParseCurrency(rawCurrency); err != nil {
				RespondServiceError(w, r, err, "match/find-failed")
				return
			}
		}
		m := domain.NewMoney(amount, currency)
		target = &m
	}

	ranked, err := h.svc.FindRankedCandidates(r.Context(), actor, want, limit, target)
	if err != nil {
		RespondServiceError(w, r, err, "match/find-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"candidates": ranked})
}

func (h *MatchHandler) Counter(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	ranked, err := h.svc.FindCounterOffers(r.Context(), actor)
	if err != nil {
		RespondServiceError(w, r, err, "match/counter-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"candidates": ranked})
}
