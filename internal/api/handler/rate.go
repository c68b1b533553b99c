package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/peer-exchange/internal/rates"
)

type RateSource interface {
	CurrentRates(ctx context.Context) []rates.Quote
}

type RateHandler struct {
	rates RateSource
}

func NewRateHandler(src RateSource) *RateHandler {
	return &RateHandler{rates: src}
}

// Current reports the rate for each supported direction and which stage of
// the resolution chain produced it.
func (h *RateHandler) Current(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{"rates": h.rates.CurrentRates(r.Context())})
}
