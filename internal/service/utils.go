package service

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxNotesLength = 500

// newID returns a time-ordered id, so ascending ids follow creation order.
func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = domain.RoundAmount(amount)
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrNonPositiveAmount
	}
	return amount, nil
}

func normalizeNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return "", fmt.Errorf("%w: notes must be at most %d characters", domain.ErrValidation, maxNotesLength)
	}
	return notes, nil
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}
