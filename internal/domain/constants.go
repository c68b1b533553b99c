package domain

import "github.com/shopspring/decimal"

// Business limits applied by the posting ledger and the trust tracker.
var (
	// MinPostingAmount is the smallest amount a posting may be created or updated with.
	MinPostingAmount = decimal.NewFromInt(10)
	// CompletionThreshold: a remainder below this is treated as fully filled.
	CompletionThreshold = decimal.NewFromInt(1)

	MinRatingValue = decimal.NewFromInt(1)
	MaxRatingValue = decimal.NewFromInt(5)
)

const (
	MaxActivePostingsPerUser = 5

	// MaxCandidateScan bounds how many ACTIVE postings are loaded for one ranking.
	MaxCandidateScan = 1000
	// CounterOfferLimit is how many candidates FindCounterOffers returns.
	CounterOfferLimit = 5

	DefaultCandidateLimit = 10
	MaxCandidateLimit     = 50

	AmountScale = 2
	RateScale   = 8
	RatingScale = 1
	TrustScale  = 2
)

// DealStatus values.
const (
	DealStatusCompleted DealStatus = "COMPLETED"
	DealStatusCancelled DealStatus = "CANCELLED"
)

// DealStatus is the lifecycle state of a Deal.
type DealStatus string
