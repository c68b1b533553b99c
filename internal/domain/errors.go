package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors wrap one of these so callers can branch with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrBusinessRule           = errors.New("business rule violated")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
)

var (
	ErrAmountBelowMinimum   = fmt.Errorf("%w: amount is below the minimum of %s", ErrValidation, MinPostingAmount)
	ErrNonPositiveAmount    = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrFillExceedsRemaining = fmt.Errorf("%w: filled amount exceeds the remaining amount", ErrValidation)
	ErrRatingOutOfRange     = fmt.Errorf("%w: rating must be between %s and %s", ErrValidation, MinRatingValue, MaxRatingValue)

	ErrActivePostingLimit = fmt.Errorf("%w: at most %d active postings are allowed", ErrBusinessRule, MaxActivePostingsPerUser)
	ErrPostingNotActive   = fmt.Errorf("%w: posting is not active", ErrBusinessRule)
	ErrNotPostingOwner    = fmt.Errorf("%w: only the owner can change this posting", ErrBusinessRule)
	ErrAmountIncrease     = fmt.Errorf("%w: the remaining amount of an active posting can only be lowered", ErrBusinessRule)
	ErrSelfDeal           = fmt.Errorf("%w: a user cannot settle their own posting", ErrBusinessRule)
	ErrUserDisabled       = fmt.Errorf("%w: user is disabled", ErrBusinessRule)
	ErrNotDealParticipant = fmt.Errorf("%w: rater did not take part in the deal", ErrBusinessRule)
	ErrDealNotCompleted   = fmt.Errorf("%w: only completed deals can be rated", ErrBusinessRule)
	ErrDuplicateRating    = fmt.Errorf("%w: deal was already rated by this user", ErrBusinessRule)
	ErrInvalidTransition  = fmt.Errorf("%w: invalid status transition", ErrBusinessRule)
)
