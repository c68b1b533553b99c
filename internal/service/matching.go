package service

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Score weights.
const (
	maxProximityScore   = 58.0
	maxRatingScore      = 32.0
	ratingMultiplier    = 6.4
	maxDealsBonus       = 7.0
	dealsBonusPerDeal   = 0.7
	maxBonusScore       = 10.0
	maxTotalScore       = 100.0
	fallbackRatingScore = 3.2
)

var errZeroAmounts = errors.New("both amounts are zero")

type Score struct {
	Proximity float64 `json:"proximity"`
	Rating    float64 `json:"rating"`
	Bonus     float64 `json:"bonus"`
	Total     float64 `json:"total"`
}

type CandidateOwner struct {
	ID              uuid.UUID       `json:"id"`
	Username        string          `json:"username"`
	TrustRating     decimal.Decimal `json:"trust_rating"`
	SuccessfulDeals int             `json:"successful_deals"`
}

type RankedCandidate struct {
	Posting models.Posting `json:"posting"`
	Owner   CandidateOwner `json:"owner"`
	Score   Score          `json:"score"`
}

// MatchService ranks ACTIVE postings for a seeker.
type MatchService struct {
	store  QueryStore
	rates  RateResolver
	logger *zap.Logger
	now    func() time.Time
}

func NewMatchService(store QueryStore, rates RateResolver, logger *zap.Logger) *MatchService {
	if logger == nil {
		logger = zap.L()
	}
	return &MatchService{store: store, rates: rates, logger: logger, now: utcNow}
}

// WithClock overrides the time source.
func (s *MatchService) WithClock(now func() time.Time) *MatchService {
	s.now = now
	return s
}

// FindRankedCandidates returns the best ACTIVE postings needing want, excluding
// the seeker's own. When target is set, candidates closer to it in value rank higher.
func (s *MatchService) FindRankedCandidates(ctx context.Context, seekerID uuid.UUID, want domain.Currency, limit int, target *domain.Money) ([]RankedCandidate, error) {
	if !want.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", domain.ErrValidation, want)
	}
	if target != nil {
		if !target.Currency.Valid() {
			return nil, fmt.Errorf("%w: unsupported target currency %q", domain.ErrValidation, target.Currency)
		}
		if !target.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: target amount must be positive", domain.ErrValidation)
		}
	}
	limit = clampLimit(limit, domain.DefaultCandidateLimit, domain.MaxCandidateLimit)

	q := s.store.Queries()
	status := domain.PostingActive
	postings, err := q.ListPostings(ctx, repository.ListPostingsParams{
		ExcludeOwnerID: &seekerID,
		Currency:       &want,
		Status:         &status,
		Limit:          domain.MaxCandidateScan,
	})
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	if len(postings) == domain.MaxCandidateScan {
		// Only the oldest postings are ranked; newer ones are not seen.
		s.logger.Warn("candidate scan truncated",
			zap.String("currency", string(want)),
			zap.Int("scanned", len(postings)),
		)
	}
	if len(postings) == 0 {
		return []RankedCandidate{}, nil
	}

	owners, err := s.loadOwners(ctx, q, postings)
	if err != nil {
		return nil, err
	}

	var rate decimal.Decimal
	if target != nil && target.Currency != want {
		rate = s.rates.Resolve(ctx, domain.Direction{From: want, To: target.Currency})
	}

	now := s.now()
	ranked := make([]RankedCandidate, 0, len(postings))
	for _, p := range postings {
		owner, ok := owners[p.OwnerID]
		ranked = append(ranked, RankedCandidate{
			Posting: p,
			Owner: CandidateOwner{
				ID:              p.OwnerID,
				Username:        owner.Username,
				TrustRating:     owner.TrustRating,
				SuccessfulDeals: owner.SuccessfulDeals,
			},
			Score: s.score(p, owner, ok, target, rate, now),
		})
	}

	slices.SortFunc(ranked, func(a, b RankedCandidate) int {
		if c := cmp.Compare(b.Score.Total, a.Score.Total); c != 0 {
			return c
		}
		return bytes.Compare(a.Posting.ID[:], b.Posting.ID[:])
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	s.logger.Debug("ranked candidates",
		zap.String("seeker_id", seekerID.String()),
		zap.String("currency", string(want)),
		zap.Int("scanned", len(postings)),
		zap.Int("returned", len(ranked)),
	)
	return ranked, nil
}

// FindCounterOffers ranks postings that mirror the user's first ACTIVE posting:
// same value, opposite currency.
func (s *MatchService) FindCounterOffers(ctx context.Context, userID uuid.UUID) ([]RankedCandidate, error) {
	status := domain.PostingActive
	own, err := s.store.Queries().ListPostings(ctx, repository.ListPostingsParams{
		OwnerID: &userID,
		Status:  &status,
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("load own postings: %w", err)
	}
	if len(own) == 0 {
		return []RankedCandidate{}, nil
	}

	mine := own[0]
	target := domain.NewMoney(mine.RemainingAmount, mine.Currency)
	return s.FindRankedCandidates(ctx, userID, mine.Currency.Flip(), domain.CounterOfferLimit, &target)
}

func (s *MatchService) loadOwners(ctx context.Context, q repository.Querier, postings []models.Posting) (map[uuid.UUID]models.User, error) {
	ids := make([]uuid.UUID, 0, len(postings))
	seen := make(map[uuid.UUID]struct{}, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.OwnerID]; ok {
			continue
		}
		seen[p.OwnerID] = struct{}{}
		ids = append(ids, p.OwnerID)
	}

	users, err := q.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate owners: %w", err)
	}
	owners := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		owners[u.ID] = u
	}
	return owners, nil
}

// score never fails: a component that cannot be computed contributes its
// fallback value and the failure is logged here.
func (s *MatchService) score(p models.Posting, owner models.User, ownerKnown bool, target *domain.Money, rate decimal.Decimal, now time.Time) Score {
	logger := s.logger.With(zap.String("posting_id", p.ID.String()))

	proximity, err := proximityScore(p, target, rate)
	if err != nil {
		logger.Debug("proximity score unavailable", zap.Error(err))
		proximity = 0
	}

	rating, err := ratingScore(owner, ownerKnown)
	if err != nil {
		logger.Warn("rating score unavailable", zap.Error(err))
		rating = fallbackRatingScore
	}

	bonus, err := bonusScore(p, owner, ownerKnown, now)
	if err != nil {
		logger.Debug("bonus score unavailable", zap.Error(err))
	}

	return Score{
		Proximity: proximity,
		Rating:    rating,
		Bonus:     bonus,
		Total:     math.Min(proximity+rating+bonus, maxTotalScore),
	}
}

// proximityScore compares the candidate's amount with target in target's currency.
func proximityScore(p models.Posting, target *domain.Money, rate decimal.Decimal) (float64, error) {
	if target == nil {
		return maxProximityScore, nil
	}

	candidate := p.RemainingAmount
	if p.Currency != target.Currency {
		if !rate.IsPositive() {
			return 0, fmt.Errorf("no rate for %s->%s", p.Currency, target.Currency)
		}
		candidate = domain.NewMoney(p.RemainingAmount, p.Currency).Convert(target.Currency, rate).Amount
	}

	larger := decimal.Max(candidate, target.Amount)
	if !larger.IsPositive() {
		return 0, errZeroAmounts
	}
	diff := candidate.Sub(target.Amount).Abs()
	penalty := diff.Div(larger).InexactFloat64() * maxProximityScore
	return math.Max(maxProximityScore-penalty, 0), nil
}

func ratingScore(owner models.User, ownerKnown bool) (float64, error) {
	if !ownerKnown {
		return 0, errors.New("owner not loaded")
	}
	score := owner.TrustRating.InexactFloat64() * ratingMultiplier
	return math.Max(0, math.Min(score, maxRatingScore)), nil
}

// bonusScore rewards a deal history and fresh postings. The freshness part is
// returned even when the owner is unknown.
func bonusScore(p models.Posting, owner models.User, ownerKnown bool, now time.Time) (float64, error) {
	bonus := freshnessBonus(now.Sub(p.CreatedAt))
	if !ownerKnown {
		return math.Min(bonus, maxBonusScore), errors.New("owner not loaded")
	}
	bonus += math.Min(float64(owner.SuccessfulDeals)*dealsBonusPerDeal, maxDealsBonus)
	return math.Min(bonus, maxBonusScore), nil
}

func freshnessBonus(age time.Duration) float64 {
	switch {
	case age <= time.Hour:
		return 3
	case age <= 6*time.Hour:
		return 2
	case age <= 24*time.Hour:
		return 1
	default:
		return 0
	}
}
