package service

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var testEpoch = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock { return &fixedClock{now: testEpoch} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticRates map[domain.Direction]decimal.Decimal

func (r staticRates) Resolve(_ context.Context, dir domain.Direction) decimal.Decimal {
	if dir.Identity() {
		return decimal.NewFromInt(1)
	}
	return r[dir]
}

func defaultRates() staticRates {
	return staticRates{
		domain.PLNToKZT: decimal.RequireFromString("125"),
		domain.KZTToPLN: decimal.RequireFromString("0.008"),
	}
}

type memState struct {
	users    map[uuid.UUID]models.User
	postings map[uuid.UUID]models.Posting
	deals    map[uuid.UUID]models.Deal
	ratings  []models.Rating
}

func (s memState) clone() memState {
	c := memState{
		users:    make(map[uuid.UUID]models.User, len(s.users)),
		postings: make(map[uuid.UUID]models.Posting, len(s.postings)),
		deals:    make(map[uuid.UUID]models.Deal, len(s.deals)),
		ratings:  slices.Clone(s.ratings),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.postings {
		c.postings[k] = v
	}
	for k, v := range s.deals {
		c.deals[k] = v
	}
	return c
}

// memStore is an in-memory QueryStore. Transactions hold the store lock for
// their whole duration and restore a snapshot when fn fails.
type memStore struct {
	mu       sync.Mutex
	state    memState
	failures map[string]error
	txCount  int
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			users:    map[uuid.UUID]models.User{},
			postings: map[uuid.UUID]models.Posting{},
			deals:    map[uuid.UUID]models.Deal{},
		},
		failures: map[string]error{},
	}
}

func (s *memStore) Queries() repository.Querier {
	return &memQueries{store: s}
}

func (s *memStore) RunInTx(_ context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	snapshot := s.state.clone()
	if err := fn(&memQueries{store: s, inTx: true}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// failOn makes the named Querier method return err until cleared.
func (s *memStore) failOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *memStore) addUser(username string, mutate ...func(*models.User)) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{
		ID:          uuid.Must(uuid.NewV7()),
		ExternalID:  int64(len(s.state.users) + 1000),
		Username:    username,
		TrustRating: decimal.Zero,
		Enabled:     true,
		CreatedAt:   testEpoch,
		UpdatedAt:   testEpoch,
	}
	for _, m := range mutate {
		m(&u)
	}
	s.state.users[u.ID] = u
	return u
}

func (s *memStore) addPosting(owner uuid.UUID, currency domain.Currency, amount string, createdAt time.Time) models.Posting {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Posting{
		ID:              uuid.Must(uuid.NewV7()),
		OwnerID:         owner,
		Currency:        currency,
		RemainingAmount: decimal.RequireFromString(amount),
		Status:          domain.PostingActive,
		TransferMethod:  domain.TransferBank,
		Version:         1,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	s.state.postings[p.ID] = p
	return p
}

func (s *memStore) addDeal(requester, provider uuid.UUID, status domain.DealStatus) models.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := models.Deal{
		ID:             uuid.Must(uuid.NewV7()),
		RequesterID:    requester,
		ProviderID:     provider,
		Amount:         decimal.NewFromInt(100),
		Currency:       domain.CurrencyPLN,
		ExchangeRate:   decimal.NewFromInt(125),
		TransferMethod: domain.TransferBank,
		Status:         status,
		CreatedAt:      testEpoch,
	}
	s.state.deals[d.ID] = d
	return d
}

func (s *memStore) user(id uuid.UUID) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.users[id]
}

func (s *memStore) setUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

func (s *memStore) posting(id uuid.UUID) models.Posting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.postings[id]
}

func (s *memStore) dealCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.deals)
}

func (s *memStore) ratingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.ratings)
}

type memQueries struct {
	store *memStore
	inTx  bool
}

var _ repository.Querier = (*memQueries)(nil)

// begin takes the store lock for single statements issued outside a
// transaction and reports any injected failure for method.
func (q *memQueries) begin(method string) (func(), error) {
	release := func() {}
	if !q.inTx {
		q.store.mu.Lock()
		release = q.store.mu.Unlock
	}
	if err := q.store.failures[method]; err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (q *memQueries) CreateUser(_ context.Context, u models.User) error {
	release, err := q.begin("CreateUser")
	if err != nil {
		return err
	}
	defer release()
	for _, existing := range q.store.state.users {
		if existing.ExternalID == u.ExternalID {
			return fmt.Errorf("%w: user %d already registered", domain.ErrBusinessRule, u.ExternalID)
		}
	}
	q.store.state.users[u.ID] = u
	return nil
}

func (q *memQueries) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	release, err := q.begin("GetUser")
	if err != nil {
		return models.User{}, err
	}
	defer release()
	u, ok := q.store.state.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return u, nil
}

func (q *memQueries) GetUserForUpdate(ctx context.Context, id uuid.UUID) (models.User, error) {
	if err := q.store.failures["GetUserForUpdate"]; err != nil {
		return models.User{}, err
	}
	return q.GetUser(ctx, id)
}

func (q *memQueries) GetUserByExternalID(_ context.Context, externalID int64) (models.User, error) {
	release, err := q.begin("GetUserByExternalID")
	if err != nil {
		return models.User{}, err
	}
	defer release()
	for _, u := range q.store.state.users {
		if u.ExternalID == externalID {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("%w: user with external id %d", domain.ErrNotFound, externalID)
}

func (q *memQueries) GetUsersByIDs(_ context.Context, ids []uuid.UUID) ([]models.User, error) {
	release, err := q.begin("GetUsersByIDs")
	if err != nil {
		return nil, err
	}
	defer release()
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := q.store.state.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (q *memQueries) UpdateUserStats(_ context.Context, arg repository.UpdateUserStatsParams) error {
	release, err := q.begin("UpdateUserStats")
	if err != nil {
		return err
	}
	defer release()
	u, ok := q.store.state.users[arg.ID]
	if !ok {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, arg.ID)
	}
	u.TrustRating = arg.TrustRating
	u.SuccessfulDeals = arg.SuccessfulDeals
	u.UpdatedAt = arg.UpdatedAt
	q.store.state.users[u.ID] = u
	return nil
}

func (q *memQueries) ListUsersWithStatsDrift(_ context.Context, limit int32) ([]uuid.UUID, error) {
	release, err := q.begin("ListUsersWithStatsDrift")
	if err != nil {
		return nil, err
	}
	defer release()
	var drifted []uuid.UUID
	for id, u := range q.store.state.users {
		deals := q.completedDeals(id)
		stats := q.ratingStats(id)
		rating := decimal.Zero
		if stats.Count > 0 {
			rating = stats.Average.Round(domain.TrustScale)
		}
		if int64(u.SuccessfulDeals) != deals || !u.TrustRating.Equal(rating) {
			drifted = append(drifted, id)
		}
	}
	slices.SortFunc(drifted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	if len(drifted) > int(limit) {
		drifted = drifted[:limit]
	}
	return drifted, nil
}

func (q *memQueries) CreatePosting(_ context.Context, p models.Posting) error {
	release, err := q.begin("CreatePosting")
	if err != nil {
		return err
	}
	defer release()
	q.store.state.postings[p.ID] = p
	return nil
}

func (q *memQueries) GetPosting(_ context.Context, id uuid.UUID) (models.Posting, error) {
	release, err := q.begin("GetPosting")
	if err != nil {
		return models.Posting{}, err
	}
	defer release()
	p, ok := q.store.state.postings[id]
	if !ok {
		return models.Posting{}, fmt.Errorf("%w: posting %s", domain.ErrNotFound, id)
	}
	return p, nil
}

func (q *memQueries) GetPostingForUpdate(ctx context.Context, id uuid.UUID) (models.Posting, error) {
	if err := q.store.failures["GetPostingForUpdate"]; err != nil {
		return models.Posting{}, err
	}
	return q.GetPosting(ctx, id)
}

func (q *memQueries) UpdatePosting(_ context.Context, p models.Posting, expectedVersion int64) error {
	release, err := q.begin("UpdatePosting")
	if err != nil {
		return err
	}
	defer release()
	current, ok := q.store.state.postings[p.ID]
	if !ok || current.Version != expectedVersion {
		return fmt.Errorf("%w: posting %s", domain.ErrConcurrentModification, p.ID)
	}
	if p.RemainingAmount.IsNegative() {
		return fmt.Errorf("%w: remaining amount must not be negative", domain.ErrValidation)
	}
	q.store.state.postings[p.ID] = p
	return nil
}

func (q *memQueries) ListPostings(_ context.Context, arg repository.ListPostingsParams) ([]models.Posting, error) {
	release, err := q.begin("ListPostings")
	if err != nil {
		return nil, err
	}
	defer release()
	var out []models.Posting
	for _, p := range q.store.state.postings {
		switch {
		case arg.OwnerID != nil && p.OwnerID != *arg.OwnerID:
		case arg.ExcludeOwnerID != nil && p.OwnerID == *arg.ExcludeOwnerID:
		case arg.Currency != nil && p.Currency != *arg.Currency:
		case arg.Status != nil && p.Status != *arg.Status:
		case arg.CreatedBefore != nil && !p.CreatedAt.Before(*arg.CreatedBefore):
		default:
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Posting) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (q *memQueries) CountActivePostingsByOwner(_ context.Context, ownerID uuid.UUID) (int64, error) {
	release, err := q.begin("CountActivePostingsByOwner")
	if err != nil {
		return 0, err
	}
	defer release()
	var n int64
	for _, p := range q.store.state.postings {
		if p.OwnerID == ownerID && p.Status == domain.PostingActive {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) CreateDeal(_ context.Context, d models.Deal) error {
	release, err := q.begin("CreateDeal")
	if err != nil {
		return err
	}
	defer release()
	q.store.state.deals[d.ID] = d
	return nil
}

func (q *memQueries) GetDeal(_ context.Context, id uuid.UUID) (models.Deal, error) {
	release, err := q.begin("GetDeal")
	if err != nil {
		return models.Deal{}, err
	}
	defer release()
	d, ok := q.store.state.deals[id]
	if !ok {
		return models.Deal{}, fmt.Errorf("%w: deal %s", domain.ErrNotFound, id)
	}
	return d, nil
}

func (q *memQueries) ListDealsByUser(_ context.Context, userID uuid.UUID, limit int32) ([]models.Deal, error) {
	release, err := q.begin("ListDealsByUser")
	if err != nil {
		return nil, err
	}
	defer release()
	var out []models.Deal
	for _, d := range q.store.state.deals {
		if d.IsParticipant(userID) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.Deal) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	if len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) CountCompletedDealsByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	release, err := q.begin("CountCompletedDealsByUser")
	if err != nil {
		return 0, err
	}
	defer release()
	return q.completedDeals(userID), nil
}

func (q *memQueries) completedDeals(userID uuid.UUID) int64 {
	var n int64
	for _, d := range q.store.state.deals {
		if d.Status == domain.DealStatusCompleted && d.IsParticipant(userID) {
			n++
		}
	}
	return n
}

func (q *memQueries) CreateRating(_ context.Context, r models.Rating) error {
	release, err := q.begin("CreateRating")
	if err != nil {
		return err
	}
	defer release()
	for _, existing := range q.store.state.ratings {
		if existing.DealID == r.DealID && existing.RaterID == r.RaterID {
			return domain.ErrDuplicateRating
		}
	}
	q.store.state.ratings = append(q.store.state.ratings, r)
	return nil
}

func (q *memQueries) RatingExists(_ context.Context, dealID, raterID uuid.UUID) (bool, error) {
	release, err := q.begin("RatingExists")
	if err != nil {
		return false, err
	}
	defer release()
	for _, r := range q.store.state.ratings {
		if r.DealID == dealID && r.RaterID == raterID {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) GetRatingStats(_ context.Context, userID uuid.UUID) (models.RatingStats, error) {
	release, err := q.begin("GetRatingStats")
	if err != nil {
		return models.RatingStats{}, err
	}
	defer release()
	return q.ratingStats(userID), nil
}

func (q *memQueries) ratingStats(userID uuid.UUID) models.RatingStats {
	var (
		count int64
		sum   = decimal.Zero
	)
	for _, r := range q.store.state.ratings {
		if r.RatedUserID == userID {
			count++
			sum = sum.Add(r.Value)
		}
	}
	if count == 0 {
		return models.RatingStats{Average: decimal.Zero}
	}
	return models.RatingStats{Count: count, Average: sum.Div(decimal.NewFromInt(count))}
}
