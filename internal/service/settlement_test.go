package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/models"
	"github.com/ayo6706/peer-exchange/internal/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type settlementFixture struct {
	store    *memStore
	clock    *fixedClock
	svc      *SettlementService
	postings *PostingService
}

func newSettlementFixture(t *testing.T) settlementFixture {
	t.Helper()
	store := newMemStore()
	clock := newFixedClock()
	return settlementFixture{
		store:    store,
		clock:    clock,
		svc:      NewSettlementService(store, defaultRates(), zap.NewNop()).WithClock(clock.Now),
		postings: NewPostingService(store, zap.NewNop()).WithClock(clock.Now),
	}
}

func TestSettleFullFill(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("500")})
	require.NoError(t, err)

	assert.Equal(t, domain.PostingCompleted, res.Posting.Status)
	assert.True(t, res.Posting.RemainingAmount.IsZero())
	require.NotNil(t, res.Posting.FinishedAt)

	deal := res.Deal
	assert.Equal(t, alice.ID, deal.RequesterID)
	assert.Equal(t, bob.ID, deal.ProviderID)
	assert.Equal(t, posting.ID, deal.SourcePostingID)
	assert.Equal(t, domain.CurrencyPLN, deal.Currency)
	assert.Equal(t, domain.CurrencyKZT, deal.OppositeCurrency())
	assert.Equal(t, domain.DealStatusCompleted, deal.Status)
	assert.True(t, deal.Amount.Equal(dec("500")))
	assert.True(t, deal.ExchangeRate.Equal(dec("125")))
	assert.True(t, deal.ConvertedAmount().Equal(dec("62500")))
	require.NotNil(t, deal.FinishedAt)
	assert.Equal(t, f.clock.Now(), *deal.FinishedAt)

	assert.Equal(t, 1, f.store.dealCount())
	assert.Equal(t, 1, res.Requester.SuccessfulDeals)
	assert.Equal(t, 1, res.Provider.SuccessfulDeals)
	assert.Equal(t, 1, f.store.user(alice.ID).SuccessfulDeals)
	assert.Equal(t, 1, f.store.user(bob.ID).SuccessfulDeals)
	assert.Nil(t, res.CounterpartyPosting)
}

func TestSettlePartialFill(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "1000", testEpoch)

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("300")})
	require.NoError(t, err)

	assert.Equal(t, domain.PostingActive, res.Posting.Status)
	assert.True(t, res.Posting.RemainingAmount.Equal(dec("700")))
	assert.Nil(t, res.Posting.FinishedAt)
	assert.True(t, f.store.posting(posting.ID).RemainingAmount.Equal(dec("700")))
}

func TestSettleLeavingLessThanOneUnitCompletes(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "100.5", testEpoch)

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, domain.PostingCompleted, res.Posting.Status)
	assert.True(t, res.Posting.RemainingAmount.IsZero())
}

func TestSettleProposedAboveRemainder(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyKZT, "20000", testEpoch)

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("25000")})
	require.NoError(t, err)

	assert.True(t, res.Deal.Amount.Equal(dec("25000")))
	assert.True(t, res.Deal.ExchangeRate.Equal(dec("0.008")))
	assert.True(t, res.Deal.ConvertedAmount().Equal(dec("200")))
	assert.Equal(t, domain.PostingCompleted, res.Posting.Status)
	assert.True(t, res.Posting.RemainingAmount.IsZero())
}

func TestSettleRejections(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	disabled := f.store.addUser("carol", func(u *models.User) { u.Enabled = false })
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)
	cancelled := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)
	_, err := f.postings.Cancel(ctx, cancelled.ID, alice.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  SettleCmd
		want error
	}{
		{"self deal", SettleCmd{PostingID: posting.ID, CounterpartyID: alice.ID, Amount: dec("100")}, domain.ErrSelfDeal},
		{"posting not active", SettleCmd{PostingID: cancelled.ID, CounterpartyID: bob.ID, Amount: dec("100")}, domain.ErrPostingNotActive},
		{"disabled counterparty", SettleCmd{PostingID: posting.ID, CounterpartyID: disabled.ID, Amount: dec("100")}, domain.ErrUserDisabled},
		{"unknown counterparty", SettleCmd{PostingID: posting.ID, CounterpartyID: uuid.New(), Amount: dec("100")}, domain.ErrNotFound},
		{"unknown posting", SettleCmd{PostingID: uuid.New(), CounterpartyID: bob.ID, Amount: dec("100")}, domain.ErrNotFound},
		{"zero amount", SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("0.001")}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Settle(ctx, tt.cmd)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 0, f.store.dealCount())
	assert.True(t, f.store.posting(posting.ID).RemainingAmount.Equal(dec("500")))
}

func TestSettleRollsBackWhenPostingWriteFails(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)

	boom := errors.New("disk full")
	f.store.failOn("UpdatePosting", boom)

	_, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("200")})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.store.dealCount())
	assert.Equal(t, posting, f.store.posting(posting.ID))
	assert.Equal(t, 0, f.store.user(alice.ID).SuccessfulDeals)
}

func TestSettleRollsBackWhenRefreshFails(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)

	boom := errors.New("stats unavailable")
	f.store.failOn("UpdateUserStats", boom)

	_, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("200")})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.store.dealCount())
	assert.True(t, f.store.posting(posting.ID).RemainingAmount.Equal(dec("500")))
}

// transitionCount reads posting_transitions_total{to=status} from the default registry.
func transitionCount(t *testing.T, status domain.PostingStatus) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "posting_transitions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "to" && l.GetValue() == string(status) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSettleCountsTransitionOnlyAfterCommit(t *testing.T) {
	observability.Init()
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)
	before := transitionCount(t, domain.PostingCompleted)

	boom := errors.New("stats unavailable")
	f.store.failOn("UpdateUserStats", boom)
	_, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("500")})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domain.PostingActive, f.store.posting(posting.ID).Status)
	assert.Equal(t, before, transitionCount(t, domain.PostingCompleted))

	f.store.failOn("UpdateUserStats", nil)
	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("500")})
	require.NoError(t, err)
	assert.Equal(t, domain.PostingCompleted, res.Posting.Status)
	assert.Equal(t, before+1, transitionCount(t, domain.PostingCompleted))
}

func TestSettleFillsCounterpartyPosting(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)
	bobs := f.store.addPosting(bob.ID, domain.CurrencyKZT, "100000", testEpoch)

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("200")})
	require.NoError(t, err)

	require.NotNil(t, res.CounterpartyPosting)
	assert.Equal(t, bobs.ID, res.CounterpartyPosting.ID)
	assert.True(t, res.CounterpartyPosting.RemainingAmount.Equal(dec("75000")))
	assert.Equal(t, domain.PostingActive, res.CounterpartyPosting.Status)
	assert.True(t, f.store.posting(bobs.ID).RemainingAmount.Equal(dec("75000")))
}

func TestSettleCompletesSmallCounterpartyPosting(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)
	bobs := f.store.addPosting(bob.ID, domain.CurrencyKZT, "10000", testEpoch)

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("500")})
	require.NoError(t, err)

	stored := f.store.posting(bobs.ID)
	assert.Equal(t, domain.PostingCompleted, stored.Status)
	assert.True(t, stored.RemainingAmount.IsZero())
	assert.Equal(t, stored, *res.CounterpartyPosting)
}

func TestSettleKeepsDealWhenCounterpartyFillFails(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "500", testEpoch)
	bobs := f.store.addPosting(bob.ID, domain.CurrencyKZT, "100000", testEpoch)

	// The counterparty lookup happens after the deal has committed.
	f.store.failOn("ListPostings", errors.New("replica lag"))

	res, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("200")})
	require.NoError(t, err)
	assert.Nil(t, res.CounterpartyPosting)
	assert.Equal(t, 1, f.store.dealCount())
	assert.True(t, f.store.posting(posting.ID).RemainingAmount.Equal(dec("300")))
	assert.True(t, f.store.posting(bobs.ID).RemainingAmount.Equal(dec("100000")))
}

func TestConcurrentSettleNeverOverdraws(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "1000", testEpoch)

	const workers = 16
	providers := make([]models.User, workers)
	for i := range providers {
		providers[i] = f.store.addUser("provider")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(provider uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Settle(context.Background(), SettleCmd{PostingID: posting.ID, CounterpartyID: provider, Amount: dec("150")})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrPostingNotActive)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(providers[i].ID)
	}
	wg.Wait()

	final := f.store.posting(posting.ID)
	assert.False(t, final.RemainingAmount.IsNegative())
	assert.Equal(t, domain.PostingCompleted, final.Status)
	assert.True(t, final.RemainingAmount.IsZero())
	// Six fills of 150 leave 100, the seventh takes the rest.
	assert.Equal(t, 7, succeeded)
	assert.Equal(t, 7, f.store.dealCount())
	assert.Equal(t, 7, f.store.user(alice.ID).SuccessfulDeals)
}

func TestSettleIsNotIdempotent(t *testing.T) {
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "1000", testEpoch)
	cmd := SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("100")}

	first, err := f.svc.Settle(context.Background(), cmd)
	require.NoError(t, err)
	second, err := f.svc.Settle(context.Background(), cmd)
	require.NoError(t, err)

	assert.NotEqual(t, first.Deal.ID, second.Deal.ID)
	assert.True(t, second.Posting.RemainingAmount.Equal(dec("800")))
	assert.Equal(t, 2, second.Requester.SuccessfulDeals)
}

func TestDealReads(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	mallory := f.store.addUser("mallory")
	posting := f.store.addPosting(alice.ID, domain.CurrencyPLN, "1000", testEpoch)

	first, err := f.svc.Settle(ctx, SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("100")})
	require.NoError(t, err)
	f.clock.Advance(1)
	second, err := f.svc.Settle(ctx, SettleCmd{PostingID: posting.ID, CounterpartyID: bob.ID, Amount: dec("100")})
	require.NoError(t, err)

	got, err := f.svc.GetDeal(ctx, first.Deal.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Deal.ID, got.ID)

	_, err = f.svc.GetDeal(ctx, first.Deal.ID, mallory.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	deals, err := f.svc.ListDealsForUser(ctx, alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, second.Deal.ID, deals[0].ID)

	none, err := f.svc.ListDealsForUser(ctx, mallory.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
