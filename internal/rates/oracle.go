// Package rates resolves the live exchange rate between the two supported
// currencies through a chain of sources that degrades to a static constant.
package rates

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Stage names the source that produced a quote.
type Stage string

const (
	StagePrimary  Stage = "primary"
	StageTable    Stage = "table"
	StageInverse  Stage = "inverse"
	StageStatic   Stage = "static"
	StageIdentity Stage = "identity"
)

// staticRetryAfter bounds how long a static-fallback quote is cached while
// the live sources are enabled.
const staticRetryAfter = time.Minute

// DefaultFallback is the static Leg->Home rate used when none is configured.
var DefaultFallback = decimal.NewFromInt(125)

// HomeRateFeed is the dated primary feed.
type HomeRateFeed interface {
	HomeRate(ctx context.Context, currency domain.Currency, day time.Time) (decimal.Decimal, error)
}

// DirectionalSource quotes a rate for an explicit direction.
type DirectionalSource interface {
	Rate(ctx context.Context, dir domain.Direction) (decimal.Decimal, error)
}

type Quote struct {
	Direction domain.Direction `json:"-"`
	Pair      string           `json:"pair"`
	Rate      decimal.Decimal  `json:"rate"`
	Stage     Stage            `json:"stage"`
	FetchedAt time.Time        `json:"fetched_at"`
}

type Options struct {
	// Enabled turns the network sources on. When false only the static constant is used.
	Enabled bool
	// Leg is the currency the primary feed quotes; Home is the currency it quotes in.
	Leg  domain.Currency
	Home domain.Currency
	// Fallback is the static Leg->Home rate.
	Fallback decimal.Decimal
	TTL      time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// Oracle owns its cache; two oracles never share quotes.
type Oracle struct {
	feed  HomeRateFeed
	table DirectionalSource
	opts  Options

	mu    sync.Mutex
	cache map[domain.Direction]cachedQuote
	group singleflight.Group
}

type cachedQuote struct {
	quote     Quote
	expiresAt time.Time
}

// NewOracle builds an oracle. feed and table may be nil, in which case their
// stages are skipped.
func NewOracle(feed HomeRateFeed, table DirectionalSource, opts Options) *Oracle {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Leg == "" {
		opts.Leg = domain.CurrencyPLN
	}
	if opts.Home == "" {
		opts.Home = opts.Leg.Flip()
	}
	if !opts.Fallback.IsPositive() {
		opts.Fallback = DefaultFallback
	}
	return &Oracle{
		feed:  feed,
		table: table,
		opts:  opts,
		cache: make(map[domain.Direction]cachedQuote),
	}
}

// Resolve returns the rate for dir. It never fails.
func (o *Oracle) Resolve(ctx context.Context, dir domain.Direction) decimal.Decimal {
	return o.Quote(ctx, dir).Rate
}

// Quote returns the rate for dir together with the stage that produced it.
func (o *Oracle) Quote(ctx context.Context, dir domain.Direction) Quote {
	if dir.Identity() {
		return Quote{Direction: dir, Pair: dir.String(), Rate: decimal.NewFromInt(1), Stage: StageIdentity, FetchedAt: o.opts.Now()}
	}

	if q, ok := o.cached(dir); ok {
		return q
	}

	v, _, _ := o.group.Do(dir.String(), func() (interface{}, error) {
		if q, ok := o.cached(dir); ok {
			return q, nil
		}
		// Shared through the cache, so detached from the caller.
		// The feed clients bound it with their own timeouts.
		q := o.resolveChain(context.WithoutCancel(ctx), dir)
		o.store(q)
		observability.RecordRateResolution(dir.String(), string(q.Stage))
		return q, nil
	})
	return v.(Quote)
}

// CurrentRates quotes both directions of the pair.
func (o *Oracle) CurrentRates(ctx context.Context) []Quote {
	forward := domain.Direction{From: o.opts.Leg, To: o.opts.Home}
	return []Quote{o.Quote(ctx, forward), o.Quote(ctx, forward.Inverse())}
}

// Invalidate drops every cached quote.
func (o *Oracle) Invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	clear(o.cache)
}

func (o *Oracle) cached(dir domain.Direction) (Quote, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.cache[dir]
	if !ok || !o.opts.Now().Before(entry.expiresAt) {
		return Quote{}, false
	}
	return entry.quote, true
}

func (o *Oracle) store(q Quote) {
	ttl := o.opts.TTL
	if ttl <= 0 {
		return
	}
	if q.Stage == StageStatic && o.opts.Enabled && ttl > staticRetryAfter {
		ttl = staticRetryAfter
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[q.Direction] = cachedQuote{quote: q, expiresAt: q.FetchedAt.Add(ttl)}
}

func (o *Oracle) resolveChain(ctx context.Context, dir domain.Direction) Quote {
	now := o.opts.Now()
	quote := func(rate decimal.Decimal, stage Stage) Quote {
		return Quote{Direction: dir, Pair: dir.String(), Rate: rate, Stage: stage, FetchedAt: now}
	}
	forward := o.isForward(dir)
	logger := o.opts.Logger.With(zap.String("direction", dir.String()))

	if !o.opts.Enabled {
		return quote(o.staticRate(forward), StageStatic)
	}

	if o.feed != nil {
		rate, err := o.feed.HomeRate(ctx, o.opts.Leg, now)
		if err == nil {
			if forward {
				return quote(rate.Round(directScale(true)), StagePrimary)
			}
			return quote(invert(rate, inverseScale(false)), StagePrimary)
		}
		logger.Debug("primary rate feed failed", zap.Error(err))
	}

	if o.table != nil {
		rate, err := o.table.Rate(ctx, dir)
		if err == nil {
			return quote(rate.Round(directScale(forward)), StageTable)
		}
		logger.Debug("rate table lookup failed", zap.Error(err))

		rate, err = o.table.Rate(ctx, dir.Inverse())
		if err == nil {
			return quote(invert(rate, inverseScale(forward)), StageInverse)
		}
		logger.Debug("inverse rate table lookup failed", zap.Error(err))
	}

	logger.Info("all rate sources failed, using static rate")
	return quote(o.staticRate(forward), StageStatic)
}

func (o *Oracle) isForward(dir domain.Direction) bool {
	return dir.From == o.opts.Leg
}

func (o *Oracle) staticRate(forward bool) decimal.Decimal {
	if forward {
		return o.opts.Fallback
	}
	return invert(o.opts.Fallback, domain.RateScale)
}

// directScale is the rounding applied to a rate quoted in the requested direction.
func directScale(forward bool) int32 {
	if forward {
		return 4
	}
	return domain.RateScale
}

// inverseScale is the rounding applied to a rate derived as 1/x.
func inverseScale(forward bool) int32 {
	if forward {
		return 4
	}
	return 6
}

func invert(rate decimal.Decimal, scale int32) decimal.Decimal {
	return decimal.NewFromInt(1).Div(rate).Round(scale)
}
