package api

import (
	"github.com/ayo6706/peer-exchange/internal/api/handler"
	"github.com/ayo6706/peer-exchange/internal/api/middleware"
	"github.com/ayo6706/peer-exchange/internal/api/spec"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// UserService covers registration, lookups and login.
type UserService interface {
	handler.UserService
	handler.UserLookup
}

// Deps are the collaborators the HTTP layer is built from. Redis and
// Idempotency may be nil.
type Deps struct {
	Auth        *middleware.Authenticator
	Idempotency middleware.IdempotencyStore
	DB          handler.Pinger
	Redis       handler.Pinger

	Users       UserService
	Postings    handler.PostingService
	Matches     handler.MatchService
	Settlements handler.SettlementService
	Ratings     handler.RatingService
	Rates       handler.RateSource

	PublicRateLimitRPS int
	AuthRateLimitRPS   int
}

type Router struct {
	deps   Deps
	logger *zap.Logger
}

func NewRouter(deps Deps, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.PublicRateLimitRPS <= 0 {
		deps.PublicRateLimitRPS = 10
	}
	if deps.AuthRateLimitRPS <= 0 {
		deps.AuthRateLimitRPS = 100
	}
	return &Router{deps: deps, logger: logger}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.deps.DB, api.deps.Redis)
	authHandler := handler.NewAuthHandler(api.deps.Users, api.deps.Auth)
	userHandler := handler.NewUserHandler(api.deps.Users)
	postingHandler := handler.NewPostingHandler(api.deps.Postings)
	matchHandler := handler.NewMatchHandler(api.deps.Matches)
	dealHandler := handler.NewDealHandler(api.deps.Settlements, api.deps.Ratings)
	rateHandler := handler.NewRateHandler(api.deps.Rates)

	// Ops
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.deps.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.CreateUser)
		r.Get("/v1/rates", rateHandler.Current)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(api.deps.Auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.deps.AuthRateLimitRPS))

		r.Get("/v1/users/{id}", userHandler.GetUser)

		// Postings
		r.Post("/v1/postings", postingHandler.Create)
		r.Get("/v1/postings", postingHandler.List)
		r.Get("/v1/postings/{id}", postingHandler.Get)
		r.Patch("/v1/postings/{id}", postingHandler.Update)
		r.Post("/v1/postings/{id}/cancel", postingHandler.Cancel)
		r.With(middleware.IdempotencyMiddleware(api.deps.Idempotency, api.logger)).
			Post("/v1/postings/{id}/settle", dealHandler.Settle)

		// Matching
		r.Get("/v1/matches", matchHandler.Find)
		r.Get("/v1/matches/counter", matchHandler.Counter)

		// Deals
		r.Get("/v1/deals", dealHandler.List)
		r.Get("/v1/deals/{id}", dealHandler.Get)
		r.Post("/v1/deals/{id}/ratings", dealHandler.Rate)
	})

	return r
}
