// Package api implements the HTTP layer for the ReportBrief email service.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reportbrief/reportbrief-backend/internal/audit"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/reportbrief/reportbrief-backend/internal/queue"
	stripeinternal "github.com/reportbrief/reportbrief-backend/internal/stripe"
	"github.com/reportbrief/reportbrief-backend/internal/triggers"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// CronSecret authenticates the external scheduler's calls to the cron
	// endpoints. Compared in constant time.
	CronSecret string

	// StripeWebhookSecret is the signing secret from the Stripe dashboard.
	// Empty disables the webhook route.
	StripeWebhookSecret string

	// Env is "production", "staging", or "development".
	Env string
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	// q handles all single-query reads. Injected directly — no repo wrapper.
	q db.Querier

	// enqueue gates and persists new email jobs.
	enqueue queue.Enqueuer

	// processor drains pending jobs when a cron endpoint fires.
	processor *queue.Processor

	// triggers hosts the lifecycle email logic behind the cron jobs and the
	// summary-complete hook.
	triggers *triggers.Engine

	// stripe verifies webhook signatures for the subscription sync.
	stripe stripeinternal.Client

	// audit records queue and trigger activity. Failures never surface.
	audit audit.Sink

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	q db.Querier,
	enqueuer queue.Enqueuer,
	processor *queue.Processor,
	engine *triggers.Engine,
	stripeClient stripeinternal.Client,
	sink audit.Sink,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	s := &Server{
		q:         q,
		enqueue:   enqueuer,
		processor: processor,
		triggers:  engine,
		stripe:    stripeClient,
		audit:     sink,
		cfg:       cfg,
		logger:    logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// ── Health and metrics ────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {

		// Cron entry points — shared-secret auth, verified inside the handlers
		// because the manager endpoint carries its secret as a query param for
		// compatibility with dumb schedulers.
		r.Get("/cron/manager", s.handleCronManager)
		r.Post("/cron/process-email-queue", s.handleProcessEmailQueue)

		// Session-scoped routes — require a valid Bearer session token.
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/auth/callback", s.handleAuthCallback)
			r.Post("/emails/on-summary-complete", s.handleOnSummaryComplete)
			r.Post("/emails/queue", s.handleQueueEmail)
		})

		// Stripe webhook — no auth (signature verification inside handler).
		if s.cfg.StripeWebhookSecret != "" {
			r.Post("/webhooks/stripe", s.handleStripeWebhook)
		}
	})

	return r
}
