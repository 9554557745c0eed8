/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the load balancer
  3. Logger:     zerolog request logging, request logger put in the context
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the till front end

ROUTE GROUPS:
  /api/registers/*      Register sessions by register id
  /api/sessions/*       Session operations
  /api/items/*          Stock accounts
  /api/members/*        Loyalty members
  /api/accounts/*       Log and verification of any account
  /api/reconciliation/* Low stock and bulk verification
  /api/scenarios/*      Demo data
  /health               Liveness plus a storage ping
  /metrics              Prometheus exposition (when configured)

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind the POS
  backend, which authenticates staff and passes the actor id through.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/warp/pos-ledger/logging"
)

// RouterConfig carries the optional parts of the router.
type RouterConfig struct {
	AllowedOrigins []string
	Metrics        http.Handler // nil = no /metrics route
	Logger         zerolog.Logger

	// Ping checks the backing store for /health. nil = always healthy.
	Ping func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// Register routes
		r.Route("/registers/{registerID}", func(r chi.Router) {
			r.Post("/sessions", h.OpenSession)
			r.Get("/session", h.GetOpenSession)
		})

		// Session routes
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/sales", h.RecordSale)
			r.Post("/withdrawals", h.Withdraw)
			r.Post("/deposits", h.Deposit)
			r.Post("/close", h.CloseSession)
		})

		// Inventory routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Get("/{id}/availability", h.CheckAvailability)
			r.Post("/{id}/movements", h.MoveStock)
			r.Post("/{id}/counts", h.CountStock)
		})

		// Loyalty routes
		r.Route("/members", func(r chi.Router) {
			r.Post("/", h.Enroll)
			r.Get("/{id}", h.GetMember)
			r.Get("/{id}/tier", h.GetTier)
			r.Post("/{id}/earn", h.Earn)
			r.Post("/{id}/redeem", h.Redeem)
			r.Post("/{id}/redeem-cashback", h.RedeemCashback)
			r.Post("/{id}/expire", h.Expire)
		})

		// Account routes
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/entries", h.GetEntries)
			r.Get("/verify", h.VerifyAccount)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/verify", h.VerifyAccounts)
			r.Get("/low-stock", h.LowStock)
			r.Post("/low-stock", h.LowStock)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs one line per request and puts a request-scoped logger
// into the context for handlers.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), logger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.Int("status", status).
				Dur("duration", time.Since(start)).
				Str("ip", r.RemoteAddr).
				Msg("http request")
		})
	}
}
