/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route table
  that connects URLs to credit ledger handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in the access log
  2. AccessLog:  zerolog request logging (method, path, status, latency)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/users/{user}/*          Balance, credits, daily rewards
  /api/orders                  Paid order issuance
  /api/generations/{id}/*      Void / restore generation charges
  /api/admin/*                 Cost reporting
  /api/scenarios/*             Demo data (dev only)

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind the
  gateway that owns user sessions.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a router with all routes configured. An empty origins
// list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(AccessLog(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)

			r.Route("/credits", func(r chi.Router) {
				r.Get("/expiring", h.GetExpiring)
				r.Get("/summary", h.GetSummary)
				r.Get("/timeline", h.GetTimeline)
				r.Post("/new-user", h.GrantNewUser)
				r.Post("/grants", h.CreateGrant)
				r.Post("/debits", h.CreateDebit)
			})

			r.Get("/check-in", h.GetCheckIn)
			r.Post("/check-in", h.ClaimCheckIn)
			r.Get("/share-reward", h.GetShareReward)
			r.Post("/share-reward", h.ClaimShareReward)
		})

		r.Post("/orders", h.IssueForOrder)

		r.Route("/generations/{generation}", func(r chi.Router) {
			r.Post("/void", h.VoidGeneration)
			r.Post("/restore", h.RestoreGeneration)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/consumption-cost", h.GetConsumptionCost)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// AccessLog logs one line per request with the request id set by
// middleware.RequestID.
func AccessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				event := log.Info()
				switch {
				case ww.Status() >= 500:
					event = log.Error()
				case ww.Status() >= 400:
					event = log.Warn()
				}
				event.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
