/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the front-end dev servers

ROUTE GROUPS:
  /api/issues/*          Issue screen
  /api/inventory/*       Stock lookup and ledger
  /api/issue-requests/*  Request submission and approval
  /api/receipts/*        Receipt screen
  /api/units             Units of measure
  /api/dev/*             Demo data (dev only)

SECURITY NOTE:
  Identity is the X-User-Id header set by the front-end after sign-in.
  There is no authentication middleware; do not expose this server.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
// allowedOrigins lists the front-end origins allowed by CORS.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderIdempotencyKey},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/issues", func(r chi.Router) {
			r.Get("/approved-requests", h.ApprovedRequests)
			r.Get("/my-issues", h.MyIssues)
			r.Post("/create-from-request", h.CreateIssue)
			r.Get("/classifier", h.Classifier)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/stock/{materialId}", h.Stock)
			r.Get("/movements/{materialId}", h.Movements)
		})

		r.Route("/issue-requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/pending", h.PendingRequests)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
		})

		r.Route("/receipts", func(r chi.Router) {
			r.Post("/create", h.CreateReceipt)
			r.Get("/my-receipts", h.MyReceipts)
			r.Get("/materials/search", h.SearchMaterials)
			r.Get("/materials/{id}", h.Material)
		})

		r.Get("/units", h.Units)

		r.Route("/dev", func(r chi.Router) {
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/seed", h.Seed)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "No route for "+r.Method+" "+r.URL.Path)
	})

	return r
}
