package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lopbooks/backorderd/internal/backorder"
	"github.com/lopbooks/backorderd/internal/buildinfo"
	"github.com/lopbooks/backorderd/internal/middleware"
	"github.com/lopbooks/backorderd/internal/models"
	"github.com/lopbooks/backorderd/internal/services/reconcile"
	"gorm.io/gorm"
)

// OrderFetcher is the slice of the upstream client the push path needs
type OrderFetcher interface {
	FetchOrderLines(ctx context.Context, orderRef string) (*models.UpstreamOrder, error)
}

// Reconciler triggers a batch reconciliation run on demand
type Reconciler interface {
	Run(ctx context.Context, since time.Time) (*reconcile.Summary, error)
}

// Deps carries the engine components the HTTP surface exposes
type Deps struct {
	JWTSecret     string
	WebhookSecret string
	Fetcher       OrderFetcher
	Ingestor      *backorder.Ingestor
	Store         *backorder.Store
	Workflow      *backorder.Workflow
	Views         *backorder.ViewBuilder
	Reconciler    Reconciler
}

// Router wraps the mux router and database
type Router struct {
	*mux.Router
	db   *gorm.DB
	deps Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *gorm.DB, deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
		deps:   deps,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", r.login).Methods("POST")

	// Push ingestion: authenticated by payload signature, not JWT
	r.HandleFunc("/webhooks/orders/create", r.orderCreated).Methods("POST")

	// Operator console routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(deps.JWTSecret))
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	api.HandleFunc("/backorders", r.detailPage).Methods("GET")
	api.HandleFunc("/backorders/aggregate", r.aggregate).Methods("GET")
	api.HandleFunc("/backorders/export", r.export).Methods("GET")
	api.HandleFunc("/backorders/closures", r.recentClosures).Methods("GET")
	api.HandleFunc("/backorders/override", r.override).Methods("POST")
	api.HandleFunc("/backorders/fulfill/order", r.fulfillOrder).Methods("POST")
	api.HandleFunc("/backorders/fulfill/item", r.fulfillItem).Methods("POST")
	api.HandleFunc("/backorders/fulfill/isbn", r.fulfillISBN).Methods("POST")
	api.HandleFunc("/backorders/undo", r.undo).Methods("POST")
	api.HandleFunc("/backorders/eta", r.setETA).Methods("POST")
	api.HandleFunc("/backorders/eta", r.clearETA).Methods("DELETE")
	api.HandleFunc("/reconcile", r.triggerReconcile).Methods("POST")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// getStatus returns the current status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"started": buildinfo.StartTime,
		"commit":  buildinfo.CommitHash,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
