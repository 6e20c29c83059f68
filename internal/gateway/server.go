package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.mx.Handler())
	r.Post("/api/login", g.handleLogin())
	r.Post("/api/logout", g.handleLogout())

	// Operator endpoints — JWT required.
	r.Group(func(r chi.Router) {
		r.Use(g.authMiddleware())
		r.Get("/api/dashboard", g.handleDashboard())
		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", g.handleListAccounts())
			r.Post("/", g.handleCreateAccount())
			r.Put("/{id}", g.handleUpdateAccount())
			r.Delete("/{id}", g.handleDeleteAccount())
		})
		r.Post("/api/checkin/manual/{id}", g.handleManualCheckin())
		r.Get("/api/history", g.handleHistory())
		r.Get("/api/notification", g.handleGetNotification())
		r.Put("/api/notification", g.handlePutNotification())
		r.Post("/api/notification/test", g.handleTestNotification())
	})

	return r
}

func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": g.startedAt,
		})
	}
}

// respondJSON writes v as a JSON response.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes a JSON error message.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"message": msg})
}
