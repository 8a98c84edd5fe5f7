package engine

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/predyx/market-engine/internal/auth"
	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/notify"
)

// NewRouter assembles the versioned HTTP API. Identity comes from the
// gateway headers; public market reads need no identity, trading needs a
// user, event and user administration needs the admin role. Pass a nil
// hub to skip the WebSocket endpoint.
func NewRouter(svc *Service, hub *notify.Hub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(auth.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time odds and trade updates.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/events", svc.HandleListEvents)
		r.Get("/events/{eventID}", svc.HandleGetMarket)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Post("/trades", svc.HandlePlaceTrade)
			r.Get("/trades/{tradeID}", svc.HandleGetTrade)
			r.Post("/trades/{tradeID}/cancel", svc.HandleCancelTrade)
			r.Get("/my-trades", svc.HandleMyTrades)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireUser, auth.RequireAdmin)
			r.Post("/events", svc.HandleCreateEvent)
			r.Post("/events/{eventID}/settle", svc.HandleSettleEvent)
			r.Post("/events/{eventID}/cancel", svc.HandleCancelEvent)
			r.Post("/users", svc.HandleCreateUser)
			r.Put("/users/{userID}/status", svc.HandleUserStatus)
			r.Get("/stats", svc.HandleStats)
		})
	})

	return r
}
