package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the operator API router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/wallet/{userID}", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/transactions", h.GetWalletTransactions)
		})
		r.Get("/users/{userID}/gifts", h.ListUserGifts)
		r.Route("/gifts/{giftID}", func(r chi.Router) {
			r.Get("/", h.GetGift)
			r.Get("/log", h.GetGiftLog)
			r.Post("/cancel", h.CancelGift)
		})
	})

	return r
}
