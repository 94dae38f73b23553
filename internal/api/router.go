package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the public and JWT-protected routes. ws and metricsHandler may be nil.
func NewRouter(h *Handler, ws http.Handler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(h.Log.Middleware)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}
	if metricsHandler != nil {
		r.Get("/metrics", metricsHandler.ServeHTTP)
	}

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Get("/round", h.GetRound)
		r.Get("/pricing/next", h.GetNextPrice)
		r.Get("/events", h.GetEvents)

		r.Post("/referrals/become", h.BecomeReferral)
		r.Post("/referrals", h.RegisterReferral)
		r.Get("/referrals/{address}", h.GetReferral)

		r.Post("/sale/buy", h.BuyFromSale)

		r.Post("/orders", h.PlaceSellOrder)
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/buy", h.BuyFromOrder)

		r.Get("/balances/{address}", h.GetBalances)
		r.Post("/wallet/withdraw", h.Withdraw)

		r.Post("/admin/rounds/sale", h.StartSaleRound)
		r.Post("/admin/rounds/trade", h.StartTradeRound)
	})

	return r
}
