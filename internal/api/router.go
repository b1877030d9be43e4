/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API endpoints,
 * associates them with their handlers and applies the shared middleware stack.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for browser collaborators.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the router for the ledger-service.
func NewRouter(h *Handlers, auth AuthConfig, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(auth))

		// Settlement operations.
		r.Post("/purchases", h.PurchaseHandler)
		r.Post("/purchases/emi", h.EMIPurchaseHandler)
		r.Post("/bill-payments", h.BillPaymentHandler)
		r.Post("/transfers", h.TransferHandler)

		r.Post("/accounts/funds", h.AddFundsHandler)
		r.Get("/accounts/me", h.GetAccountHandler)

		r.Get("/cards", h.ListCardsHandler)
		r.Post("/cards/{cardID}/temporary", h.IssueTemporaryCardHandler)
		r.Post("/cards/{cardID}/freeze", h.FreezeCardHandler)
		r.Post("/cards/{cardID}/unfreeze", h.UnfreezeCardHandler)

		r.Get("/statements", h.ListStatementsHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/emi/plans", h.ListEMIPlansHandler)
		r.Get("/emi/quote", h.EMIQuoteHandler)
	})

	return r
}
