/**
 * @description
 * This file sets up the HTTP router for the payout-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PayoutRoutes creates and returns a new router for the payout service.
func PayoutRoutes(h *PayoutHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider callbacks authenticate with HMAC signatures, not JWTs.
	r.Post("/payouts/webhooks/{providerCode}", h.WebhookHandler)

	// Operator surface.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/payouts/{requestID}/process", h.ProcessPayoutHandler)
		r.Get("/payouts/{requestID}", h.GetPayoutRequestHandler)

		r.Post("/payouts/transactions/{transactionID}/retry", h.RetryTransactionHandler)
		r.Get("/payouts/transactions/{transactionID}", h.GetTransactionHandler)

		r.Post("/payouts/batches/scheduled", h.CreateScheduledBatchHandler)
		r.Post("/payouts/batches/{batchID}/process", h.ProcessBatchHandler)
		r.Get("/payouts/batches/{batchID}", h.GetBatchHandler)

		r.Get("/payouts/reconciliation", h.GetReconciliationHandler)
		r.Get("/payouts/providers/status", h.GetProviderStatusesHandler)
		r.Post("/payouts/verify-method", h.VerifyMethodHandler)
	})

	// Internal surface for sibling services and operators with the shared key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/payouts/internal/retry-sweep", h.RetrySweepHandler)
	})

	return r
}
