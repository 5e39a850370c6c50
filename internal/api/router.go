/**
 * @description
 * This file sets up the HTTP router for the rosca-service. It defines the API
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

// RoscaRoutes creates and returns a new router for the cycle/payment engine.
func RoscaRoutes(h *RoscaHandlers, jwksURL string) http.Handler {
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

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Cycle lifecycle
		r.Post("/groups/{groupID}/cycles", h.StartCycleHandler)
		r.Get("/groups/{groupID}/cycles", h.ListCyclesHandler)
		r.Post("/cycles/{cycleID}/complete", h.CompleteCycleHandler)
		r.Post("/cycles/{cycleID}/skip", h.SkipCycleHandler)
		r.Post("/cycles/{cycleID}/reactivate", h.ReactivateCycleHandler)
		r.Delete("/cycles/{cycleID}", h.DeleteCycleHandler)

		// Membership
		r.Delete("/groups/{groupID}/members/{memberID}", h.RemoveMemberHandler)
		r.Patch("/groups/{groupID}/members/{memberID}", h.UpdateMemberHandler)
		r.Post("/groups/{groupID}/transfer-leadership", h.TransferLeadershipHandler)

		// Payments
		r.Patch("/payments/{paymentID}", h.MarkPaymentHandler)
		r.Get("/cycles/{cycleID}/payments", h.ListCyclePaymentsHandler)
	})

	return r
}
