/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It exposes the
 * single method-dispatch endpoint the mobile clients invoke, plus a health
 * check, and applies standard middleware.
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

// LedgerRoutes creates and returns a new router for the ledger service.
// When jwksURL is empty the channel endpoint is open; the mock is expected
// to run standalone in development.
func LedgerRoutes(h *LedgerHandlers, jwksURL string) http.Handler {
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

	r.Group(func(r chi.Router) {
		if jwksURL != "" {
			r.Use(AuthMiddleware(jwksURL))
		}
		r.Post("/channel/bank-transfer/invoke", h.InvokeHandler)
	})

	return r
}
