package ledger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const (
	mutationRateLimit  = 30
	mutationRateWindow = time.Minute
)

// MountRoutes registers the finance endpoints. Mutations share a per-client
// rate limit; duplicate retries stay safe regardless through idempotency keys.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(mutationRateLimit, mutationRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Route("/finance", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Post("/payments", h.recordPayment)
			r.Post("/payments/{id}/refund", h.recordRefund)
			r.Post("/treatments/complete", h.completeServices)
			r.Post("/allocations", h.allocatePayment)
		})

		r.Get("/patients/{id}/summary", h.getSummary)
		r.Get("/patients/{id}/ledger", h.getLedger)
		r.Get("/patients/{id}/unpaid-works", h.getUnpaidWorks)
		r.Get("/patients/{id}/balance", h.getBalance)
	})
}
