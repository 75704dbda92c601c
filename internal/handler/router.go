package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/hkhalifa/medledger-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware биллингового сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/orders/approved", h.CreateInvoice)

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Get("/{id}/installments", h.ListInstallments)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordInvoicePayment)
			r.Post("/{id}/cancel", h.CancelInvoice)
		})

		r.Route("/installments", func(r chi.Router) {
			r.Get("/due", h.DueSoon)
			r.Post("/{id}/payments", h.RecordInstallmentPayment)
			r.Post("/{id}/reschedule", h.RescheduleInstallment)
		})

		r.Post("/maintenance/refresh-statuses", h.RefreshStatuses)

		r.Get("/clinics/{id}/credit-score", h.CreditScore)
		r.Get("/audit", h.ListAudit)
		r.Get("/summary", h.Summary)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
