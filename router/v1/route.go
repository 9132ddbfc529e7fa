package v1

import (
	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/shaparak/handler"
)

// Handlers are the handlers served under /v1. Logs is nil when exchange
// logging is disabled.
type Handlers struct {
	Payments  *handler.PaymentHandler
	Config    *handler.ConfigHandler
	Logs      *handler.LogsHandler
	Analytics *handler.AnalyticsHandler
}

// Routes registers all API routes
func Routes(r chi.Router, h Handlers) {
	// Payment routes
	r.Route("/payments", func(r chi.Router) {
		r.Post("/{gateway}", h.Payments.CreatePayment)
		r.Get("/{id}", h.Payments.GetPayment)
		r.Post("/{id}/settle", h.Payments.SettlePayment)
		r.Post("/{id}/refund", h.Payments.RefundPayment)
		r.Post("/{id}/inquiry", h.Payments.InquiryPayment)
	})

	// Gateway credentials
	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.Config.ListConfigs)
		r.Get("/{gateway}/fields", h.Config.GetFields)
		r.Get("/{gateway}", h.Config.GetConfig)
		r.Post("/{gateway}", h.Config.SetConfig)
		r.Delete("/{gateway}", h.Config.DeleteConfig)
	})

	r.Get("/stats/{gateway}", h.Analytics.GetGatewayStats)

	if h.Logs != nil {
		r.Get("/logs/{gateway}", h.Logs.ListExchanges)
	}
}
