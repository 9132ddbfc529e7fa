// Package handler provides the HTTP handlers of the Shaparak payment service.
//
// Transactions are stored in SQLite, gateway credentials come from the
// configuration layer and bank exchanges are searched in OpenSearch.
//
// # Core Handlers
//
//   - PaymentHandler: payment lifecycle (create, callback, settle, refund, inquiry)
//   - ConfigHandler: per gateway merchant credentials
//   - LogsHandler: recorded bank exchanges
//   - AnalyticsHandler: transaction counts per gateway
//   - HealthHandler: database and gateway readiness
//
// # Payment Handler
//
//	paymentHandler := handler.NewPaymentHandler(registry, gatewayConfig, transactions, validate, logger, publicURL)
//
//	r.Post("/v1/payments/{gateway}", paymentHandler.CreatePayment)
//	r.Get("/v1/payments/{id}", paymentHandler.GetPayment)
//	r.Post("/v1/payments/{id}/settle", paymentHandler.SettlePayment)
//	r.Post("/v1/payments/{id}/refund", paymentHandler.RefundPayment)
//	r.Post("/v1/payments/{id}/inquiry", paymentHandler.InquiryPayment)
//	r.HandleFunc("/callback/{gateway}/{id}", paymentHandler.Callback)
//
// Example payment request:
//
//	POST /v1/payments/mellat
//	Headers:
//	  Authorization: Bearer your-api-key
//	  Content-Type: application/json
//
//	Body:
//	{
//	  "order_id": 1001,
//	  "amount": 250000
//	}
//
// The response carries the stored payment and the redirect form. Render the
// form as an auto-submitting page; the bank returns the payer to
// /callback/{gateway}/{id}, which verifies the payment and settles it when the
// gateway has a settle step.
//
// # Configuration Handler
//
//	r.Get("/v1/config", configHandler.ListConfigs)
//	r.Get("/v1/config/{gateway}/fields", configHandler.GetFields)
//	r.Get("/v1/config/{gateway}", configHandler.GetConfig)
//	r.Post("/v1/config/{gateway}", configHandler.SetConfig)
//	r.Delete("/v1/config/{gateway}", configHandler.DeleteConfig)
//
// Example configuration request:
//
//	POST /v1/config/zarinpal
//
//	Body:
//	{
//	  "values": {
//	    "merchant_id": "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx",
//	    "environment": "sandbox"
//	  }
//	}
//
// Secret values are masked when read back.
//
// # Error Handling
//
// Errors map to HTTP status codes by kind:
//
//   - 400 Bad Request: validation errors
//   - 402 Payment Required: the bank rejected or the payer canceled
//   - 404 Not Found: unknown payment or gateway
//   - 409 Conflict: lifecycle state errors and duplicate order ids
//   - 500 Internal Server Error: configuration errors
//   - 502 Bad Gateway: the bank could not be reached
//
// Failed lifecycle calls still return the stored payment in data.
//
// # Authentication
//
// Everything under /v1 requires the merchant API key:
//
//	Authorization: Bearer your-api-key
//
// Callbacks and health checks are public.
package handler
