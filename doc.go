// Package shaparak provides a single adapter layer over the Iranian (Shaparak)
// bank payment gateways. Every bank speaks its own protocol (SOAP, JSON REST,
// form posts, signed or encrypted payloads) and Shaparak hides those details
// behind one lifecycle: request a token, redirect the customer, accept the
// callback, verify, then optionally settle, refund or inquire.
//
// # Architecture
//
// The payment flow follows this pattern:
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│   Your Shop     │◄──►│    Shaparak     │◄──►│   Bank          │
//	│  (checkout)     │    │   (Adapters)    │    │   Gateways      │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └─────────────────┘    └─────────────────┘
//
// # Supported Gateways
//
//   - saman: Saman (SEP) token service and reference verification
//   - mellat: Behpardakht Mellat SOAP service with settle and refund
//   - parsian: Parsian Pec SOAP sale, confirm and reversal services
//   - pasargad: Pasargad RSA signed requests with refund and inquiry
//   - asanpardakht: Asan Pardakht legacy SOAP flow with encrypted payloads
//   - asanpardakht-rest: Asan Pardakht IPG REST flow
//   - melli: Sadad (Melli) with TripleDES signed requests
//   - saderat: Saderat Sepehr token and advice services
//   - zarinpal: Zarinpal v4 REST gateway
//   - ozone: Ozone invoice gateway with a cached JWT session
//
// # Quick Start
//
//	registry := shaparak.New()
//
//	txn, _ := provider.NewTransaction(1001, 250000, "https://shop.example.ir/callback")
//	gw, err := registry.Create(provider.Mellat, txn, map[string]string{
//	    "terminal_id":   "123",
//	    "username":      "shop",
//	    "password":      "secret",
//	    "environment":   "sandbox",
//	})
//	if err != nil {
//	    return err
//	}
//
//	form, err := gw.GetFormParameters(ctx)
//	// render form.Method, form.Action and form.Fields as an auto-submitting form
//
//	// later, on the callback
//	_ = txn.SetCallbackParameters(callback)
//	ok, err := gw.VerifyTransaction(ctx)
//
// # Environments
//
// Every adapter resolves its endpoints for one of two environments. The
// production environment targets the bank hosts. The sandbox environment
// rewrites every endpoint under a simulator base URL, configured with the
// banktest_base_url parameter.
//
// # Errors
//
// Adapters return *provider.Error values. Match them with errors.Is against the
// kind sentinels (provider.ErrValidation, provider.ErrState, provider.ErrTransport,
// provider.ErrBusiness, provider.ErrConfiguration) or the operation sentinels
// (provider.ErrVerification, provider.ErrRefund and so on).
//
// # HTTP API
//
// cmd/main.go serves the adapters over HTTP:
//
//	POST /v1/payments/{gateway}
//	GET  /callback/{gateway}/{id}
//	POST /callback/{gateway}/{id}
//	GET  /v1/payments/{id}
//	POST /v1/payments/{id}/settle
//	POST /v1/payments/{id}/refund
//	POST /v1/payments/{id}/inquiry
//
// # Contributing
//
// To add a new gateway:
//
//  1. Implement provider.Gateway, embedding *provider.Base
//  2. Add the package under provider/{gateway}/
//  3. Add a Register function in provider/{gateway}/register.go
//  4. Register it in New
//  5. Add tests against a providertest simulator
package shaparak
