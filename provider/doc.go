// Package provider defines the gateway lifecycle shared by every Shaparak bank
// adapter and the plumbing the adapters are built from.
//
// # Core Concepts
//
//   - Gateway: the lifecycle contract one adapter instance serves for one transaction
//   - Transaction: the payment attempt and its forward-only status machine
//   - Base: endpoint resolution, parameter lookup and state guards adapters embed
//   - Registry: gateway factories plus the shared HTTP clients and token cache
//   - Error: the single error type, classified by Kind and Op
//
// # Lifecycle
//
//	created -> token_requested -> awaiting_callback -> callback_received -> verified -> settled -> refunded
//
// Any non-terminal status may move to failed. Refunded and failed are terminal.
//
//	registry := shaparak.New()
//	txn, _ := provider.NewTransaction(1001, 250000, callbackURL)
//	gw, err := registry.Create(provider.Saman, txn, params)
//
//	form, err := gw.GetFormParameters(ctx)           // token request and redirect form
//	ok, err := gw.CanContinueWithCallbackParameters(cb) // local callback check
//	err = txn.SetCallbackParameters(cb)
//	ok, err = gw.VerifyTransaction(ctx)                 // bank confirmation
//	ok, err = gw.SettleTransaction(ctx)                 // capture, when supported
//
// # Parameters
//
// Configuration keys are case-insensitive. Callback values are visible through
// Base.Param as well, but a configured value always wins over a callback value
// with the same name.
//
// # Transport
//
// HTTPClient wraps resty with retries for retryable calls, an optional rate
// limit per gateway and an ExchangeLogger that receives every request and
// response with secrets masked. SOAPClient builds SOAP 1.1 envelopes on top of
// it. TokenCache shares bearer tokens between transactions and collapses
// concurrent refreshes into one request.
//
// # Errors
//
//	_, err := gw.VerifyTransaction(ctx)
//	switch {
//	case errors.Is(err, provider.ErrBusiness):
//	    // the bank rejected the payment, txn is failed
//	case errors.Is(err, provider.ErrTransport):
//	    // the outcome is unknown, inquire or retry later
//	}
//
// # Adding a Gateway
//
//	type Gateway struct {
//	    *provider.Base
//	}
//
//	func Register(r *provider.Registry) {
//	    r.Register("mybank", New)
//	}
//
// Declare the endpoints of both environments in an Endpoints map and let Base
// resolve them; never build bank URLs by hand.
package provider
