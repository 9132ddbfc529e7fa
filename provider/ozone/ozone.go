// Package ozone implements the Ozone payment service provider.
//
// Every merchant API call carries a bearer JWT obtained from SignIn. The JWT is
// shared through the registry token cache, keyed by environment and by a hash
// of the merchant API key.
package ozone

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mstgnz/shaparak/provider"
)

// JWTTTL caps how long a SignIn token is reused
const JWTTTL = 19 * time.Minute

var endpoints = provider.Endpoints{
	provider.ActionAuth: {
		Production: "https://merchant.ozone.ir/api/v2/Authentication/SignIn",
		Sandbox:    "ozone/merchant.stg.ozone.ir/api/v2/Authentication/SignIn",
	},
	provider.ActionToken: {
		Production: "https://merchant.ozone.ir/api/v1/Invoices/Online",
		Sandbox:    "ozone/merchant.stg.ozone.ir/api/v1/Invoices/Online",
	},
	provider.ActionGateway: {
		Production: "https://upg.ozone.ir",
		Sandbox:    "ozone/upg.stg.ozone.ir",
	},
	provider.ActionVerify: {
		Production: "https://merchant.ozone.ir/api/v1/PurchaseRequests/FinalConfirmation",
		Sandbox:    "ozone/merchant.stg.ozone.ir/api/v1/PurchaseRequests/FinalConfirmation",
	},
	provider.ActionRefund: {
		Production: "https://merchant.ozone.ir/api/v1/TransactionRequests/Refund",
		Sandbox:    "ozone/merchant.stg.ozone.ir/api/v1/TransactionRequests/Refund",
	},
}

type signInRequest struct {
	APIKey string `json:"ApiKey"`
}

type signInResponse struct {
	AccessToken string `json:"accessToken"`
}

type invoiceRequest struct {
	MobileNumber         string          `json:"mobileNumber,omitempty"`
	InvoiceNumber        string          `json:"invoiceNumber"`
	Amount               int64           `json:"amount"`
	RedirectURL          string          `json:"redirectUrl"`
	IsVerificationNeeded bool            `json:"isVerificationNeeded"`
	InvoiceItems         json.RawMessage `json:"invoiceItems,omitempty"`
}

type invoiceResponse struct {
	PaymentGatewayCode string `json:"paymentGatewayCode"`
}

type confirmRequest struct {
	PaymentGatewayCode string `json:"PaymentGatewayCode"`
}

type refundRequest struct {
	PaymentGatewayCode string `json:"PaymentGatewayCode"`
	InvoiceNumber      string `json:"InvoiceNumber"`
}

// referenceResponse is returned by FinalConfirmation and Refund. The
// reference code arrives as a number or a string.
type referenceResponse struct {
	ReferenceCode json.RawMessage `json:"referenceCode"`
}

func (r referenceResponse) code() string {
	return strings.Trim(string(bytes.TrimSpace(r.ReferenceCode)), `"`)
}

// Gateway talks to Ozone
type Gateway struct {
	*provider.Base
	now func() time.Time
}

// RequiredConfig returns the configuration fields Ozone reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "api_key", Required: true, Type: "string", Description: "Merchant API key for SignIn", Example: "c2VjcmV0LWFwaS1rZXk"},
		{Key: "mobile", Required: false, Type: "string", Description: "Payer mobile", Example: "09121234567", Pattern: `^09\d{9}$`},
		{Key: "invoice_items", Required: false, Type: "string", Description: "JSON array of invoice items", Example: `[{"name":"ticket","count":1}]`},
	}
}

// New creates an Ozone gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Ozone, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	if items := cfg.Parameters.Get("invoice_items"); items != "" && !json.Valid([]byte(items)) {
		return nil, provider.NewConfigurationError(provider.Ozone, provider.OpConfigure, "field 'invoice_items' must be valid JSON")
	}
	return &Gateway{
		Base: provider.NewBase(provider.Ozone, cfg, endpoints, provider.Capabilities{Refund: true}),
		now:  time.Now,
	}, nil
}

func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "api_key"); err != nil {
		return nil, err
	}

	req := invoiceRequest{
		MobileNumber:         g.Param("mobile"),
		InvoiceNumber:        strconv.FormatInt(g.OrderID(), 10),
		Amount:               g.Amount(),
		RedirectURL:          g.CallbackURL(),
		IsVerificationNeeded: true,
	}
	if items := g.Param("invoice_items"); items != "" {
		req.InvoiceItems = json.RawMessage(items)
	}
	resp, err := g.post(ctx, provider.OpRequestToken, provider.ActionToken, req)
	if err != nil {
		return nil, err
	}
	if err := provider.FromHTTPStatus(resp.StatusCode, string(resp.Body)).Err(provider.Ozone, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	var out invoiceResponse
	if err := g.HTTP().DecodeJSON(provider.OpRequestToken, resp, &out); err != nil {
		return nil, err
	}
	if out.PaymentGatewayCode == "" {
		return nil, g.Fail(provider.NewBusinessError(provider.Ozone, provider.OpRequestToken, "", "invoice returned no payment gateway code"))
	}
	if err := g.SetToken(provider.OpRequestToken, out.PaymentGatewayCode); err != nil {
		return nil, err
	}
	if err := g.MarkAwaiting(provider.OpRequestToken); err != nil {
		return nil, err
	}

	action, err := g.URLFor(provider.ActionGateway)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	return &provider.FormParameters{
		Method: http.MethodGet,
		Action: action,
		Fields: map[string]*string{"pgc": provider.StringPtr(out.PaymentGatewayCode)},
	}, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, "InvoiceNumber", "PaymentGatewayCode", "Result", "ReferenceCode") {
		return false, nil
	}
	return provider.NewParameters(callback).Get("Result") == "Paid", nil
}

// VerifyTransaction sends FinalConfirmation and checks the echoed reference code
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "api_key", "InvoiceNumber", "PaymentGatewayCode", "Result", "ReferenceCode"); err != nil {
		return false, err
	}

	txn := g.Transaction()
	cb := g.Parameters()
	if result := cb.Get("Result"); result != "Paid" {
		return false, g.Fail(provider.NewBusinessError(provider.Ozone, provider.OpVerify, result, "payment was not completed"))
	}
	if got := cb.Get("InvoiceNumber"); got != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "invoice number", txn.GatewayOrderID(), got)
	}
	if got := cb.Get("PaymentGatewayCode"); got != txn.GatewayToken() {
		return false, g.MismatchError(provider.OpVerify, "payment gateway code", txn.GatewayToken(), got)
	}

	reference := cb.Get("ReferenceCode")
	got, err := g.confirmReference(ctx, provider.OpVerify, provider.ActionVerify, confirmRequest{PaymentGatewayCode: txn.GatewayToken()})
	if err != nil {
		return false, g.Fail(err)
	}
	if got != reference {
		return false, g.MismatchError(provider.OpVerify, "reference code", reference, got)
	}
	if err := g.MarkVerified(reference, ""); err != nil {
		return false, err
	}
	return true, nil
}

// RefundTransaction refunds a verified or settled payment
func (g *Gateway) RefundTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpRefund, ok, err) }()

	if err := g.RequireRefund(); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpRefund, "api_key", "InvoiceNumber", "ReferenceCode"); err != nil {
		return false, err
	}

	reference := g.Param("ReferenceCode")
	got, err := g.confirmReference(ctx, provider.OpRefund, provider.ActionRefund, refundRequest{
		PaymentGatewayCode: g.Transaction().GatewayToken(),
		InvoiceNumber:      g.Param("InvoiceNumber"),
	})
	if err != nil {
		return false, err
	}
	if got != reference {
		return false, provider.NewStateError(provider.Ozone, provider.OpRefund, "reference code mismatch: expected %s, got %s", reference, got)
	}
	if err := g.Transaction().SetRefunded(); err != nil {
		return false, provider.NewStateError(provider.Ozone, provider.OpRefund, "%v", err)
	}
	return true, nil
}

func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	return g.ReferenceFrom("ReferenceCode")
}

func (g *Gateway) confirmReference(ctx context.Context, op provider.Op, action provider.Action, body any) (string, error) {
	resp, err := g.post(ctx, op, action, body)
	if err != nil {
		return "", err
	}
	if err := provider.FromHTTPStatus(resp.StatusCode, string(resp.Body)).Err(provider.Ozone, op); err != nil {
		return "", err
	}
	var out referenceResponse
	if err := g.HTTP().DecodeJSON(op, resp, &out); err != nil {
		return "", err
	}
	return out.code(), nil
}

// post sends an authorized merchant API call
func (g *Gateway) post(ctx context.Context, op provider.Op, action provider.Action, body any) (*provider.HTTPResponse, error) {
	bearer, err := g.bearer(ctx, op)
	if err != nil {
		return nil, err
	}
	endpoint, err := g.URLFor(action)
	if err != nil {
		return nil, provider.WithOp(err, op)
	}
	return g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:      op,
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": "Bearer " + bearer, "Accept": "application/json"},
		Body:    body,
	})
}

// bearer returns the cached SignIn JWT, signing in on a miss
func (g *Gateway) bearer(ctx context.Context, op provider.Op) (string, error) {
	token, err := g.Tokens().Get(ctx, g.tokenKey(), func(ctx context.Context) (string, time.Time, error) {
		return g.signIn(ctx, op)
	})
	if err != nil {
		return "", provider.WithOp(asGatewayError(op, err), op)
	}
	return token, nil
}

// tokenKey scopes the cached JWT to one environment and one API key
func (g *Gateway) tokenKey() string {
	sum := sha256.Sum256([]byte(g.Param("api_key")))
	return "ozone:jwt:" + string(g.Environment()) + ":" + hex.EncodeToString(sum[:8])
}

func (g *Gateway) signIn(ctx context.Context, op provider.Op) (string, time.Time, error) {
	endpoint, err := g.URLFor(provider.ActionAuth)
	if err != nil {
		return "", time.Time{}, err
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:        op,
		Method:    http.MethodPost,
		URL:       endpoint,
		Headers:   map[string]string{"Accept": "application/json"},
		Body:      signInRequest{APIKey: g.Param("api_key")},
		Retryable: true,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	var out signInResponse
	if err := g.HTTP().DecodeJSON(op, resp, &out); err != nil {
		return "", time.Time{}, err
	}
	if out.AccessToken == "" {
		return "", time.Time{}, provider.NewBusinessError(provider.Ozone, op, "", "sign in returned no access token")
	}
	return out.AccessToken, g.expiry(out.AccessToken), nil
}

// expiry reads exp from the JWT without verifying it, capped at JWTTTL
func (g *Gateway) expiry(token string) time.Time {
	limit := g.now().Add(JWTTTL)
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return limit
	}
	if exp := claims.ExpiresAt.Time; exp.Before(limit) {
		return exp
	}
	return limit
}

func asGatewayError(op provider.Op, err error) error {
	if provider.KindOf(err) != "" {
		return err
	}
	return provider.NewTransportError(provider.Ozone, op, "token_cache", err)
}
