// Package zarinpal implements the Zarinpal v4 payment API.
//
// Zarinpal reports success in data.code: 100 for a fresh success and 101 when
// the payment was already verified. Both verify the transaction.
package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mstgnz/shaparak/provider"
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {
		Production: "https://www.zarinpal.com/pg/StartPay",
		Sandbox:    "zarinpal/www.zarinpal.com/pg/StartPay",
	},
	provider.ActionToken: {
		Production: "https://api.zarinpal.com/pg/v4/payment/request.json",
		Sandbox:    "zarinpal/api.zarinpal.com/pg/v4/payment/request.json",
	},
	provider.ActionVerify: {
		Production: "https://api.zarinpal.com/pg/v4/payment/verify.json",
		Sandbox:    "zarinpal/api.zarinpal.com/pg/v4/payment/verify.json",
	},
}

const (
	codeSuccess  = "100"
	codeVerified = "101"
)

type paymentRequest struct {
	MerchantID  string `json:"merchant_id"`
	CallbackURL string `json:"callback_url"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Mobile      string `json:"metadata_mobile,omitempty"`
}

type verifyRequest struct {
	MerchantID string `json:"merchant_id"`
	Authority  string `json:"authority"`
	Amount     int64  `json:"amount"`
}

// envelope is the v4 response shape. data and errors are objects when
// populated and empty arrays otherwise.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type result struct {
	Code      json.Number `json:"code"`
	Message   string      `json:"message"`
	Authority string      `json:"authority"`
	RefID     json.Number `json:"ref_id"`
	CardPan   string      `json:"card_pan"`
	CardHash  string      `json:"card_hash"`
}

type apiError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

// object decodes raw into v when it holds a JSON object
func object(raw json.RawMessage, v any) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Gateway talks to Zarinpal
type Gateway struct {
	*provider.Base
}

// RequiredConfig returns the configuration fields Zarinpal reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "merchant_id",
			Required:    true,
			Type:        "string",
			Description: "Zarinpal merchant UUID",
			Example:     "1344b5d4-0048-11e8-94db-005056a205be",
			MinLength:   36,
			MaxLength:   36,
		},
		{Key: "description", Required: false, Type: "string", Description: "Payment description shown to the payer", Example: "Order 1001"},
		{Key: "mobile", Required: false, Type: "string", Description: "Payer mobile", Example: "09121234567", Pattern: `^09\d{9}$`},
	}
}

// New creates a Zarinpal gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Zarinpal, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.Zarinpal, cfg, endpoints, provider.Capabilities{}),
	}, nil
}

// GetFormParameters requests an authority and redirects to StartPay/<authority>
func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "merchant_id"); err != nil {
		return nil, err
	}

	description := g.Param("description")
	if description == "" {
		description = fmt.Sprintf("Order %d", g.OrderID())
	}
	out, err := g.call(ctx, provider.OpRequestToken, provider.ActionToken, paymentRequest{
		MerchantID:  g.Param("merchant_id"),
		CallbackURL: g.CallbackURL(),
		Amount:      g.Amount(),
		Description: description,
		Mobile:      g.Param("mobile"),
	})
	if err != nil {
		return nil, g.Fail(err)
	}
	if err := provider.FromCode(out.Code.String(), out.Message, codeSuccess).Err(provider.Zarinpal, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	if out.Authority == "" {
		return nil, g.Fail(provider.NewBusinessError(provider.Zarinpal, provider.OpRequestToken, out.Code.String(), "payment request returned no authority"))
	}
	if err := g.SetToken(provider.OpRequestToken, out.Authority); err != nil {
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
		Action: strings.TrimSuffix(action, "/") + "/" + out.Authority,
		Fields: map[string]*string{},
	}, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, "Authority") {
		return false, nil
	}
	params := provider.NewParameters(callback)
	if params.Get("Authority") != g.Transaction().GatewayToken() {
		return false, nil
	}
	return callbackState(params) == "OK", nil
}

// VerifyTransaction verifies the authority; a repeated verify answers 101
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(true); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "merchant_id", "Authority"); err != nil {
		return false, err
	}

	cb := g.Parameters()
	if state := callbackState(cb); state != "OK" {
		return false, g.Fail(provider.NewBusinessError(provider.Zarinpal, provider.OpVerify, state, "payment was not completed"))
	}
	authority := cb.Get("Authority")
	if token := g.Transaction().GatewayToken(); authority != token {
		return false, g.MismatchError(provider.OpVerify, "authority", token, authority)
	}

	out, err := g.call(ctx, provider.OpVerify, provider.ActionVerify, verifyRequest{
		MerchantID: g.Param("merchant_id"),
		Authority:  authority,
		Amount:     g.Amount(),
	})
	if err != nil {
		return false, g.Fail(err)
	}
	if err := provider.FromCode(out.Code.String(), out.Message, codeSuccess, codeVerified).Err(provider.Zarinpal, provider.OpVerify); err != nil {
		return false, g.Fail(err)
	}
	if out.CardHash != "" {
		if err := g.Transaction().SetExtra("card_hash", out.CardHash); err != nil {
			return false, provider.NewStateError(provider.Zarinpal, provider.OpVerify, "%v", err)
		}
	}
	if err := g.MarkVerified(out.RefID.String(), out.CardPan); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	if err := g.Require(provider.OpReference, "Authority"); err != nil {
		return "", err
	}
	return g.Param("Authority"), nil
}

// callbackState reads Status, falling back to the older State field
func callbackState(p provider.Parameters) string {
	if s := p.Get("Status"); s != "" {
		return s
	}
	return p.Get("State")
}

// call posts body and returns the data object. A populated errors object,
// which Zarinpal sends with a 4xx status, becomes a business error. Only
// verify is retried; a repeated payment request would issue a new authority.
func (g *Gateway) call(ctx context.Context, op provider.Op, action provider.Action, body any) (*result, error) {
	endpoint, err := g.URLFor(action)
	if err != nil {
		return nil, provider.WithOp(err, op)
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:        op,
		Method:    http.MethodPost,
		URL:       endpoint,
		Body:      body,
		Retryable: op != provider.OpRequestToken,
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if json.Unmarshal(resp.Body, &env) == nil {
		var apiErr apiError
		if found, err := object(env.Errors, &apiErr); found && err == nil && apiErr.Code != "" {
			return nil, provider.NewBusinessError(provider.Zarinpal, op, apiErr.Code.String(), apiErr.Message)
		}
	}
	if err := g.HTTP().DecodeJSON(op, resp, &env); err != nil {
		return nil, err
	}
	var out result
	found, err := object(env.Data, &out)
	if err != nil {
		return nil, provider.NewTransportError(provider.Zarinpal, op, "malformed_response", err)
	}
	if !found {
		return nil, provider.NewBusinessError(provider.Zarinpal, op, "", "response carries no data")
	}
	return &out, nil
}
