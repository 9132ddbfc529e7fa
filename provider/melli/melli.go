// Package melli implements the Bank Melli (Sadad) gateway.
package melli

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/signer"
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {
		Production: "https://sadad.shaparak.ir/VPG/Purchase",
		Sandbox:    "melli/Purchase",
	},
	provider.ActionToken: {
		Production: "https://sadad.shaparak.ir/vpg/api/v0/Request/PaymentRequest",
		Sandbox:    "melli/payment-request",
	},
	provider.ActionVerify: {
		Production: "https://sadad.shaparak.ir/vpg/api/v0/Advice/Verify",
		Sandbox:    "melli/verify",
	},
}

type paymentRequest struct {
	TerminalID    string `json:"TerminalId"`
	MerchantID    string `json:"MerchantId"`
	Amount        int64  `json:"Amount"`
	SignData      string `json:"SignData"`
	ReturnURL     string `json:"ReturnUrl"`
	LocalDateTime string `json:"LocalDateTime"`
	OrderID       int64  `json:"OrderId"`
}

type paymentResponse struct {
	ResCode     json.Number `json:"ResCode"`
	Token       string      `json:"Token"`
	Description string      `json:"Description"`
}

type verifyRequest struct {
	Token    string `json:"Token"`
	SignData string `json:"SignData"`
}

type verifyResponse struct {
	ResCode       json.Number `json:"ResCode"`
	Amount        json.Number `json:"Amount"`
	Description   string      `json:"Description"`
	RetrivalRefNo string      `json:"RetrivalRefNo"`
	SystemTraceNo string      `json:"SystemTraceNo"`
	OrderID       json.Number `json:"OrderId"`
	CardNumber    string      `json:"accNoVal"`
}

// Gateway talks to Sadad
type Gateway struct {
	*provider.Base
}

// RequiredConfig returns the configuration fields Melli reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "terminal_id", Required: true, Type: "string", Description: "Sadad terminal id", Example: "24000615"},
		{Key: "merchant_id", Required: true, Type: "string", Description: "Sadad merchant id", Example: "000000140212149"},
		{
			Key:         "transaction_key",
			Required:    true,
			Type:        "base64",
			Description: "Base64 3DES key used to build SignData",
			Example:     "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3",
		},
	}
}

// New creates a Melli gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Melli, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.Melli, cfg, endpoints, provider.Capabilities{}),
	}, nil
}

// GetFormParameters requests a token with SignData = 3DES(terminal;order;amount)
func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "terminal_id", "merchant_id", "transaction_key"); err != nil {
		return nil, err
	}

	terminal := g.Param("terminal_id")
	sign, err := g.signData(provider.OpRequestToken,
		terminal+";"+strconv.FormatInt(g.OrderID(), 10)+";"+strconv.FormatInt(g.Amount(), 10))
	if err != nil {
		return nil, err
	}

	endpoint, err := g.URLFor(provider.ActionToken)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:     provider.OpRequestToken,
		Method: http.MethodPost,
		URL:    endpoint,
		Body: paymentRequest{
			TerminalID:    terminal,
			MerchantID:    g.Param("merchant_id"),
			Amount:        g.Amount(),
			SignData:      sign,
			ReturnURL:     g.CallbackURL(),
			LocalDateTime: g.Transaction().CreatedAt().Format("01/02/2006 3:04:05 pm"),
			OrderID:       g.OrderID(),
		},
	})
	if err != nil {
		return nil, err
	}
	var out paymentResponse
	if err := g.HTTP().DecodeJSON(provider.OpRequestToken, resp, &out); err != nil {
		return nil, err
	}
	if err := provider.FromCode(out.ResCode.String(), out.Description, "0").Err(provider.Melli, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	if out.Token == "" {
		return nil, g.Fail(provider.NewBusinessError(provider.Melli, provider.OpRequestToken, out.ResCode.String(), "payment request returned no token"))
	}
	if err := g.SetToken(provider.OpRequestToken, out.Token); err != nil {
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
		Fields: map[string]*string{"Token": provider.StringPtr(out.Token)},
	}, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, "OrderId", "Token", "ResCode") {
		return false, nil
	}
	return provider.NewParameters(callback).Get("ResCode") == "0", nil
}

// VerifyTransaction confirms the payment through Advice/Verify
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "terminal_id", "merchant_id", "transaction_key", "OrderId", "Token", "ResCode"); err != nil {
		return false, err
	}

	txn := g.Transaction()
	cb := g.Parameters()
	if code := cb.Get("ResCode"); code != "0" {
		return false, g.Fail(provider.NewBusinessError(provider.Melli, provider.OpVerify, code, "payment was not completed"))
	}
	if got := cb.Get("OrderId"); got != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "order id", txn.GatewayOrderID(), got)
	}
	token := cb.Get("Token")
	if token != txn.GatewayToken() {
		return false, g.MismatchError(provider.OpVerify, "token", txn.GatewayToken(), token)
	}

	sign, err := g.signData(provider.OpVerify, token)
	if err != nil {
		return false, err
	}
	endpoint, err := g.URLFor(provider.ActionVerify)
	if err != nil {
		return false, provider.WithOp(err, provider.OpVerify)
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:        provider.OpVerify,
		Method:    http.MethodPost,
		URL:       endpoint,
		Body:      verifyRequest{Token: token, SignData: sign},
		Retryable: true,
	})
	if err != nil {
		return false, err
	}
	var out verifyResponse
	if err := g.HTTP().DecodeJSON(provider.OpVerify, resp, &out); err != nil {
		return false, err
	}
	if err := provider.FromCode(out.ResCode.String(), out.Description, "0").Err(provider.Melli, provider.OpVerify); err != nil {
		return false, g.Fail(err)
	}
	if amount, err := out.Amount.Int64(); err != nil || amount != txn.PayableAmount() {
		return false, g.MismatchError(provider.OpVerify, "amount", txn.PayableAmount(), out.Amount)
	}

	if err := txn.SetExtra("system_trace_no", out.SystemTraceNo); err != nil {
		return false, provider.NewStateError(provider.Melli, provider.OpVerify, "%v", err)
	}
	card := out.CardNumber
	if card == "" {
		card = cb.Get("accNoVal")
	}
	if err := g.MarkVerified(out.RetrivalRefNo, card); err != nil {
		return false, err
	}
	return true, nil
}

// GetGatewayReferenceID returns the Sadad token
func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	if err := g.Require(provider.OpReference, "Token"); err != nil {
		return "", err
	}
	return g.Param("Token"), nil
}

func (g *Gateway) signData(op provider.Op, plain string) (string, error) {
	sign, err := signer.EncryptTripleDES(g.Param("transaction_key"), plain)
	if err != nil {
		return "", provider.NewConfigurationError(provider.Melli, op, "failed to build SignData: %v", err)
	}
	return sign, nil
}
