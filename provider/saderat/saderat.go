// Package saderat implements the Bank Saderat (Sepehr) gateway.
package saderat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mstgnz/shaparak/provider"
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {
		Production: "https://sepehr.shaparak.ir:8080/Pay",
		Sandbox:    "saderat/sepehr.shaparak.ir/Pay",
	},
	provider.ActionToken: {
		Production: "https://sepehr.shaparak.ir:8081/V1/PeymentApi/GetToken",
		Sandbox:    "saderat/sepehr.shaparak.ir/V1/PeymentApi/GetToken",
	},
	provider.ActionVerify: {
		Production: "https://sepehr.shaparak.ir:8081/V1/PeymentApi/Advice",
		Sandbox:    "saderat/sepehr.shaparak.ir/V1/PeymentApi/Advice",
	},
	provider.ActionRefund: {
		Production: "https://sepehr.shaparak.ir:8081/V1/PeymentApi/Rollback",
		Sandbox:    "saderat/sepehr.shaparak.ir/V1/PeymentApi/Rollback",
	},
}

// callbackFields are posted back by Sepehr after payment
var callbackFields = []string{
	"RespCode", "RespMsg", "Amount", "InvoiceId", "TerminalId",
	"TraceNumber", "DatePaid", "DigitalReceipt", "IssuerBank", "CardNumber",
}

type tokenRequest struct {
	Amount      int64  `json:"Amount"`
	CallbackURL string `json:"callbackUrl"`
	InvoiceID   int64  `json:"invoiceID"`
	TerminalID  string `json:"terminalID"`
}

type tokenResponse struct {
	Status      json.Number `json:"Status"`
	AccessToken string      `json:"Accesstoken"`
}

type adviceRequest struct {
	DigitalReceipt string `json:"digitalreceipt"`
	Tid            string `json:"Tid"`
}

type adviceResponse struct {
	Status   string      `json:"Status"`
	ReturnID json.Number `json:"ReturnId"`
	Message  string      `json:"Message"`
}

// Gateway talks to Sepehr
type Gateway struct {
	*provider.Base
}

// RequiredConfig returns the configuration fields Saderat reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "terminal_id",
			Required:    true,
			Type:        "number",
			Description: "Sepehr terminal id",
			Example:     "98000123",
		},
	}
}

// New creates a Saderat gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Saderat, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.Saderat, cfg, endpoints, provider.Capabilities{Refund: true}),
	}, nil
}

func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	token, err := g.requestToken(ctx)
	if err != nil {
		return nil, err
	}
	action, err := g.URLFor(provider.ActionGateway)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	return &provider.FormParameters{
		Method: http.MethodPost,
		Action: action,
		Fields: map[string]*string{
			"token":      provider.StringPtr(token),
			"TerminalID": provider.StringPtr(g.Param("terminal_id")),
		},
	}, nil
}

func (g *Gateway) requestToken(ctx context.Context) (string, error) {
	if err := g.RequireTokenRequest(); err != nil {
		return "", err
	}
	if err := g.Require(provider.OpRequestToken, "terminal_id"); err != nil {
		return "", err
	}

	endpoint, err := g.URLFor(provider.ActionToken)
	if err != nil {
		return "", provider.WithOp(err, provider.OpRequestToken)
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:     provider.OpRequestToken,
		Method: http.MethodPost,
		URL:    endpoint,
		Body: tokenRequest{
			Amount:      g.Amount(),
			CallbackURL: g.CallbackURL(),
			InvoiceID:   g.OrderID(),
			TerminalID:  g.Param("terminal_id"),
		},
	})
	if err != nil {
		return "", err
	}
	var out tokenResponse
	if err := g.HTTP().DecodeJSON(provider.OpRequestToken, resp, &out); err != nil {
		return "", err
	}
	if err := provider.FromCode(out.Status.String(), "token request rejected", "0").Err(provider.Saderat, provider.OpRequestToken); err != nil {
		return "", g.Fail(err)
	}
	if out.AccessToken == "" {
		return "", g.Fail(provider.NewBusinessError(provider.Saderat, provider.OpRequestToken, out.Status.String(), "token request returned no access token"))
	}
	if err := g.SetToken(provider.OpRequestToken, out.AccessToken); err != nil {
		return "", err
	}
	if err := g.MarkAwaiting(provider.OpRequestToken); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, "RespCode") {
		return false, nil
	}
	code, err := strconv.Atoi(provider.NewParameters(callback).Get("RespCode"))
	return err == nil && code == 0, nil
}

// VerifyTransaction sends an Advice for the digital receipt. Sepehr answers a
// repeated Advice with Duplicate, which counts as success.
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(true); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, append([]string{"terminal_id"}, callbackFields...)...); err != nil {
		return false, err
	}

	txn := g.Transaction()
	cb := g.Parameters()
	if got := cb.Get("InvoiceId"); got != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "invoice id", txn.GatewayOrderID(), got)
	}
	if amount, ok := provider.ParseAmount(cb.Get("Amount")); !ok || amount != txn.PayableAmount() {
		return false, g.MismatchError(provider.OpVerify, "amount", txn.PayableAmount(), cb.Get("Amount"))
	}

	if err := g.advice(ctx, provider.OpVerify, provider.ActionVerify); err != nil {
		return false, g.Fail(err)
	}
	if err := g.MarkVerified(cb.Get("RRN"), cb.Get("CardNumber")); err != nil {
		return false, err
	}
	return true, nil
}

// RefundTransaction rolls the payment back with the same receipt
func (g *Gateway) RefundTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpRefund, ok, err) }()

	if err := g.RequireRefund(); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpRefund, append([]string{"terminal_id"}, callbackFields...)...); err != nil {
		return false, err
	}
	if err := g.advice(ctx, provider.OpRefund, provider.ActionRefund); err != nil {
		return false, err
	}
	if err := g.Transaction().SetRefunded(); err != nil {
		return false, provider.NewStateError(provider.Saderat, provider.OpRefund, "%v", err)
	}
	return true, nil
}

func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	if err := g.Require(provider.OpReference, "RRN"); err != nil {
		return "", err
	}
	return g.Param("RRN"), nil
}

// advice posts the receipt to Advice or Rollback; both answer with Status and
// the settled amount in ReturnId
func (g *Gateway) advice(ctx context.Context, op provider.Op, action provider.Action) error {
	endpoint, err := g.URLFor(action)
	if err != nil {
		return provider.WithOp(err, op)
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:     op,
		Method: http.MethodPost,
		URL:    endpoint,
		Body: adviceRequest{
			DigitalReceipt: g.Param("DigitalReceipt"),
			Tid:            g.Param("terminal_id"),
		},
		Retryable: true,
	})
	if err != nil {
		return err
	}
	var out adviceResponse
	if err := g.HTTP().DecodeJSON(op, resp, &out); err != nil {
		return err
	}
	if err := provider.FromStatus(out.Status, out.Message, "OK", "Duplicate").Err(provider.Saderat, op); err != nil {
		return err
	}
	want := g.Transaction().PayableAmount()
	if got, err := out.ReturnID.Int64(); err != nil || got != want {
		return provider.NewStateError(provider.Saderat, op, "amount mismatch: expected %d, got %s", want, out.ReturnID)
	}
	return nil
}
