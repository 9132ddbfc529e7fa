// Package pasargad implements the Pasargad (PEP) gateway. Every request is
// signed with the merchant RSA key over a #-delimited canonical string.
package pasargad

import (
	"context"
	"crypto/rsa"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/signer"
)

const (
	actionSale   = "1003"
	actionRefund = "1004"

	// dateLayout is the Y/m/d H:i:s format PEP signs and echoes back
	dateLayout = "2006/01/02 15:04:05"
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {Production: "https://pep.shaparak.ir/gateway.aspx", Sandbox: "pasargad/gateway"},
	provider.ActionCheck:   {Production: "https://pep.shaparak.ir/CheckTransactionResult.aspx", Sandbox: "pasargad/CheckTransactionResult"},
	provider.ActionVerify:  {Production: "https://pep.shaparak.ir/VerifyPayment.aspx", Sandbox: "pasargad/VerifyPayment"},
	provider.ActionRefund:  {Production: "https://pep.shaparak.ir/doRefund.aspx", Sandbox: "pasargad/doRefund"},
}

type actionResponse struct {
	XMLName xml.Name `xml:"actionResult"`
	Result  string   `xml:"result"`
	Message string   `xml:"resultMessage"`
}

type checkResponse struct {
	XMLName       xml.Name `xml:"resultObj"`
	Result        string   `xml:"result"`
	Action        string   `xml:"action"`
	InvoiceNumber string   `xml:"invoiceNumber"`
	InvoiceDate   string   `xml:"invoiceDate"`
	Amount        string   `xml:"amount"`
	ReferenceID   string   `xml:"transactionReferenceID"`
	TraceNumber   string   `xml:"traceNumber"`
}

// Gateway talks to Pasargad electronic payment (PEP)
type Gateway struct {
	*provider.Base
	key *rsa.PrivateKey
	now func() time.Time
}

// RequiredConfig returns the configuration fields Pasargad reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "terminal_id", Required: true, Type: "number", Description: "PEP terminal code", Example: "1234567"},
		{Key: "merchant_id", Required: true, Type: "number", Description: "PEP merchant code", Example: "4567890"},
		{
			Key:         "certificate_path",
			Required:    true,
			Type:        "path",
			Description: "Merchant private key as XML RSAKeyValue, PEM or PKCS#12",
			Example:     "/etc/shaparak/pasargad.xml",
		},
		{Key: "certificate_password", Type: "string", Description: "Password of a PKCS#12 bundle"},
	}
}

// New creates a Pasargad gateway and loads the merchant key
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Pasargad, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	key, err := signer.LoadPrivateKeyFile(cfg.Parameters.Get("certificate_path"), cfg.Parameters.Get("certificate_password"))
	if err != nil {
		return nil, provider.NewConfigurationError(provider.Pasargad, provider.OpConfigure, "failed to load merchant key: %v", err)
	}
	return &Gateway{
		Base: provider.NewBase(provider.Pasargad, cfg, endpoints, provider.Capabilities{Refund: true}),
		key:  key,
		now:  time.Now,
	}, nil
}

// GetFormParameters signs the sale request locally; PEP issues no token up front
func (g *Gateway) GetFormParameters(_ context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "terminal_id", "merchant_id"); err != nil {
		return nil, err
	}

	var (
		merchant    = g.Param("merchant_id")
		terminal    = g.Param("terminal_id")
		invoice     = strconv.FormatInt(g.OrderID(), 10)
		invoiceDate = g.Transaction().CreatedAt().Format(dateLayout)
		amount      = strconv.FormatInt(g.Amount(), 10)
		redirect    = g.CallbackURL()
		timestamp   = g.now().Format(dateLayout)
	)
	sign, err := g.sign(provider.OpRequestToken, merchant, terminal, invoice, invoiceDate, amount, redirect, actionSale, timestamp)
	if err != nil {
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
		Method: http.MethodPost,
		Action: action,
		Fields: map[string]*string{
			"invoiceNumber":   provider.StringPtr(invoice),
			"invoiceDate":     provider.StringPtr(invoiceDate),
			"amount":          provider.StringPtr(amount),
			"terminalCode":    provider.StringPtr(terminal),
			"merchantCode":    provider.StringPtr(merchant),
			"timeStamp":       provider.StringPtr(timestamp),
			"action":          provider.StringPtr(actionSale),
			"sign":            provider.StringPtr(sign),
			"redirectAddress": provider.StringPtr(redirect),
		},
	}, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	return g.CanContinueWith(callback, "iN", "iD", "tref"), nil
}

// VerifyTransaction records tref as the token and confirms the payment with VerifyPayment
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "terminal_id", "merchant_id", "iN", "iD", "tref"); err != nil {
		return false, err
	}
	cb := g.Parameters()
	if got := cb.Get("iN"); got != strconv.FormatInt(g.OrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "invoice number", g.OrderID(), got)
	}
	if err := g.SetToken(provider.OpVerify, cb.Get("tref")); err != nil {
		return false, g.Fail(err)
	}

	var resp actionResponse
	if err := g.post(ctx, provider.OpVerify, provider.ActionVerify, "", true, &resp); err != nil {
		return false, err
	}
	if err := provider.FromStatus(resp.Result, resp.Message, "True").Err(provider.Pasargad, provider.OpVerify); err != nil {
		return false, g.Fail(err)
	}
	if err := g.MarkVerified(cb.Get("tref"), ""); err != nil {
		return false, err
	}
	return true, nil
}

// InquiryTransaction checks the payment with CheckTransactionResult without changing its status
func (g *Gateway) InquiryTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpInquiry, ok, err) }()

	if !g.Transaction().IsReadyForInquiry() {
		return false, provider.NewStateError(provider.Pasargad, provider.OpInquiry,
			"transaction is not ready for inquiry (status %s)", g.Transaction().Status())
	}
	if err := g.Require(provider.OpInquiry, "terminal_id", "merchant_id", "iN", "iD", "tref"); err != nil {
		return false, err
	}

	var resp checkResponse
	if err := g.post(ctx, provider.OpInquiry, provider.ActionCheck, "", true, &resp); err != nil {
		return false, err
	}
	if err := provider.FromStatus(resp.Result, "transaction not found", "True").Err(provider.Pasargad, provider.OpInquiry); err != nil {
		return false, err
	}
	if got := resp.InvoiceNumber; got != strconv.FormatInt(g.OrderID(), 10) {
		return false, provider.NewStateError(provider.Pasargad, provider.OpInquiry, "invoice number mismatch: expected %d, got %s", g.OrderID(), got)
	}
	if amount, ok := provider.ParseAmount(resp.Amount); !ok || amount != g.Amount() {
		return false, provider.NewStateError(provider.Pasargad, provider.OpInquiry, "amount mismatch: expected %d, got %s", g.Amount(), resp.Amount)
	}
	return true, nil
}

// RefundTransaction reverses the payment with the signed 1004 action
func (g *Gateway) RefundTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpRefund, ok, err) }()

	if err := g.RequireRefund(); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpRefund, "terminal_id", "merchant_id", "iN", "iD", "tref"); err != nil {
		return false, err
	}

	var resp actionResponse
	if err := g.post(ctx, provider.OpRefund, provider.ActionRefund, actionRefund, false, &resp); err != nil {
		return false, err
	}
	if err := provider.FromStatus(resp.Result, resp.Message, "True").Err(provider.Pasargad, provider.OpRefund); err != nil {
		return false, err
	}
	if err := g.Transaction().SetRefunded(); err != nil {
		return false, provider.NewStateError(provider.Pasargad, provider.OpRefund, "%v", err)
	}
	return true, nil
}

// GetGatewayReferenceID returns tref
func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	return g.ReferenceFrom("tref")
}

// post sends a signed invoice-scoped request. code is the PEP action code,
// empty for calls that do not sign one.
func (g *Gateway) post(ctx context.Context, op provider.Op, action provider.Action, code string, retryable bool, v any) error {
	endpoint, err := g.URLFor(action)
	if err != nil {
		return provider.WithOp(err, op)
	}

	cb := g.Parameters()
	var (
		merchant    = cb.Get("merchant_id")
		terminal    = cb.Get("terminal_id")
		invoice     = cb.Get("iN")
		invoiceDate = cb.Get("iD")
		amount      = strconv.FormatInt(g.Amount(), 10)
		timestamp   = g.now().Format(dateLayout)
	)
	fields := []string{merchant, terminal, invoice, invoiceDate, amount}
	if code != "" {
		fields = append(fields, code)
	}
	fields = append(fields, timestamp)
	sign, err := g.sign(op, fields...)
	if err != nil {
		return err
	}

	form := map[string]string{
		"terminalCode":  terminal,
		"merchantCode":  merchant,
		"invoiceNumber": invoice,
		"invoiceDate":   invoiceDate,
		"amount":        amount,
		"timeStamp":     timestamp,
		"sign":          sign,
	}
	if code != "" {
		form["action"] = code
	}
	if action == provider.ActionCheck {
		form["invoiceUID"] = cb.Get("tref")
	}

	resp, err := g.HTTP().SendForm(ctx, &provider.HTTPRequest{
		Op:        op,
		Method:    http.MethodPost,
		URL:       endpoint,
		FormData:  form,
		Retryable: retryable,
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return provider.NewTransportError(provider.Pasargad, op, strconv.Itoa(resp.StatusCode),
			fmt.Errorf("HTTP error %d", resp.StatusCode))
	}
	if err := xml.Unmarshal(resp.Body, v); err != nil {
		return provider.NewTransportError(provider.Pasargad, op, "malformed_response", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (g *Gateway) sign(op provider.Op, fields ...string) (string, error) {
	sign, err := signer.SignSHA1(g.key, signer.CanonicalString(fields...))
	if err != nil {
		return "", provider.NewConfigurationError(provider.Pasargad, op, "failed to sign request: %v", err)
	}
	return strings.TrimSpace(sign), nil
}
