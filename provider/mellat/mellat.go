// Package mellat implements the Behpardakht Mellat gateway.
package mellat

import (
	"context"
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/shaparak/provider"
)

const (
	gatewayURL = "https://bpm.shaparak.ir/pgwchannel/startpay.mellat"
	serviceURL = "https://bpm.shaparak.ir/pgwchannel/services/pgw?wsdl"

	soapNamespace = "http://interfaces.core.sw.bps.com/"
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {Production: gatewayURL, Sandbox: "mellat/gate"},
	provider.ActionToken:   {Production: serviceURL, Sandbox: "mellat/ws?wsdl"},
	provider.ActionVerify:  {Production: serviceURL, Sandbox: "mellat/ws?wsdl"},
	provider.ActionInquiry: {Production: serviceURL, Sandbox: "mellat/ws?wsdl"},
	provider.ActionSettle:  {Production: serviceURL, Sandbox: "mellat/ws?wsdl"},
	provider.ActionRefund:  {Production: serviceURL, Sandbox: "mellat/ws?wsdl"},
}

// callbackFields must all be present before a callback is accepted
var callbackFields = []string{"RefId", "ResCode", "SaleOrderId", "SaleReferenceId", "CardHolderInfo", "FinalAmount"}

// Result codes treated as success. 45 means the transaction was already settled or reversed.
var (
	successCodes    = []string{"0"}
	idempotentCodes = []string{"0", "45"}
)

type payRequest struct {
	XMLName        xml.Name `xml:"ns1:bpPayRequest"`
	NS             string   `xml:"xmlns:ns1,attr"`
	TerminalID     int64    `xml:"terminalId"`
	UserName       string   `xml:"userName"`
	UserPassword   string   `xml:"userPassword"`
	OrderID        int64    `xml:"orderId"`
	Amount         int64    `xml:"amount"`
	LocalDate      string   `xml:"localDate"`
	LocalTime      string   `xml:"localTime"`
	AdditionalData string   `xml:"additionalData"`
	CallBackURL    string   `xml:"callBackUrl"`
	PayerID        int64    `xml:"payerId"`
}

// saleRequest is shared by verify, inquiry, settle and reversal; XMLName is set per call
type saleRequest struct {
	XMLName         xml.Name
	NS              string `xml:"xmlns:ns1,attr"`
	TerminalID      int64  `xml:"terminalId"`
	UserName        string `xml:"userName"`
	UserPassword    string `xml:"userPassword"`
	OrderID         int64  `xml:"orderId"`
	SaleOrderID     int64  `xml:"saleOrderId"`
	SaleReferenceID int64  `xml:"saleReferenceId"`
}

// returnResponse matches every bp*Response element
type returnResponse struct {
	Return string `xml:"return"`
}

// Gateway talks to Behpardakht Mellat
type Gateway struct {
	*provider.Base
	now func() time.Time
}

// RequiredConfig returns the configuration fields Mellat reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "terminal_id", Required: true, Type: "number", Description: "Behpardakht terminal id", Example: "1234567"},
		{Key: "username", Required: true, Type: "string", Description: "Web service user name"},
		{Key: "password", Required: true, Type: "string", Description: "Web service password"},
		{Key: "payer_id", Type: "number", Description: "Optional payer id sent with bpPayRequest"},
		{Key: "mobile", Type: "string", Description: "Payer mobile number shown on the payment page", Pattern: `^09\d{9}$`},
	}
}

// New creates a Mellat gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Mellat, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.Mellat, cfg, endpoints, provider.Capabilities{Refund: true, Settlement: true}),
		now:  time.Now,
	}, nil
}

// GetFormParameters requests a RefId through bpPayRequest
func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "terminal_id", "username", "password"); err != nil {
		return nil, err
	}

	endpoint, err := g.URLFor(provider.ActionToken)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	now := g.now()
	var resp returnResponse
	err = g.SOAP().Call(ctx, provider.OpRequestToken, endpoint, "", &payRequest{
		NS:             soapNamespace,
		TerminalID:     g.int64Param("terminal_id"),
		UserName:       g.Param("username"),
		UserPassword:   g.Param("password"),
		OrderID:        g.OrderID(),
		Amount:         g.Amount(),
		LocalDate:      now.Format("20060102"),
		LocalTime:      now.Format("150405"),
		AdditionalData: g.Param("additional_data"),
		CallBackURL:    g.CallbackURL(),
		PayerID:        g.int64Param("payer_id"),
	}, &resp)
	if err != nil {
		return nil, err
	}

	code, token, _ := strings.Cut(strings.TrimSpace(resp.Return), ",")
	if err := provider.FromCode(code, "pay request rejected", successCodes...).Err(provider.Mellat, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	if token == "" {
		return nil, g.Fail(provider.NewBusinessError(provider.Mellat, provider.OpRequestToken, code, "pay request returned no RefId"))
	}
	if err := g.SetToken(provider.OpRequestToken, token); err != nil {
		return nil, err
	}
	if err := g.MarkAwaiting(provider.OpRequestToken); err != nil {
		return nil, err
	}

	action, err := g.URLFor(provider.ActionGateway)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	fields := map[string]*string{"RefId": provider.StringPtr(token)}
	if mobile := g.ConfigParam("mobile"); mobile != "" {
		fields["MobileNo"] = provider.StringPtr(mobile)
	}
	return &provider.FormParameters{Method: http.MethodPost, Action: action, Fields: fields}, nil
}

// CanContinueWithCallbackParameters requires the full callback set and ResCode 0
func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, callbackFields...) {
		return false, nil
	}
	return provider.NewParameters(callback).Get("ResCode") == "0", nil
}

// VerifyTransaction checks the callback against the stored order before calling bpVerifyRequest
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "terminal_id", "username", "password"); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, callbackFields...); err != nil {
		return false, err
	}
	if err := g.checkCallback(); err != nil {
		return false, err
	}

	if err := g.call(ctx, provider.OpVerify, provider.ActionVerify, "bpVerifyRequest", successCodes); err != nil {
		return false, err
	}
	cb := g.Parameters()
	if err := g.MarkVerified(cb.Get("SaleReferenceId"), cb.Get("CardHolderInfo")); err != nil {
		return false, err
	}
	return true, nil
}

// checkCallback rejects a callback whose order, amount or RefId differ from what was sent
func (g *Gateway) checkCallback() error {
	txn := g.Transaction()
	cb := g.Parameters()

	if got := cb.Get("SaleOrderId"); got != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return g.MismatchError(provider.OpVerify, "order id", txn.GatewayOrderID(), got)
	}
	got := cb.Get("FinalAmount")
	if amount, ok := provider.ParseAmount(got); !ok || amount != txn.PayableAmount() {
		return g.MismatchError(provider.OpVerify, "amount", txn.PayableAmount(), got)
	}
	if got := cb.Get("RefId"); got != txn.GatewayToken() {
		return g.MismatchError(provider.OpVerify, "RefId", txn.GatewayToken(), got)
	}
	return nil
}

// InquiryTransaction queries the payment status with bpInquiryRequest
func (g *Gateway) InquiryTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpInquiry, ok, err) }()

	if !g.Transaction().IsReadyForInquiry() {
		return false, provider.NewStateError(provider.Mellat, provider.OpInquiry,
			"transaction is not ready for inquiry (status %s)", g.Transaction().Status())
	}
	if err := g.Require(provider.OpInquiry, "terminal_id", "username", "password", "RefId", "SaleOrderId", "SaleReferenceId"); err != nil {
		return false, err
	}
	if err := g.call(ctx, provider.OpInquiry, provider.ActionInquiry, "bpInquiryRequest", successCodes); err != nil {
		return false, err
	}
	return true, nil
}

// SettleTransaction captures the verified payment with bpSettleRequest
func (g *Gateway) SettleTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpSettle, ok, err) }()

	if err := g.RequireSettle(); err != nil {
		return false, err
	}
	if !g.Capabilities().Settlement {
		return false, provider.NewConfigurationError(provider.Mellat, provider.OpSettle, "settlement is disabled")
	}
	if err := g.Require(provider.OpSettle, "terminal_id", "username", "password", "RefId", "SaleOrderId", "SaleReferenceId"); err != nil {
		return false, err
	}
	if err := g.call(ctx, provider.OpSettle, provider.ActionSettle, "bpSettleRequest", idempotentCodes); err != nil {
		return false, err
	}
	if err := g.Transaction().SetSettled(); err != nil {
		return false, provider.NewStateError(provider.Mellat, provider.OpSettle, "%v", err)
	}
	return true, nil
}

// RefundTransaction reverses the payment with bpReversalRequest
func (g *Gateway) RefundTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpRefund, ok, err) }()

	if err := g.RequireRefund(); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpRefund, "terminal_id", "username", "password", "RefId", "SaleOrderId", "SaleReferenceId"); err != nil {
		return false, err
	}
	if err := g.call(ctx, provider.OpRefund, provider.ActionRefund, "bpReversalRequest", idempotentCodes); err != nil {
		return false, err
	}
	if err := g.Transaction().SetRefunded(); err != nil {
		return false, provider.NewStateError(provider.Mellat, provider.OpRefund, "%v", err)
	}
	return true, nil
}

// GetGatewayReferenceID returns RefId
func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	if err := g.Require(provider.OpReference, "RefId"); err != nil {
		return "", err
	}
	return g.Param("RefId"), nil
}

// call sends one of the sale-scoped operations and normalizes its return code
func (g *Gateway) call(ctx context.Context, op provider.Op, action provider.Action, operation string, success []string) error {
	endpoint, err := g.URLFor(action)
	if err != nil {
		return provider.WithOp(err, op)
	}
	saleOrderID := g.int64Param("SaleOrderId")

	var resp returnResponse
	err = g.SOAP().Call(ctx, op, endpoint, "", &saleRequest{
		XMLName:         xml.Name{Local: "ns1:" + operation},
		NS:              soapNamespace,
		TerminalID:      g.int64Param("terminal_id"),
		UserName:        g.Param("username"),
		UserPassword:    g.Param("password"),
		OrderID:         saleOrderID,
		SaleOrderID:     saleOrderID,
		SaleReferenceID: g.int64Param("SaleReferenceId"),
	}, &resp)
	if err != nil {
		return err
	}

	res := provider.FromCode(resp.Return, operation+" rejected", success...)
	if err := res.Err(provider.Mellat, op); err != nil {
		// only a rejected verify ends the attempt; the others leave the status for a retry
		if op == provider.OpVerify {
			return g.Fail(err)
		}
		return err
	}
	return nil
}

func (g *Gateway) int64Param(key string) int64 {
	n, _ := g.Parameters().Int64(key)
	return n
}
