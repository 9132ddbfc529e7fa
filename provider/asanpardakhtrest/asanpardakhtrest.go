// Package asanpardakhtrest implements the AsanPardakht REST gateway (ipgrest v1).
package asanpardakhtrest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/shaparak/provider"
)

const extraPayGateTranID = "pay_gate_tran_id"

var endpoints = provider.Endpoints{
	provider.ActionGateway: {Production: "https://asan.shaparak.ir", Sandbox: "ap/asan.shaparak.ir"},
	provider.ActionToken:   {Production: "https://ipgrest.asanpardakht.ir/v1/Token", Sandbox: "ap/ipgrest.asanpardakht.ir/v1/Token"},
	provider.ActionVerify:  {Production: "https://ipgrest.asanpardakht.ir/v1/Verify", Sandbox: "ap/ipgrest.asanpardakht.ir/v1/Verify"},
	provider.ActionResult:  {Production: "https://ipgrest.asanpardakht.ir/v1/TranResult", Sandbox: "ap/ipgrest.asanpardakht.ir/v1/TranResult"},
	provider.ActionSettle:  {Production: "https://ipgrest.asanpardakht.ir/v1/Settlement", Sandbox: "ap/ipgrest.asanpardakht.ir/v1/Settlement"},
}

type tokenRequest struct {
	ServiceTypeID           int    `json:"serviceTypeId"`
	MerchantConfigurationID int64  `json:"merchantConfigurationId"`
	LocalInvoiceID          int64  `json:"localInvoiceId"`
	AmountInRials           int64  `json:"amountInRials"`
	LocalDate               string `json:"localDate"`
	CallbackURL             string `json:"callbackURL"`
	PaymentID               int64  `json:"paymentId"`
	AdditionalData          string `json:"additionalData,omitempty"`
}

type tranRequest struct {
	MerchantConfigurationID int64 `json:"merchantConfigurationId"`
	PayGateTranID           int64 `json:"payGateTranId"`
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type tranResult struct {
	CardNumber    flexString `json:"cardNumber"`
	RRN           flexString `json:"rrn"`
	RefID         flexString `json:"refID"`
	Amount        flexString `json:"amount"`
	PayGateTranID flexString `json:"payGateTranID"`
	SalesOrderID  flexString `json:"salesOrderID"`
	ServiceTypeID flexString `json:"serviceTypeId"`
}

// Gateway talks to the AsanPardakht REST API
type Gateway struct {
	*provider.Base
	now func() time.Time
}

// RequiredConfig returns the configuration fields AsanPardakht REST reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "terminal_id", Required: true, Type: "number", Description: "Merchant configuration id", Example: "1234"},
		{Key: "username", Required: true, Type: "string", Description: "Sent in the usr header"},
		{Key: "password", Required: true, Type: "string", Description: "Sent in the pwd header"},
		{Key: "mobile", Type: "string", Description: "Payer mobile number prefilled on the payment page"},
	}
}

// New creates an AsanPardakht REST gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.AsanPardakhtREST, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.AsanPardakhtREST, cfg, endpoints, provider.Capabilities{Settlement: true}),
		now:  time.Now,
	}, nil
}

func (g *Gateway) headers() map[string]string {
	return map[string]string{
		"usr":    g.Param("username"),
		"pwd":    g.Param("password"),
		"Accept": "application/json",
	}
}

func (g *Gateway) merchantConfigurationID() int64 {
	n, _ := g.Parameters().Int64("terminal_id")
	return n
}

// GetFormParameters requests a token; the body of a 200 response is the token itself
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
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:      provider.OpRequestToken,
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: g.headers(),
		Body: tokenRequest{
			ServiceTypeID:           1,
			MerchantConfigurationID: g.merchantConfigurationID(),
			LocalInvoiceID:          g.OrderID(),
			AmountInRials:           g.Amount(),
			LocalDate:               g.now().Format("20060102 150405"),
			CallbackURL:             strings.TrimRight(g.CallbackURL(), "/") + "/?localInvoiceId=" + strconv.FormatInt(g.OrderID(), 10),
			AdditionalData:          g.Param("additional_data"),
		},
		Retryable: true,
	})
	if err != nil {
		return nil, err
	}
	body := string(resp.Body)
	if err := provider.FromHTTPStatus(resp.StatusCode, body).Err(provider.AsanPardakhtREST, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	token := strings.Trim(strings.TrimSpace(body), `"`)
	if token == "" {
		return nil, g.Fail(provider.NewBusinessError(provider.AsanPardakhtREST, provider.OpRequestToken, "200", "empty token"))
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
	fields := map[string]*string{"RefId": provider.StringPtr(token), "mobileap": nil}
	if mobile := g.ConfigParam("mobile"); mobile != "" {
		fields["mobileap"] = provider.StringPtr(mobile)
	}
	return &provider.FormParameters{Method: http.MethodPost, Action: action, Fields: fields}, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	return g.CanContinueWith(callback, "ReturningParams", "localInvoiceId"), nil
}

// VerifyTransaction fetches TranResult, matches it to the stored order and calls Verify
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "terminal_id", "username", "password", "ReturningParams"); err != nil {
		return false, err
	}

	result, err := g.tranResult(ctx, provider.OpVerify)
	if err != nil {
		return false, err
	}
	txn := g.Transaction()
	if amount, ok := provider.ParseAmount(string(result.Amount)); !ok || amount != txn.PayableAmount() {
		return false, g.MismatchError(provider.OpVerify, "amount", txn.PayableAmount(), result.Amount)
	}
	if got := string(result.SalesOrderID); got != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "order id", txn.GatewayOrderID(), got)
	}
	if got := string(result.RefID); got != txn.GatewayToken() {
		return false, g.MismatchError(provider.OpVerify, "RefId", txn.GatewayToken(), got)
	}
	payGateTranID := string(result.PayGateTranID)
	if err := txn.SetExtra(extraPayGateTranID, payGateTranID); err != nil {
		return false, provider.NewStateError(provider.AsanPardakhtREST, provider.OpVerify, "%v", err)
	}

	if err := g.tranCall(ctx, provider.OpVerify, provider.ActionVerify, payGateTranID, true); err != nil {
		return false, err
	}
	if err := g.MarkVerified(payGateTranID, string(result.CardNumber)); err != nil {
		return false, err
	}
	return true, nil
}

// SettleTransaction posts Settlement for the verified payGateTranID
func (g *Gateway) SettleTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpSettle, ok, err) }()

	if err := g.RequireSettle(); err != nil {
		return false, err
	}
	if !g.Capabilities().Settlement {
		return false, provider.NewConfigurationError(provider.AsanPardakhtREST, provider.OpSettle, "settlement is disabled")
	}
	if err := g.Require(provider.OpSettle, "terminal_id", "username", "password"); err != nil {
		return false, err
	}

	payGateTranID, err := g.GetGatewayReferenceID(ctx)
	if err != nil {
		return false, provider.WithOp(err, provider.OpSettle)
	}
	if err := g.tranCall(ctx, provider.OpSettle, provider.ActionSettle, payGateTranID, false); err != nil {
		return false, err
	}
	if err := g.Transaction().SetSettled(); err != nil {
		return false, provider.NewStateError(provider.AsanPardakhtREST, provider.OpSettle, "%v", err)
	}
	return true, nil
}

// GetGatewayReferenceID returns payGateTranID, asking TranResult when it was not stored yet
func (g *Gateway) GetGatewayReferenceID(ctx context.Context) (string, error) {
	if ref := g.Transaction().ReferenceID(); ref != "" {
		return ref, nil
	}
	if v, ok := g.Transaction().Extra(extraPayGateTranID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	result, err := g.tranResult(ctx, provider.OpReference)
	if err != nil {
		return "", err
	}
	return string(result.PayGateTranID), nil
}

func (g *Gateway) tranResult(ctx context.Context, op provider.Op) (*tranResult, error) {
	endpoint, err := g.URLFor(provider.ActionResult)
	if err != nil {
		return nil, provider.WithOp(err, op)
	}
	resp, err := g.HTTP().Do(ctx, &provider.HTTPRequest{
		Op:      op,
		Method:  http.MethodGet,
		URL:     endpoint,
		Headers: g.headers(),
		QueryParams: map[string]string{
			"localInvoiceId":          strconv.FormatInt(g.OrderID(), 10),
			"merchantConfigurationId": strconv.FormatInt(g.merchantConfigurationID(), 10),
		},
		Retryable: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		// TranResult answers 4xx when the payer never completed the payment
		err := provider.FromHTTPStatus(resp.StatusCode, string(resp.Body)).Err(provider.AsanPardakhtREST, op)
		if op == provider.OpVerify {
			return nil, g.Fail(err)
		}
		return nil, err
	}
	var result tranResult
	if err := g.HTTP().DecodeJSON(op, resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (g *Gateway) tranCall(ctx context.Context, op provider.Op, action provider.Action, payGateTranID string, fail bool) error {
	id, err := strconv.ParseInt(payGateTranID, 10, 64)
	if err != nil {
		return provider.NewValidationError(provider.AsanPardakhtREST, op, "payGateTranID '%s' is not numeric", payGateTranID)
	}
	endpoint, err := g.URLFor(action)
	if err != nil {
		return provider.WithOp(err, op)
	}
	resp, err := g.HTTP().SendJSON(ctx, &provider.HTTPRequest{
		Op:      op,
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: g.headers(),
		Body: tranRequest{
			MerchantConfigurationID: g.merchantConfigurationID(),
			PayGateTranID:           id,
		},
	})
	if err != nil {
		return err
	}
	if err := provider.FromHTTPStatus(resp.StatusCode, string(resp.Body)).Err(provider.AsanPardakhtREST, op); err != nil {
		if fail {
			return g.Fail(err)
		}
		return err
	}
	return nil
}
