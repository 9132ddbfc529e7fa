package saman

import (
	"context"
	"encoding/xml"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/mstgnz/shaparak/provider"
)

const (
	// Production endpoints
	gatewayURL   = "https://sep.shaparak.ir/Payment.aspx"
	tokenURL     = "https://sep.shaparak.ir/Payments/InitPayment.asmx?WSDL"
	referenceURL = "https://sep.shaparak.ir/payments/referencepayment.asmx?WSDL"

	soapNamespace = "urn:Foo"

	// tokens shorter than this are error codes
	minTokenLength = 20
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {Production: gatewayURL, Sandbox: "saman/gate"},
	provider.ActionToken:   {Production: tokenURL, Sandbox: "saman/Payments/InitPayment.asmx?wsdl"},
	provider.ActionVerify:  {Production: referenceURL, Sandbox: "saman/payments/referencepayment.asmx?wsdl"},
	provider.ActionRefund:  {Production: referenceURL, Sandbox: "saman/payments/referencepayment.asmx?wsdl"},
}

type requestTokenRequest struct {
	XMLName     xml.Name `xml:"ns1:RequestToken"`
	NS          string   `xml:"xmlns:ns1,attr"`
	TermID      string   `xml:"TermID"`
	ResNum      string   `xml:"ResNum"`
	TotalAmount int64    `xml:"TotalAmount"`
}

type requestTokenResponse struct {
	XMLName xml.Name `xml:"RequestTokenResponse"`
	Result  string   `xml:"result"`
}

type verifyTransactionRequest struct {
	XMLName xml.Name `xml:"ns1:verifyTransaction"`
	NS      string   `xml:"xmlns:ns1,attr"`
	RefNum  string   `xml:"String_1"`
	MID     string   `xml:"String_2"`
}

type verifyTransactionResponse struct {
	XMLName xml.Name `xml:"verifyTransactionResponse"`
	Result  string   `xml:"result"`
}

type reverseTransactionRequest struct {
	XMLName  xml.Name `xml:"ns1:reverseTransaction1"`
	NS       string   `xml:"xmlns:ns1,attr"`
	RefNum   string   `xml:"String_1"`
	MID      string   `xml:"String_2"`
	Password string   `xml:"Password"`
	Amount   int64    `xml:"Amount"`
}

type reverseTransactionResponse struct {
	XMLName xml.Name `xml:"reverseTransaction1Response"`
	Result  string   `xml:"result"`
}

// Gateway talks to Saman Electronic Payment (SEP)
type Gateway struct {
	*provider.Base
}

// RequiredConfig returns the configuration fields Saman reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "terminal_id",
			Required:    true,
			Type:        "number",
			Description: "SEP terminal (merchant) id",
			Example:     "10845568",
		},
		{
			Key:         "terminal_pass",
			Type:        "string",
			Description: "SEP terminal password, needed for refunds",
			Example:     "1234567",
		},
	}
}

// New creates a Saman gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Saman, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.Saman, cfg, endpoints, provider.Capabilities{Refund: true}),
	}, nil
}

// GetFormParameters requests a token and returns the redirect form
func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "terminal_id"); err != nil {
		return nil, err
	}

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
			"Token":       provider.StringPtr(token),
			"RedirectURL": provider.StringPtr(g.CallbackURL()),
		},
	}, nil
}

func (g *Gateway) requestToken(ctx context.Context) (string, error) {
	endpoint, err := g.URLFor(provider.ActionToken)
	if err != nil {
		return "", provider.WithOp(err, provider.OpRequestToken)
	}

	var resp requestTokenResponse
	err = g.SOAP().Call(ctx, provider.OpRequestToken, endpoint, soapNamespace+"#RequestToken", &requestTokenRequest{
		NS:          soapNamespace,
		TermID:      g.Param("terminal_id"),
		ResNum:      strconv.FormatInt(g.OrderID(), 10),
		TotalAmount: g.Amount(),
	}, &resp)
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(resp.Result)
	if len(token) < minTokenLength {
		return "", g.Fail(provider.NewBusinessError(provider.Saman, provider.OpRequestToken, token, "token request rejected"))
	}
	if err := g.SetToken(provider.OpRequestToken, token); err != nil {
		return "", err
	}
	if err := g.MarkAwaiting(provider.OpRequestToken); err != nil {
		return "", err
	}
	return token, nil
}

// CanContinueWithCallbackParameters requires RefNum and State=OK
func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, "RefNum", "State") {
		return false, nil
	}
	return provider.NewParameters(callback).Get("State") == "OK", nil
}

// VerifyTransaction asks SEP for the paid amount and compares it to the payable amount
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	// SEP answers a repeated verify with the same amount
	if err := g.RequireVerify(true); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "terminal_id", "State", "StateCode", "RefNum", "ResNum", "TraceNo", "SecurePan"); err != nil {
		return false, err
	}

	cb := g.Parameters()
	if state := cb.Get("State"); state != "OK" {
		return false, g.Fail(provider.NewBusinessError(provider.Saman, provider.OpVerify, cb.Get("StateCode"), state))
	}
	if resNum := cb.Get("ResNum"); resNum != strconv.FormatInt(g.Transaction().GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "order id", g.Transaction().GatewayOrderID(), resNum)
	}

	endpoint, err := g.URLFor(provider.ActionVerify)
	if err != nil {
		return false, provider.WithOp(err, provider.OpVerify)
	}
	var resp verifyTransactionResponse
	err = g.SOAP().Call(ctx, provider.OpVerify, endpoint, soapNamespace+"#verifyTransaction", &verifyTransactionRequest{
		NS:     soapNamespace,
		RefNum: cb.Get("RefNum"),
		MID:    cb.Get("terminal_id"),
	}, &resp)
	if err != nil {
		return false, err
	}

	amount, err := parseResult(resp.Result)
	if err != nil {
		return false, provider.NewTransportError(provider.Saman, provider.OpVerify, "malformed_response", err)
	}
	if amount < 0 {
		return false, g.Fail(provider.NewBusinessError(provider.Saman, provider.OpVerify, strconv.FormatInt(amount, 10), "verification rejected"))
	}
	if want := g.Transaction().PayableAmount(); amount != want {
		return false, g.MismatchError(provider.OpVerify, "amount", want, amount)
	}

	if err := g.MarkVerified(cb.Get("RefNum"), cb.Get("SecurePan")); err != nil {
		return false, err
	}
	return true, nil
}

// RefundTransaction reverses the payment through reverseTransaction1
func (g *Gateway) RefundTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpRefund, ok, err) }()

	if err := g.RequireRefund(); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpRefund, "terminal_id", "terminal_pass"); err != nil {
		return false, err
	}
	refNum, err := g.ReferenceFrom("RefNum")
	if err != nil {
		return false, provider.WithOp(err, provider.OpRefund)
	}

	endpoint, err := g.URLFor(provider.ActionRefund)
	if err != nil {
		return false, provider.WithOp(err, provider.OpRefund)
	}
	var resp reverseTransactionResponse
	err = g.SOAP().Call(ctx, provider.OpRefund, endpoint, soapNamespace+"#reverseTransaction1", &reverseTransactionRequest{
		NS:       soapNamespace,
		RefNum:   refNum,
		MID:      g.Param("terminal_id"),
		Password: g.Param("terminal_pass"),
		Amount:   g.Transaction().PayableAmount(),
	}, &resp)
	if err != nil {
		return false, err
	}

	if err := provider.FromCode(resp.Result, "reverse transaction", "1").Err(provider.Saman, provider.OpRefund); err != nil {
		return false, err
	}
	if err := g.Transaction().SetRefunded(); err != nil {
		return false, provider.NewStateError(provider.Saman, provider.OpRefund, "%v", err)
	}
	return true, nil
}

// GetGatewayReferenceID returns RefNum
func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	return g.ReferenceFrom("RefNum")
}

// parseResult reads the amount SEP returns, which may be formatted as a double
func parseResult(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f)), nil
}
