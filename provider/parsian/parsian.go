// Package parsian implements the Parsian (PEC) gateway.
package parsian

import (
	"context"
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/mstgnz/shaparak/provider"
)

const (
	saleNamespace     = "https://pec.Shaparak.ir/NewIPGServices/Sale/SaleService"
	confirmNamespace  = "https://pec.Shaparak.ir/NewIPGServices/Confirm/ConfirmService"
	reversalNamespace = "https://pec.Shaparak.ir/NewIPGServices/Reversal/ReversalService"
)

var endpoints = provider.Endpoints{
	provider.ActionGateway: {
		Production: "https://pec.shaparak.ir/NewIPG/",
		Sandbox:    "parsian/NewIPG",
	},
	provider.ActionToken: {
		Production: "https://pec.shaparak.ir/NewIPGServices/Sale/SaleService.asmx?WSDL",
		Sandbox:    "Parsian/Sale/SaleService.asmx?WSDL",
	},
	provider.ActionVerify: {
		Production: "https://pec.shaparak.ir/NewIPGServices/Confirm/ConfirmService.asmx?WSDL",
		Sandbox:    "Parsian/Confirm/ConfirmService.asmx?WSDL",
	},
	provider.ActionRefund: {
		Production: "https://pec.shaparak.ir/NewIPGServices/Reverse/ReversalService.asmx?WSDL",
		Sandbox:    "Parsian/Reverse/ReversalService.asmx?WSDL",
	},
}

type saleRequest struct {
	XMLName     xml.Name        `xml:"ns1:SalePaymentRequest"`
	NS          string          `xml:"xmlns:ns1,attr"`
	RequestData saleRequestData `xml:"ns1:requestData"`
}

type saleRequestData struct {
	LoginAccount   string `xml:"ns1:LoginAccount"`
	Amount         int64  `xml:"ns1:Amount"`
	OrderID        int64  `xml:"ns1:OrderId"`
	CallBackURL    string `xml:"ns1:CallBackUrl"`
	AdditionalData string `xml:"ns1:AdditionalData"`
}

type saleResponse struct {
	Result struct {
		Token   string `xml:"Token"`
		Message string `xml:"Message"`
		Status  string `xml:"Status"`
	} `xml:"SalePaymentRequestResult"`
}

// tokenRequest is the body of ConfirmPayment and ReversalRequest; XMLName is set per call
type tokenRequest struct {
	XMLName     xml.Name
	NS          string           `xml:"xmlns:ns1,attr"`
	RequestData tokenRequestData `xml:"ns1:requestData"`
}

type tokenRequestData struct {
	LoginAccount string `xml:"ns1:LoginAccount"`
	Token        string `xml:"ns1:Token"`
}

type confirmResponse struct {
	Result struct {
		Status           string `xml:"Status"`
		RRN              string `xml:"RRN"`
		CardNumberMasked string `xml:"CardNumberMasked"`
		Token            string `xml:"Token"`
	} `xml:"ConfirmPaymentResult"`
}

type reversalResponse struct {
	Result struct {
		Status  string `xml:"Status"`
		Message string `xml:"Message"`
	} `xml:"ReversalRequestResult"`
}

// Gateway talks to Parsian e-commerce (PEC)
type Gateway struct {
	*provider.Base
}

// RequiredConfig returns the configuration fields Parsian reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "pin",
			Required:    true,
			Type:        "string",
			Description: "PEC merchant pin (LoginAccount)",
			Example:     "4P5Sx8fqbK7b1n02Kwmc",
		},
	}
}

// New creates a Parsian gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.Parsian, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.Parsian, cfg, endpoints, provider.Capabilities{Refund: true}),
	}, nil
}

func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "pin"); err != nil {
		return nil, err
	}

	endpoint, err := g.URLFor(provider.ActionToken)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	var resp saleResponse
	err = g.SOAP().Call(ctx, provider.OpRequestToken, endpoint, saleNamespace+"/SalePaymentRequest", &saleRequest{
		NS: saleNamespace,
		RequestData: saleRequestData{
			LoginAccount:   g.Param("pin"),
			Amount:         g.Amount(),
			OrderID:        g.OrderID(),
			CallBackURL:    g.CallbackURL(),
			AdditionalData: g.Param("additional_data"),
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	if err := provider.FromCode(resp.Result.Status, resp.Result.Message, "0").Err(provider.Parsian, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	token := resp.Result.Token
	if token == "" || token == "0" {
		return nil, g.Fail(provider.NewBusinessError(provider.Parsian, provider.OpRequestToken, resp.Result.Status, "sale request returned no token"))
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
	return &provider.FormParameters{
		Method: http.MethodGet,
		Action: action,
		Fields: map[string]*string{"token": provider.StringPtr(token)},
	}, nil
}

func (g *Gateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if !g.CanContinueWith(callback, "Token", "status") {
		return false, nil
	}
	return provider.NewParameters(callback).Get("status") == "0", nil
}

// VerifyTransaction matches the callback to the stored order and confirms the payment
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "pin", "Token", "status", "OrderId", "Amount"); err != nil {
		return false, err
	}

	txn := g.Transaction()
	cb := g.Parameters()
	if status := cb.Get("status"); status != "0" {
		return false, g.Fail(provider.NewBusinessError(provider.Parsian, provider.OpVerify, status, "payment was not completed"))
	}
	if got := cb.Get("OrderId"); got != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "order id", txn.GatewayOrderID(), got)
	}
	if amount, ok := provider.ParseAmount(cb.Get("Amount")); !ok || amount != txn.PayableAmount() {
		return false, g.MismatchError(provider.OpVerify, "amount", txn.PayableAmount(), cb.Get("Amount"))
	}
	if got := cb.Get("Token"); got != txn.GatewayToken() {
		return false, g.MismatchError(provider.OpVerify, "token", txn.GatewayToken(), got)
	}

	endpoint, err := g.URLFor(provider.ActionVerify)
	if err != nil {
		return false, provider.WithOp(err, provider.OpVerify)
	}
	var resp confirmResponse
	err = g.SOAP().Call(ctx, provider.OpVerify, endpoint, confirmNamespace+"/ConfirmPayment", &tokenRequest{
		XMLName:     xml.Name{Local: "ns1:ConfirmPayment"},
		NS:          confirmNamespace,
		RequestData: tokenRequestData{LoginAccount: g.Param("pin"), Token: cb.Get("Token")},
	}, &resp)
	if err != nil {
		return false, err
	}
	if err := provider.FromCode(resp.Result.Status, "confirm payment rejected", "0").Err(provider.Parsian, provider.OpVerify); err != nil {
		return false, g.Fail(err)
	}

	rrn := resp.Result.RRN
	if rrn == "" {
		rrn = cb.Get("RRN")
	}
	card := resp.Result.CardNumberMasked
	if card == "" {
		card = cb.Get("HashCardNumber")
	}
	if err := g.MarkVerified(rrn, card); err != nil {
		return false, err
	}
	return true, nil
}

// RefundTransaction reverses the payment with ReversalRequest
func (g *Gateway) RefundTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpRefund, ok, err) }()

	if err := g.RequireRefund(); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpRefund, "pin", "Token"); err != nil {
		return false, err
	}

	endpoint, err := g.URLFor(provider.ActionRefund)
	if err != nil {
		return false, provider.WithOp(err, provider.OpRefund)
	}
	var resp reversalResponse
	err = g.SOAP().Call(ctx, provider.OpRefund, endpoint, reversalNamespace+"/ReversalRequest", &tokenRequest{
		XMLName:     xml.Name{Local: "ns1:ReversalRequest"},
		NS:          reversalNamespace,
		RequestData: tokenRequestData{LoginAccount: g.Param("pin"), Token: g.Param("Token")},
	}, &resp)
	if err != nil {
		return false, err
	}
	if err := provider.FromCode(resp.Result.Status, resp.Result.Message, "0").Err(provider.Parsian, provider.OpRefund); err != nil {
		return false, err
	}
	if err := g.Transaction().SetRefunded(); err != nil {
		return false, provider.NewStateError(provider.Parsian, provider.OpRefund, "%v", err)
	}
	return true, nil
}

// GetGatewayReferenceID returns the RRN
func (g *Gateway) GetGatewayReferenceID(_ context.Context) (string, error) {
	return g.ReferenceFrom("RRN")
}
