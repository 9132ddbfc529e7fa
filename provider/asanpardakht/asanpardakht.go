// Package asanpardakht implements the legacy AsanPardakht SOAP gateway.
// Request payloads are encrypted by the bank's own EncryptInAES utility service.
package asanpardakht

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mstgnz/shaparak/provider"
)

const soapNamespace = "http://tempuri.org/"

var endpoints = provider.Endpoints{
	provider.ActionGateway: {
		Production: "https://asan.shaparak.ir",
		Sandbox:    "asanpardakht/gate",
	},
	provider.ActionUtils: {
		Production: "https://ipgsoap.asanpardakht.ir/paygate/internalutils.asmx?wsdl",
		Sandbox:    "asanpardakht/paygate/internalutils.asmx?wsdl",
	},
	provider.ActionToken: {
		Production: "https://ipgsoap.asanpardakht.ir/paygate/merchantservices.asmx?wsdl",
		Sandbox:    "asanpardakht/paygate/merchantservices.asmx?wsdl",
	},
	provider.ActionVerify: {
		Production: "https://ipgsoap.asanpardakht.ir/paygate/merchantservices.asmx?wsdl",
		Sandbox:    "asanpardakht/paygate/merchantservices.asmx?wsdl",
	},
}

type encryptRequest struct {
	XMLName       xml.Name `xml:"ns1:EncryptInAES"`
	NS            string   `xml:"xmlns:ns1,attr"`
	AESKey        string   `xml:"ns1:aesKey"`
	AESVector     string   `xml:"ns1:aesVector"`
	ToBeEncrypted string   `xml:"ns1:toBeEncrypted"`
}

type encryptResponse struct {
	Result string `xml:"EncryptInAESResult"`
}

type decryptRequest struct {
	XMLName       xml.Name `xml:"ns1:DecryptInAES"`
	NS            string   `xml:"xmlns:ns1,attr"`
	AESKey        string   `xml:"ns1:aesKey"`
	AESVector     string   `xml:"ns1:aesVector"`
	ToBeDecrypted string   `xml:"ns1:toBeDecrypted"`
}

type decryptResponse struct {
	Result string `xml:"DecryptInAESResult"`
}

type operationRequest struct {
	XMLName          xml.Name `xml:"ns1:RequestOperation"`
	NS               string   `xml:"xmlns:ns1,attr"`
	MerchantConfigID string   `xml:"ns1:merchantConfigurationID"`
	EncryptedRequest string   `xml:"ns1:encryptedRequest"`
}

type operationResponse struct {
	Result string `xml:"RequestOperationResult"`
}

// tranRequest is shared by RequestVerification and RequestReconciliation; XMLName is set per call
type tranRequest struct {
	XMLName              xml.Name
	NS                   string `xml:"xmlns:ns1,attr"`
	MerchantConfigID     string `xml:"ns1:merchantConfigurationID"`
	EncryptedCredentials string `xml:"ns1:encryptedCredentials"`
	PayGateTranID        string `xml:"ns1:payGateTranID"`
}

type verificationResponse struct {
	Result string `xml:"RequestVerificationResult"`
}

type reconciliationResponse struct {
	Result string `xml:"RequestReconciliationResult"`
}

// returningParams is the decrypted callback payload
type returningParams struct {
	Amount        string
	SaleOrderID   string
	RefID         string
	ResCode       string
	ResMessage    string
	PayGateTranID string
	RRN           string
	LastFourPAN   string
}

func parseReturningParams(s string) (*returningParams, bool) {
	parts := strings.Split(s, ",")
	if len(parts) < 8 {
		return nil, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return &returningParams{
		Amount:        parts[0],
		SaleOrderID:   parts[1],
		RefID:         parts[2],
		ResCode:       parts[3],
		ResMessage:    parts[4],
		PayGateTranID: parts[5],
		RRN:           parts[6],
		LastFourPAN:   parts[7],
	}, true
}

// Gateway talks to the AsanPardakht SOAP services
type Gateway struct {
	*provider.Base
	now func() time.Time

	mu        sync.Mutex
	returning *returningParams
}

// RequiredConfig returns the configuration fields AsanPardakht reads
func RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{Key: "merchant_id", Required: true, Type: "number", Description: "Merchant configuration id", Example: "1234"},
		{Key: "username", Required: true, Type: "string", Description: "Merchant user name"},
		{Key: "password", Required: true, Type: "string", Description: "Merchant password"},
		{Key: "key", Required: true, Type: "base64", Description: "AES key handed out by AsanPardakht"},
		{Key: "iv", Required: true, Type: "base64", Description: "AES vector handed out by AsanPardakht"},
		{Key: "mobile", Type: "string", Description: "Payer mobile number prefilled on the payment page"},
	}
}

// New creates an AsanPardakht SOAP gateway
func New(cfg provider.Config) (provider.Gateway, error) {
	if err := provider.ValidateConfigFields(provider.AsanPardakht, cfg.Parameters, RequiredConfig()); err != nil {
		return nil, err
	}
	return &Gateway{
		Base: provider.NewBase(provider.AsanPardakht, cfg, endpoints, provider.Capabilities{Settlement: true}),
		now:  time.Now,
	}, nil
}

// GetFormParameters encrypts the sale request and obtains a RefId through RequestOperation
func (g *Gateway) GetFormParameters(ctx context.Context) (form *provider.FormParameters, err error) {
	defer func() { g.Observe(provider.OpRequestToken, err == nil, err) }()

	if err := g.RequireTokenRequest(); err != nil {
		return nil, err
	}
	if err := g.Require(provider.OpRequestToken, "merchant_id", "username", "password", "key", "iv"); err != nil {
		return nil, err
	}

	request := strings.Join([]string{
		"1",
		g.Param("username"),
		g.Param("password"),
		strconv.FormatInt(g.OrderID(), 10),
		strconv.FormatInt(g.Amount(), 10),
		g.now().Format("20060102 150405"),
		g.Param("additional_data"),
		g.CallbackURL(),
		"0",
	}, ",")
	encrypted, err := g.encrypt(ctx, provider.OpRequestToken, request)
	if err != nil {
		return nil, err
	}

	endpoint, err := g.URLFor(provider.ActionToken)
	if err != nil {
		return nil, provider.WithOp(err, provider.OpRequestToken)
	}
	var resp operationResponse
	err = g.SOAP().Call(ctx, provider.OpRequestToken, endpoint, soapNamespace+"RequestOperation", &operationRequest{
		NS:               soapNamespace,
		MerchantConfigID: g.Param("merchant_id"),
		EncryptedRequest: encrypted,
	}, &resp)
	if err != nil {
		return nil, err
	}

	code, token, _ := strings.Cut(strings.TrimSpace(resp.Result), ",")
	if err := provider.FromCode(code, "request operation rejected", "0").Err(provider.AsanPardakht, provider.OpRequestToken); err != nil {
		return nil, g.Fail(err)
	}
	if token == "" {
		return nil, g.Fail(provider.NewBusinessError(provider.AsanPardakht, provider.OpRequestToken, code, "request operation returned no token"))
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
	return g.CanContinueWith(callback, "ReturningParams"), nil
}

// VerifyTransaction decrypts ReturningParams, matches it to the stored order and calls RequestVerification
func (g *Gateway) VerifyTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpVerify, ok, err) }()

	if err := g.RequireVerify(false); err != nil {
		return false, err
	}
	if err := g.Require(provider.OpVerify, "merchant_id", "username", "password", "key", "iv", "ReturningParams"); err != nil {
		return false, err
	}

	rp, err := g.returningParams(ctx, provider.OpVerify)
	if err != nil {
		return false, err
	}
	if rp.ResCode != "0" && rp.ResCode != "00" {
		return false, g.Fail(provider.NewBusinessError(provider.AsanPardakht, provider.OpVerify, rp.ResCode, rp.ResMessage))
	}
	txn := g.Transaction()
	if amount, ok := provider.ParseAmount(rp.Amount); !ok || amount != txn.PayableAmount() {
		return false, g.MismatchError(provider.OpVerify, "amount", txn.PayableAmount(), rp.Amount)
	}
	if rp.SaleOrderID != strconv.FormatInt(txn.GatewayOrderID(), 10) {
		return false, g.MismatchError(provider.OpVerify, "order id", txn.GatewayOrderID(), rp.SaleOrderID)
	}
	if rp.RefID != txn.GatewayToken() {
		return false, g.MismatchError(provider.OpVerify, "RefId", txn.GatewayToken(), rp.RefID)
	}

	var resp verificationResponse
	if err := g.tranCall(ctx, provider.OpVerify, "RequestVerification", rp.PayGateTranID, &resp); err != nil {
		return false, err
	}
	if err := provider.FromCode(resp.Result, "verification rejected", "500").Err(provider.AsanPardakht, provider.OpVerify); err != nil {
		return false, g.Fail(err)
	}
	if err := g.MarkVerified(rp.PayGateTranID, rp.LastFourPAN); err != nil {
		return false, err
	}
	return true, nil
}

// SettleTransaction reconciles the verified payment with RequestReconciliation
func (g *Gateway) SettleTransaction(ctx context.Context) (ok bool, err error) {
	defer func() { g.Observe(provider.OpSettle, ok, err) }()

	if err := g.RequireSettle(); err != nil {
		return false, err
	}
	if !g.Capabilities().Settlement {
		return false, provider.NewConfigurationError(provider.AsanPardakht, provider.OpSettle, "settlement is disabled")
	}
	if err := g.Require(provider.OpSettle, "merchant_id", "username", "password", "key", "iv", "ReturningParams"); err != nil {
		return false, err
	}

	rp, err := g.returningParams(ctx, provider.OpSettle)
	if err != nil {
		return false, err
	}
	var resp reconciliationResponse
	if err := g.tranCall(ctx, provider.OpSettle, "RequestReconciliation", rp.PayGateTranID, &resp); err != nil {
		return false, err
	}
	if err := provider.FromCode(resp.Result, "reconciliation rejected", "600").Err(provider.AsanPardakht, provider.OpSettle); err != nil {
		return false, err
	}
	if err := g.Transaction().SetSettled(); err != nil {
		return false, provider.NewStateError(provider.AsanPardakht, provider.OpSettle, "%v", err)
	}
	return true, nil
}

// GetGatewayReferenceID returns payGateTranID, decrypting ReturningParams when it was not stored yet
func (g *Gateway) GetGatewayReferenceID(ctx context.Context) (string, error) {
	if ref := g.Transaction().ReferenceID(); ref != "" {
		return ref, nil
	}
	if err := g.Require(provider.OpReference, "ReturningParams"); err != nil {
		return "", err
	}
	rp, err := g.returningParams(ctx, provider.OpReference)
	if err != nil {
		return "", err
	}
	return rp.PayGateTranID, nil
}

func (g *Gateway) returningParams(ctx context.Context, op provider.Op) (*returningParams, error) {
	g.mu.Lock()
	cached := g.returning
	g.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	plain, err := g.decrypt(ctx, op, g.Param("ReturningParams"))
	if err != nil {
		return nil, err
	}
	rp, ok := parseReturningParams(plain)
	if !ok {
		return nil, provider.NewValidationError(provider.AsanPardakht, op, "ReturningParams has an unexpected shape")
	}

	g.mu.Lock()
	g.returning = rp
	g.mu.Unlock()
	return rp, nil
}

func (g *Gateway) tranCall(ctx context.Context, op provider.Op, operation, payGateTranID string, resp any) error {
	credentials, err := g.encrypt(ctx, op, g.Param("username")+","+g.Param("password"))
	if err != nil {
		return err
	}
	endpoint, err := g.URLFor(provider.ActionVerify)
	if err != nil {
		return provider.WithOp(err, op)
	}
	return g.SOAP().Call(ctx, op, endpoint, soapNamespace+operation, &tranRequest{
		XMLName:              xml.Name{Local: "ns1:" + operation},
		NS:                   soapNamespace,
		MerchantConfigID:     g.Param("merchant_id"),
		EncryptedCredentials: credentials,
		PayGateTranID:        payGateTranID,
	}, resp)
}

func (g *Gateway) encrypt(ctx context.Context, op provider.Op, plain string) (string, error) {
	endpoint, err := g.URLFor(provider.ActionUtils)
	if err != nil {
		return "", provider.WithOp(err, op)
	}
	var resp encryptResponse
	err = g.SOAP().Call(ctx, op, endpoint, soapNamespace+"EncryptInAES", &encryptRequest{
		NS:            soapNamespace,
		AESKey:        g.Param("key"),
		AESVector:     g.Param("iv"),
		ToBeEncrypted: plain,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Result == "" {
		return "", provider.NewTransportError(provider.AsanPardakht, op, "malformed_response", fmt.Errorf("empty EncryptInAES result"))
	}
	return resp.Result, nil
}

func (g *Gateway) decrypt(ctx context.Context, op provider.Op, cipher string) (string, error) {
	endpoint, err := g.URLFor(provider.ActionUtils)
	if err != nil {
		return "", provider.WithOp(err, op)
	}
	var resp decryptResponse
	err = g.SOAP().Call(ctx, op, endpoint, soapNamespace+"DecryptInAES", &decryptRequest{
		NS:            soapNamespace,
		AESKey:        g.Param("key"),
		AESVector:     g.Param("iv"),
		ToBeDecrypted: cipher,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Result, nil
}
