package saman

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token24 = "ABCDEFGHIJKLMNOPQRSTUVWX"

type fakeSEP struct {
	t           *testing.T
	token       string
	verified    string
	reverse     string
	verifyCalls int
}

func (f *fakeSEP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := providertest.Body(f.t, r)
	switch r.URL.Path {
	case "/saman/Payments/InitPayment.asmx":
		assert.Contains(f.t, body, "<TermID>2000</TermID>")
		assert.Contains(f.t, body, "<ResNum>1001</ResNum>")
		assert.Contains(f.t, body, "<TotalAmount>250000</TotalAmount>")
		providertest.WriteSOAP(w, `<ns1:RequestTokenResponse xmlns:ns1="urn:Foo"><result>`+f.token+`</result></ns1:RequestTokenResponse>`)
	case "/saman/payments/referencepayment.asmx":
		switch {
		case strings.Contains(body, "verifyTransaction"):
			f.verifyCalls++
			assert.Contains(f.t, body, "<String_1>REF-1</String_1>")
			providertest.WriteSOAP(w, `<ns1:verifyTransactionResponse xmlns:ns1="urn:Foo"><result>`+f.verified+`</result></ns1:verifyTransactionResponse>`)
		case strings.Contains(body, "reverseTransaction1"):
			assert.Contains(f.t, body, "<Password>")
			providertest.WriteSOAP(w, `<ns1:reverseTransaction1Response xmlns:ns1="urn:Foo"><result>`+f.reverse+`</result></ns1:reverseTransaction1Response>`)
		default:
			f.t.Errorf("unexpected soap call: %s", body)
		}
	default:
		f.t.Errorf("unexpected path %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newGateway(t *testing.T, srv *httptest.Server, txn provider.Transaction) provider.Gateway {
	t.Helper()
	r := providertest.Registry(Register)
	gw, err := r.Create(provider.Saman, txn, providertest.Sandbox(srv.URL, map[string]string{
		"terminal_id":   "2000",
		"terminal_pass": "secret",
	}))
	require.NoError(t, err)
	return gw
}

func callback() map[string]string {
	return map[string]string{
		"State":     "OK",
		"StateCode": "0",
		"RefNum":    "REF-1",
		"ResNum":    "1001",
		"TraceNo":   "778899",
		"SecurePan": "603799******1234",
		"CID":       "x",
	}
}

func TestSaman_HappyPath(t *testing.T) {
	fake := &fakeSEP{t: t, token: token24, verified: "250000"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := providertest.Transaction(t, 1001, 250000)
	gw := newGateway(t, srv, txn)

	form, err := gw.GetFormParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, form.Method)
	assert.Equal(t, srv.URL+"/saman/gate", form.Action)
	assert.Equal(t, token24, form.Field("Token"))
	assert.Equal(t, token24, txn.GatewayToken())
	assert.Equal(t, provider.StatusAwaitingCallback, txn.Status())

	ok, err := gw.CanContinueWithCallbackParameters(callback())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, txn.SetCallbackParameters(callback()))

	ok, err = gw.VerifyTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusVerified, txn.Status())
	assert.Equal(t, "REF-1", txn.ReferenceID())
	assert.Equal(t, "603799******1234", txn.CardNumber())

	ref, err := gw.GetGatewayReferenceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "REF-1", ref)

	ok, err = gw.SettleTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusSettled, txn.Status())
}

func TestSaman_ShortTokenIsRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t, token: "-18"})
	defer srv.Close()

	txn := providertest.Transaction(t, 1001, 250000)
	_, err := newGateway(t, srv, txn).GetFormParameters(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrRequestToken))
	assert.True(t, errors.Is(err, provider.ErrBusiness))
	assert.Equal(t, provider.StatusFailed, txn.Status())

	var gwErr *provider.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "-18", gwErr.Code)
}

func TestSaman_TokenRequiresCreatedTransaction(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t, token: token24})
	defer srv.Close()

	txn := providertest.Transaction(t, 1001, 250000)
	require.NoError(t, txn.SetGatewayToken("existing-token-000000000"))

	_, err := newGateway(t, srv, txn).GetFormParameters(context.Background())
	assert.True(t, errors.Is(err, provider.ErrState))
	assert.True(t, errors.Is(err, provider.ErrRequestToken))
}

func TestSaman_VerifyAmountMismatch(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t, verified: "1000"})
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, token24, callback())
	ok, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())
	assert.False(t, ok)
	assert.True(t, errors.Is(err, provider.ErrVerification))
	assert.NotEqual(t, provider.StatusVerified, txn.Status())
}

func TestSaman_VerifyNegativeResultIsBusinessError(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t, verified: "-2"})
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, token24, callback())
	_, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrBusiness))
	assert.Equal(t, provider.StatusFailed, txn.Status())
}

func TestSaman_VerifyOrderMismatchSkipsRemoteCall(t *testing.T) {
	fake := &fakeSEP{t: t, verified: "250000"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cb := callback()
	cb["ResNum"] = "9999"
	txn := providertest.CallbackReceived(t, 1001, 250000, token24, cb)
	_, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrState))
	assert.Equal(t, 0, fake.verifyCalls)
}

func TestSaman_VerifyMissingField(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t})
	defer srv.Close()

	cb := callback()
	delete(cb, "TraceNo")
	txn := providertest.CallbackReceived(t, 1001, 250000, token24, cb)
	_, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrValidation))
	assert.Contains(t, err.Error(), "traceno")
}

func TestSaman_CanContinue(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	gw := newGateway(t, srv, providertest.Transaction(t, 1, 10))

	tests := []struct {
		name     string
		callback map[string]string
		want     bool
	}{
		{"ok", map[string]string{"RefNum": "R", "State": "OK"}, true},
		{"canceled", map[string]string{"RefNum": "R", "State": "Canceled By User"}, false},
		{"missing reference", map[string]string{"State": "OK"}, false},
		{"empty", map[string]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := gw.CanContinueWithCallbackParameters(tt.callback)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSaman_Refund(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t, reverse: "1"})
	defer srv.Close()

	txn := providertest.Verified(t, 1001, 250000, token24, callback())
	ok, err := newGateway(t, srv, txn).RefundTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusRefunded, txn.Status())
}

func TestSaman_RefundBeforeVerifyIsStateError(t *testing.T) {
	srv := httptest.NewServer(&fakeSEP{t: t, reverse: "1"})
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, token24, callback())
	gw := newGateway(t, srv, txn)

	_, err := gw.RefundTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrState))
	assert.True(t, errors.Is(err, provider.ErrRefund))

	_, err = gw.SettleTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrState))
}

func TestSaman_URLFor(t *testing.T) {
	txn := providertest.Transaction(t, 1, 10)
	r := providertest.Registry(Register)

	sandbox, err := r.Create(provider.Saman, txn, map[string]string{"terminal_id": "1"})
	require.NoError(t, err)
	prod, err := r.Create(provider.Saman, txn, map[string]string{"terminal_id": "1", "environment": "production"})
	require.NoError(t, err)

	for action := range endpoints {
		u, err := sandbox.URLFor(action)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(u, provider.DefaultBankTestBaseURL), u)

		u, err = prod.URLFor(action)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(u, "https://sep.shaparak.ir"), u)
	}

	_, err = prod.URLFor("unknown")
	assert.True(t, errors.Is(err, provider.ErrConfiguration))
}

func TestNew_MissingTerminal(t *testing.T) {
	r := providertest.Registry(Register)
	_, err := r.Create(provider.Saman, providertest.Transaction(t, 1, 10), map[string]string{})
	assert.True(t, errors.Is(err, provider.ErrConfiguration))
}
