package asanpardakhtrest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIPG struct {
	t            *testing.T
	resultStatus int
	result       map[string]any
	verifyStatus int
	settleStatus int
	failFirst    atomic.Int32
	resultCalls  atomic.Int32
	verifyCalls  atomic.Int32
	settleCalls  atomic.Int32
}

func newFakeIPG(t *testing.T) *fakeIPG {
	return &fakeIPG{
		t:            t,
		resultStatus: http.StatusOK,
		result: map[string]any{
			"cardNumber":    "603799******7890",
			"rrn":           "123456789012",
			"refID":         "TOKEN-REST",
			"amount":        "250000",
			"payGateTranID": "88776655",
			"salesOrderID":  "1001",
		},
		verifyStatus: http.StatusOK,
		settleStatus: http.StatusOK,
	}
}

func (f *fakeIPG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "shop", r.Header.Get("usr"))
	assert.Equal(f.t, "secret", r.Header.Get("pwd"))

	switch r.URL.Path {
	case "/ap/ipgrest.asanpardakht.ir/v1/Token":
		body := providertest.DecodeJSON(f.t, r)
		assert.EqualValues(f.t, 1, body["serviceTypeId"])
		assert.EqualValues(f.t, 1234, body["merchantConfigurationId"])
		assert.EqualValues(f.t, 1001, body["localInvoiceId"])
		assert.EqualValues(f.t, 250000, body["amountInRials"])
		assert.Equal(f.t, "20240102 102030", body["localDate"])
		assert.Equal(f.t, "https://shop.example.ir/callback/?localInvoiceId=1001", body["callbackURL"])
		_, _ = io.WriteString(w, `"TOKEN-REST"`)
	case "/ap/ipgrest.asanpardakht.ir/v1/TranResult":
		f.resultCalls.Add(1)
		assert.Equal(f.t, http.MethodGet, r.Method)
		assert.Equal(f.t, "1001", r.URL.Query().Get("localInvoiceId"))
		if f.failFirst.Load() > 0 {
			f.failFirst.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		providertest.WriteJSON(w, f.resultStatus, f.result)
	case "/ap/ipgrest.asanpardakht.ir/v1/Verify":
		f.verifyCalls.Add(1)
		body := providertest.DecodeJSON(f.t, r)
		assert.EqualValues(f.t, 88776655, body["payGateTranId"])
		w.WriteHeader(f.verifyStatus)
	case "/ap/ipgrest.asanpardakht.ir/v1/Settlement":
		f.settleCalls.Add(1)
		w.WriteHeader(f.settleStatus)
	default:
		f.t.Errorf("unexpected path %s", r.URL.Path)
	}
}

func newGateway(t *testing.T, srv *httptest.Server, txn provider.Transaction) *Gateway {
	t.Helper()
	gw, err := providertest.Registry(Register).Create(provider.AsanPardakhtREST, txn, providertest.Sandbox(srv.URL, map[string]string{
		"terminal_id": "1234",
		"username":    "shop",
		"password":    "secret",
	}))
	require.NoError(t, err)
	g := gw.(*Gateway)
	g.now = func() time.Time { return time.Date(2024, 1, 2, 10, 20, 30, 0, time.UTC) }
	return g
}

func callback() map[string]string {
	return map[string]string{"ReturningParams": "opaque", "localInvoiceId": "1001"}
}

func TestRest_Form(t *testing.T) {
	srv := httptest.NewServer(newFakeIPG(t))
	defer srv.Close()

	txn := providertest.Transaction(t, 1001, 250000)
	form, err := newGateway(t, srv, txn).GetFormParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/ap/asan.shaparak.ir", form.Action)
	assert.Equal(t, "TOKEN-REST", form.Field("RefId"))
	assert.Nil(t, form.Fields["mobileap"])
	assert.Equal(t, "TOKEN-REST", txn.GatewayToken())
}

func TestRest_VerifyAndSettle(t *testing.T) {
	fake := newFakeIPG(t)
	fake.failFirst.Store(1)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, "TOKEN-REST", callback())
	gw := newGateway(t, srv, txn)

	ok, err := gw.VerifyTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, fake.resultCalls.Load(), "TranResult is retried after a 5xx")
	assert.Equal(t, "88776655", txn.ReferenceID())
	assert.Equal(t, "603799******7890", txn.CardNumber())

	ok, err = gw.SettleTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusSettled, txn.Status())
	assert.EqualValues(t, 1, fake.settleCalls.Load())
}

func TestRest_VerifyMismatch(t *testing.T) {
	tests := []struct {
		field string
		value any
	}{
		{"amount", "1000"},
		{"salesOrderID", 1002},
		{"refID", "FORGED"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			fake := newFakeIPG(t)
			fake.result[tt.field] = tt.value
			srv := httptest.NewServer(fake)
			defer srv.Close()

			txn := providertest.CallbackReceived(t, 1001, 250000, "TOKEN-REST", callback())
			_, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())
			assert.True(t, errors.Is(err, provider.ErrState))
			assert.Equal(t, provider.StatusFailed, txn.Status())
			assert.Zero(t, fake.verifyCalls.Load())
		})
	}
}

func TestRest_VerifyRejected(t *testing.T) {
	fake := newFakeIPG(t)
	fake.verifyStatus = 472
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, "TOKEN-REST", callback())
	_, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())

	var gwErr *provider.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, provider.KindBusiness, gwErr.Kind)
	assert.Equal(t, "472", gwErr.Code)
}

func TestRest_TranResultNotFound(t *testing.T) {
	fake := newFakeIPG(t)
	fake.resultStatus = http.StatusNotFound
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, "TOKEN-REST", callback())
	_, err := newGateway(t, srv, txn).VerifyTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrBusiness))
	assert.EqualValues(t, 1, fake.resultCalls.Load())
}

func TestRest_ReferenceFromTranResult(t *testing.T) {
	srv := httptest.NewServer(newFakeIPG(t))
	defer srv.Close()

	txn := providertest.CallbackReceived(t, 1001, 250000, "TOKEN-REST", callback())
	ref, err := newGateway(t, srv, txn).GetGatewayReferenceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "88776655", ref)
	assert.Equal(t, provider.StatusCallbackReceived, txn.Status())
}

func TestRest_RefundUnsupported(t *testing.T) {
	srv := httptest.NewServer(newFakeIPG(t))
	defer srv.Close()

	txn := providertest.Verified(t, 1001, 250000, "TOKEN-REST", callback())
	_, err := newGateway(t, srv, txn).RefundTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrConfiguration))
}

func TestRest_CanContinue(t *testing.T) {
	srv := httptest.NewServer(newFakeIPG(t))
	defer srv.Close()
	gw := newGateway(t, srv, providertest.Transaction(t, 1, 10))

	ok, _ := gw.CanContinueWithCallbackParameters(callback())
	assert.True(t, ok)
	ok, _ = gw.CanContinueWithCallbackParameters(map[string]string{"ReturningParams": "x"})
	assert.False(t, ok)
}
