package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/shaparak/infra/conn"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/infra/store"
	"github.com/mstgnz/shaparak/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway walks the transaction through the lifecycle without a bank
type fakeGateway struct {
	txn       provider.Transaction
	caps      provider.Capabilities
	tokenErr  error
	verifyErr error
}

func (g *fakeGateway) Name() string                           { return "fake" }
func (g *fakeGateway) Capabilities() provider.Capabilities    { return g.caps }
func (g *fakeGateway) URLFor(provider.Action) (string, error) { return "https://bank.example.ir/pay", nil }
func (g *fakeGateway) CheckRequiredActionParameters(...string) error {
	return nil
}

func (g *fakeGateway) GetFormParameters(context.Context) (*provider.FormParameters, error) {
	if g.tokenErr != nil {
		_ = g.txn.SetFailed(g.tokenErr.Error())
		return nil, g.tokenErr
	}
	if err := g.txn.SetGatewayToken("TOKEN-1"); err != nil {
		return nil, err
	}
	if err := g.txn.SetAwaitingCallback(); err != nil {
		return nil, err
	}
	return &provider.FormParameters{
		Method: http.MethodPost,
		Action: "https://bank.example.ir/pay",
		Fields: map[string]*string{"Token": provider.StringPtr("TOKEN-1")},
	}, nil
}

func (g *fakeGateway) CanContinueWithCallbackParameters(callback map[string]string) (bool, error) {
	if callback["Token"] == "" {
		return false, provider.NewValidationError("fake", provider.OpVerify, "missing 'token'")
	}
	return callback["State"] == "OK", nil
}

func (g *fakeGateway) VerifyTransaction(context.Context) (bool, error) {
	if g.verifyErr != nil {
		_ = g.txn.SetFailed(g.verifyErr.Error())
		return false, g.verifyErr
	}
	if err := g.txn.SetReferenceID("REF-" + g.txn.CallbackParameters()["Token"]); err != nil {
		return false, err
	}
	return true, g.txn.SetVerified()
}

func (g *fakeGateway) SettleTransaction(context.Context) (bool, error) {
	if !g.txn.IsReadyForSettle() {
		return false, provider.NewStateError("fake", provider.OpSettle, "not verified")
	}
	return true, g.txn.SetSettled()
}

func (g *fakeGateway) RefundTransaction(context.Context) (bool, error) {
	if !g.txn.IsReadyForRefund() {
		return false, provider.NewStateError("fake", provider.OpRefund, "not refundable")
	}
	return true, g.txn.SetRefunded()
}

func (g *fakeGateway) GetGatewayReferenceID(context.Context) (string, error) {
	return g.txn.ReferenceID(), nil
}

type inquiringGateway struct{ *fakeGateway }

func (g inquiringGateway) InquiryTransaction(context.Context) (bool, error) {
	return g.txn.Status() == provider.StatusVerified, nil
}

type fakeFactory struct {
	caps      provider.Capabilities
	tokenErr  error
	verifyErr error
	inquiry   bool
}

func (f *fakeFactory) Names() []string { return []string{"fake"} }

func (f *fakeFactory) Create(name string, txn provider.Transaction, params map[string]string) (provider.Gateway, error) {
	if params["terminal_id"] == "" {
		return nil, provider.NewConfigurationError(name, provider.OpConfigure, "missing 'terminal_id'")
	}
	gw := &fakeGateway{txn: txn, caps: f.caps, tokenErr: f.tokenErr, verifyErr: f.verifyErr}
	if f.inquiry {
		return inquiringGateway{gw}, nil
	}
	return gw, nil
}

type staticCredentials map[string]map[string]string

func (c staticCredentials) Get(gateway string) (map[string]string, error) {
	if v, ok := c[gateway]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no configuration found for gateway: %s", gateway)
}

type paymentFixture struct {
	factory *fakeFactory
	store   *store.Transactions
	router  chi.Router
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db, err := conn.OpenSQLite(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	txns, err := store.NewTransactions(db)
	require.NoError(t, err)

	f := &paymentFixture{factory: &fakeFactory{}, store: txns}
	h := NewPaymentHandler(f.factory, staticCredentials{"fake": {"terminal_id": "1"}}, txns, validator.New(), zap.NewNop(), "https://pay.example.ir/")

	r := chi.NewRouter()
	r.Post("/v1/payments/{gateway}", h.CreatePayment)
	r.Get("/v1/payments/{id}", h.GetPayment)
	r.Post("/v1/payments/{id}/settle", h.SettlePayment)
	r.Post("/v1/payments/{id}/refund", h.RefundPayment)
	r.Post("/v1/payments/{id}/inquiry", h.InquiryPayment)
	r.Get("/callback/{gateway}/{id}", h.Callback)
	r.Post("/callback/{gateway}/{id}", h.Callback)
	f.router = r
	return f
}

func (f *paymentFixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	var body response.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	data, _ := body.Data.(map[string]any)
	return rr, data
}

func (f *paymentFixture) create(t *testing.T, orderID int64) (string, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/fake", strings.NewReader(fmt.Sprintf(`{"order_id":%d,"amount":250000}`, orderID)))
	req.Header.Set("Content-Type", "application/json")
	rr, data := f.do(t, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	payment := data["payment"].(map[string]any)
	return payment["id"].(string), data
}

func (f *paymentFixture) callback(t *testing.T, id string, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/callback/fake/"+id, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, req)
}

func statusOf(data map[string]any) string {
	txn, _ := data["transaction"].(map[string]any)
	s, _ := txn["status"].(string)
	return s
}

func TestCreatePayment(t *testing.T) {
	f := newPaymentFixture(t)
	id, data := f.create(t, 1001)

	form := data["form"].(map[string]any)
	assert.Equal(t, "https://bank.example.ir/pay", form["action"])

	payment := data["payment"].(map[string]any)
	assert.Equal(t, string(provider.StatusAwaitingCallback), statusOf(payment))

	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.ir/callback/fake/"+id, rec.Snapshot.CallbackURL)
	assert.Equal(t, "TOKEN-1", rec.Snapshot.GatewayToken)
}

func TestCreatePayment_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown gateway", "/v1/payments/nope", `{"order_id":1,"amount":1000}`, http.StatusNotFound},
		{"bad json", "/v1/payments/fake", `{`, http.StatusBadRequest},
		{"missing amount", "/v1/payments/fake", `{"order_id":1}`, http.StatusBadRequest},
		{"negative order", "/v1/payments/fake", `{"order_id":-1,"amount":1000}`, http.StatusBadRequest},
		{"bad callback url", "/v1/payments/fake", `{"order_id":1,"amount":1000,"callback_url":"nope"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t)
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			f.router.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestCreatePayment_DuplicateOrder(t *testing.T) {
	f := newPaymentFixture(t)
	f.create(t, 7)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/fake", strings.NewReader(`{"order_id":7,"amount":250000}`))
	rr, _ := f.do(t, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreatePayment_BankRejectsToken(t *testing.T) {
	f := newPaymentFixture(t)
	f.factory.tokenErr = provider.NewBusinessError("fake", provider.OpRequestToken, "-1", "terminal disabled")

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/fake", strings.NewReader(`{"order_id":8,"amount":250000}`))
	rr, data := f.do(t, req)
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, string(provider.StatusFailed), statusOf(data))
}

func TestCallback_VerifyAndSettle(t *testing.T) {
	f := newPaymentFixture(t)
	f.factory.caps = provider.Capabilities{Settlement: true, Refund: true}
	id, _ := f.create(t, 1001)

	rr, data := f.callback(t, id, url.Values{"Token": {"TOKEN-1"}, "State": {"OK"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, string(provider.StatusSettled), statusOf(data))

	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "REF-TOKEN-1", rec.Snapshot.ReferenceID)
	assert.Equal(t, "OK", rec.Snapshot.CallbackParameters["State"])
}

func TestCallback_VerifyWithoutSettle(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1002)

	req := httptest.NewRequest(http.MethodGet, "/callback/fake/"+id+"?Token=TOKEN-1&State=OK", nil)
	rr, data := f.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(provider.StatusVerified), statusOf(data))
}

func TestCallback_JSONBody(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1003)

	req := httptest.NewRequest(http.MethodPost, "/callback/fake/"+id, strings.NewReader(`{"Token":"TOKEN-1","State":"OK","Amount":250000}`))
	req.Header.Set("Content-Type", "application/json")
	rr, _ := f.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "250000", rec.Snapshot.CallbackParameters["Amount"])
}

func TestCallback_Canceled(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1004)

	rr, data := f.callback(t, id, url.Values{"Token": {"TOKEN-1"}, "State": {"CanceledByUser"}})
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, string(provider.StatusFailed), statusOf(data))
}

func TestCallback_VerifyFails(t *testing.T) {
	f := newPaymentFixture(t)
	f.factory.verifyErr = provider.NewTransportError("fake", provider.OpVerify, "timeout", context.DeadlineExceeded)
	id, _ := f.create(t, 1005)

	rr, _ := f.callback(t, id, url.Values{"Token": {"TOKEN-1"}, "State": {"OK"}})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), `"kind":"transport"`)
}

func TestCallback_MissingField(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1006)

	rr, _ := f.callback(t, id, url.Values{"State": {"OK"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCallback_WrongGateway(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1007)

	req := httptest.NewRequest(http.MethodGet, "/callback/saman/"+id+"?Token=TOKEN-1", nil)
	rr, _ := f.do(t, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCallback_Replay(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1008)
	cb := url.Values{"Token": {"TOKEN-1"}, "State": {"OK"}}

	rr, _ := f.callback(t, id, cb)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = f.callback(t, id, url.Values{"Token": {"OTHER"}, "State": {"OK"}})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRefundPayment(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1009)

	rr, _ := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/payments/"+id+"/refund", nil))
	assert.Equal(t, http.StatusConflict, rr.Code, "refund before verify")

	rr, _ = f.callback(t, id, url.Values{"Token": {"TOKEN-1"}, "State": {"OK"}})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, data := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/payments/"+id+"/refund", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(provider.StatusRefunded), statusOf(data))
}

func TestSettlePayment(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1010)
	rr, _ := f.callback(t, id, url.Values{"Token": {"TOKEN-1"}, "State": {"OK"}})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, data := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/payments/"+id+"/settle", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(provider.StatusSettled), statusOf(data))
}

func TestInquiryPayment(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1011)

	rr, _ := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/payments/"+id+"/inquiry", nil))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	f.factory.inquiry = true
	rr, _ = f.callback(t, id, url.Values{"Token": {"TOKEN-1"}, "State": {"OK"}})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/v1/payments/"+id+"/inquiry", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetPayment(t *testing.T) {
	f := newPaymentFixture(t)
	id, _ := f.create(t, 1012)

	rr, data := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/payments/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, id, data["id"])
	assert.Equal(t, "fake", data["gateway"])

	rr, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/v1/payments/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
		kind string
	}{
		{fmt.Errorf("%w: x", store.ErrNotFound), http.StatusNotFound, response.KindNotFound},
		{store.ErrConflict, http.StatusConflict, response.KindConflict},
		{store.ErrDuplicateOrder, http.StatusConflict, response.KindConflict},
		{provider.NewValidationError("g", provider.OpVerify, "x"), http.StatusBadRequest, "validation"},
		{provider.NewStateError("g", provider.OpVerify, "x"), http.StatusConflict, "state"},
		{provider.NewBusinessError("g", provider.OpVerify, "1", "x"), http.StatusPaymentRequired, "business"},
		{provider.NewTransportError("g", provider.OpVerify, "x", nil), http.StatusBadGateway, "transport"},
		{provider.NewConfigurationError("g", provider.OpVerify, "x"), http.StatusInternalServerError, "configuration"},
		{errors.New("boom"), http.StatusInternalServerError, response.KindInternal},
	}
	for _, tt := range tests {
		status := StatusFor(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
		assert.Equal(t, tt.kind, response.KindOf(status, tt.err), tt.err.Error())
	}
}
