package pasargad

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/provider/providertest"
	"github.com/mstgnz/shaparak/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyPath = "../../signer/testdata/merchant.pem"

	// signature of the sale canonical string built in TestPasargad_FormIsSigned
	goldenSaleSign = "BLrw8Iu+AFimDY+h1HGcxxXo8dQhaUpSc8Hg0VI5MUKBjIeTdzACg8IdEsm+pA63wuAEMogvGy+Wdn2QkOjvlOZvpvvg0cQb6WKvhwfMXPsbqO5OzeZJW91dSrWl+hepLBXjS0ZP87brUyo4U5lsIjc9TjtybO3Rf2Imv/VYtig="
)

var fixedNow = time.Date(2024, 1, 2, 10, 20, 31, 0, time.UTC)

type fakePEP struct {
	t      *testing.T
	key    *rsa.PublicKey
	result string
	check  string
	calls  map[string]int
}

func newFakePEP(t *testing.T, result string) *fakePEP {
	key, err := signer.LoadPrivateKeyFile(keyPath, "")
	require.NoError(t, err)
	return &fakePEP{t: t, key: &key.PublicKey, result: result, calls: map[string]int{}}
}

func (f *fakePEP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.NoError(f.t, r.ParseForm())
	f.calls[r.URL.Path]++

	fields := []string{
		r.PostForm.Get("merchantCode"),
		r.PostForm.Get("terminalCode"),
		r.PostForm.Get("invoiceNumber"),
		r.PostForm.Get("invoiceDate"),
		r.PostForm.Get("amount"),
	}
	if a := r.PostForm.Get("action"); a != "" {
		fields = append(fields, a)
	}
	fields = append(fields, r.PostForm.Get("timeStamp"))
	f.verifySign(signer.CanonicalString(fields...), r.PostForm.Get("sign"))

	w.Header().Set("Content-Type", "text/xml")
	switch r.URL.Path {
	case "/pasargad/VerifyPayment", "/pasargad/doRefund":
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><actionResult><result>`+f.result+`</result><resultMessage>done</resultMessage></actionResult>`)
	case "/pasargad/CheckTransactionResult":
		assert.Equal(f.t, "TREF-1", r.PostForm.Get("invoiceUID"))
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><resultObj><result>`+f.result+`</result><action>1003</action>`+
			`<invoiceNumber>`+f.check+`</invoiceNumber><invoiceDate>2024/01/02 10:20:30</invoiceDate><amount>250000</amount>`+
			`<transactionReferenceID>TREF-1</transactionReferenceID></resultObj>`)
	default:
		f.t.Errorf("unexpected path %s", r.URL.Path)
	}
}

func (f *fakePEP) verifySign(canonical, sign string) {
	raw, err := base64.StdEncoding.DecodeString(sign)
	assert.NoError(f.t, err)
	digest := sha1.Sum([]byte(canonical))
	assert.NoError(f.t, rsa.VerifyPKCS1v15(f.key, crypto.SHA1, digest[:], raw), "signature over %s", canonical)
}

func createdTransaction(t *testing.T) *provider.BasicTransaction {
	t.Helper()
	return provider.RestoreTransaction(provider.TransactionSnapshot{
		GatewayOrderID: 1001,
		PayableAmount:  250000,
		CallbackURL:    "https://shop.example.ir/callback",
		CreatedAt:      time.Date(2024, 1, 2, 10, 20, 30, 0, time.UTC),
		Status:         provider.StatusCreated,
	})
}

func callback() map[string]string {
	return map[string]string{
		"iN":   "1001",
		"iD":   "2024/01/02 10:20:30",
		"tref": "TREF-1",
	}
}

func newGateway(t *testing.T, baseURL string, txn provider.Transaction) *Gateway {
	t.Helper()
	gw, err := providertest.Registry(Register).Create(provider.Pasargad, txn, providertest.Sandbox(baseURL, map[string]string{
		"terminal_id":      "654321",
		"merchant_id":      "123456",
		"certificate_path": keyPath,
	}))
	require.NoError(t, err)
	g := gw.(*Gateway)
	g.now = func() time.Time { return fixedNow }
	return g
}

func awaitingCallback(t *testing.T, cb map[string]string) *provider.BasicTransaction {
	t.Helper()
	txn := createdTransaction(t)
	require.NoError(t, txn.SetAwaitingCallback())
	require.NoError(t, txn.SetCallbackParameters(cb))
	return txn
}

func TestPasargad_FormIsSigned(t *testing.T) {
	txn := createdTransaction(t)
	form, err := newGateway(t, provider.DefaultBankTestBaseURL, txn).GetFormParameters(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, form.Method)
	assert.Equal(t, provider.DefaultBankTestBaseURL+"/pasargad/gateway", form.Action)
	assert.Equal(t, "1001", form.Field("invoiceNumber"))
	assert.Equal(t, "2024/01/02 10:20:30", form.Field("invoiceDate"))
	assert.Equal(t, "2024/01/02 10:20:31", form.Field("timeStamp"))
	assert.Equal(t, "1003", form.Field("action"))
	assert.Equal(t, "https://shop.example.ir/callback", form.Field("redirectAddress"))
	assert.Equal(t, goldenSaleSign, form.Field("sign"))
	assert.Equal(t, provider.StatusAwaitingCallback, txn.Status())
	assert.Empty(t, txn.GatewayToken())
}

func TestPasargad_Verify(t *testing.T) {
	fake := newFakePEP(t, "True")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := awaitingCallback(t, callback())
	gw := newGateway(t, srv.URL, txn)

	ok, err := gw.VerifyTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusVerified, txn.Status())
	assert.Equal(t, "TREF-1", txn.GatewayToken())

	ref, err := gw.GetGatewayReferenceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TREF-1", ref)
}

func TestPasargad_VerifyRejected(t *testing.T) {
	srv := httptest.NewServer(newFakePEP(t, "False"))
	defer srv.Close()

	txn := awaitingCallback(t, callback())
	_, err := newGateway(t, srv.URL, txn).VerifyTransaction(context.Background())

	var gwErr *provider.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, provider.KindBusiness, gwErr.Kind)
	assert.Equal(t, "done", gwErr.Message)
	assert.Equal(t, provider.StatusFailed, txn.Status())
}

func TestPasargad_VerifyInvoiceMismatch(t *testing.T) {
	fake := newFakePEP(t, "True")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cb := callback()
	cb["iN"] = "2002"
	txn := awaitingCallback(t, cb)
	_, err := newGateway(t, srv.URL, txn).VerifyTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrState))
	assert.Empty(t, fake.calls)
}

func TestPasargad_Inquiry(t *testing.T) {
	fake := newFakePEP(t, "True")
	fake.check = "1001"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := awaitingCallback(t, callback())
	ok, err := newGateway(t, srv.URL, txn).InquiryTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusCallbackReceived, txn.Status())
}

func TestPasargad_InquiryMismatchDoesNotFail(t *testing.T) {
	fake := newFakePEP(t, "True")
	fake.check = "9"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := awaitingCallback(t, callback())
	_, err := newGateway(t, srv.URL, txn).InquiryTransaction(context.Background())
	assert.True(t, errors.Is(err, provider.ErrState))
	assert.Equal(t, provider.StatusCallbackReceived, txn.Status())
}

func TestPasargad_Refund(t *testing.T) {
	fake := newFakePEP(t, "True")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	txn := awaitingCallback(t, callback())
	require.NoError(t, txn.SetVerified())

	ok, err := newGateway(t, srv.URL, txn).RefundTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, provider.StatusRefunded, txn.Status())
	assert.Equal(t, 1, fake.calls["/pasargad/doRefund"])
}

func TestPasargad_CanContinue(t *testing.T) {
	gw := newGateway(t, provider.DefaultBankTestBaseURL, createdTransaction(t))

	ok, err := gw.CanContinueWithCallbackParameters(callback())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = gw.CanContinueWithCallbackParameters(map[string]string{"iN": "1001", "iD": "x"})
	assert.False(t, ok)
}

func TestNew_BadKey(t *testing.T) {
	_, err := providertest.Registry(Register).Create(provider.Pasargad, createdTransaction(t), map[string]string{
		"terminal_id":      "1",
		"merchant_id":      "2",
		"certificate_path": "testdata/missing.pem",
	})
	assert.True(t, errors.Is(err, provider.ErrConfiguration))
}
