// Package providertest has helpers for testing gateways against fake bank servers.
package providertest

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/mstgnz/shaparak/provider"
	"github.com/stretchr/testify/require"
)

// Transaction creates a transaction in the Created state
func Transaction(t testing.TB, orderID, amount int64) *provider.BasicTransaction {
	t.Helper()
	txn, err := provider.NewTransaction(orderID, amount, "https://shop.example.ir/callback")
	require.NoError(t, err)
	return txn
}

// CallbackReceived creates a transaction that already holds a token and the given callback
func CallbackReceived(t testing.TB, orderID, amount int64, token string, callback map[string]string) *provider.BasicTransaction {
	t.Helper()
	txn := Transaction(t, orderID, amount)
	if token != "" {
		require.NoError(t, txn.SetGatewayToken(token))
	}
	require.NoError(t, txn.SetAwaitingCallback())
	require.NoError(t, txn.SetCallbackParameters(callback))
	return txn
}

// Verified creates a transaction that the bank already verified
func Verified(t testing.TB, orderID, amount int64, token string, callback map[string]string) *provider.BasicTransaction {
	t.Helper()
	txn := CallbackReceived(t, orderID, amount, token, callback)
	require.NoError(t, txn.SetVerified())
	return txn
}

// Registry creates a registry with fast retries and the given gateways registered
func Registry(register ...func(*provider.Registry)) *provider.Registry {
	cfg := provider.DefaultHTTPClientConfig()
	cfg.Timeout = 2 * time.Second
	cfg.RetryWait = 5 * time.Millisecond
	r := provider.NewRegistry(provider.WithHTTPClientConfig(cfg))
	for _, fn := range register {
		fn(r)
	}
	return r
}

// Sandbox returns params pointing the sandbox simulator at baseURL
func Sandbox(baseURL string, params map[string]string) map[string]string {
	out := map[string]string{
		provider.ParamEnvironment:     "sandbox",
		provider.ParamBankTestBaseURL: baseURL,
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Body reads the request body
func Body(t testing.TB, r *http.Request) string {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return string(raw)
}

// WriteSOAP wraps inner in a SOAP 1.1 envelope and writes it
func WriteSOAP(w http.ResponseWriter, inner string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>`+
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`+
		inner+
		`</soap:Body></soap:Envelope>`)
}

// WriteJSON writes v as a JSON response with status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the JSON request body into a map
func DecodeJSON(t testing.TB, r *http.Request) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
	return out
}
