package middle

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mstgnz/shaparak/infra/response"
)

// AuthMiddleware guards the merchant API with a static key sent as
// "Authorization: Bearer <key>". Bank callbacks are mounted outside of it.
func AuthMiddleware(expectedAPIKey string) func(http.Handler) http.Handler {
	expected := []byte(expectedAPIKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				response.Error(w, http.StatusInternalServerError, "API key not configured", nil)
				return
			}

			key, msg := bearerKey(r)
			if msg != "" {
				response.Error(w, http.StatusUnauthorized, msg, nil)
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				response.Error(w, http.StatusUnauthorized, "Invalid API key", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerKey extracts the key, or a message describing why the header is unusable
func bearerKey(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Authorization header required"
	}
	scheme, key, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "Invalid authorization format. Use: Bearer <api_key>"
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", "API key is empty"
	}
	return key, ""
}
