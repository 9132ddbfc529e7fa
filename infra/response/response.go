package response

import (
	"encoding/json"
	"net/http"

	"github.com/mstgnz/shaparak/provider"
)

// Response is a standardized API response structure
type Response struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Error kinds for failures that do not come from a gateway
const (
	KindUnauthorized = "unauthorized"
	KindNotFound     = "not_found"
	KindConflict     = "conflict"
	KindRateLimited  = "rate_limited"
	KindUnsupported  = "unsupported"
	KindInternal     = "internal"
)

// KindOf names the failure class of err. Gateway errors keep their own kind,
// anything else is classified by statusCode.
func KindOf(statusCode int, err error) string {
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	switch statusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return string(provider.KindValidation)
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusPaymentRequired:
		return string(provider.KindBusiness)
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusNotImplemented:
		return KindUnsupported
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return string(provider.KindTransport)
	}
	if statusCode >= http.StatusInternalServerError {
		return KindInternal
	}
	return ""
}

// Success writes a successful response with data
func Success(w http.ResponseWriter, statusCode int, message string, data any) {
	WriteJSON(w, statusCode, Response{
		Code:    statusCode,
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error writes an error response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	ErrorWithData(w, statusCode, message, err, nil)
}

// ErrorWithData writes an error response that still carries data, such as the
// transaction a failed verify left behind
func ErrorWithData(w http.ResponseWriter, statusCode int, message string, err error, data any) {
	resp := Response{
		Code:    statusCode,
		Success: false,
		Message: message,
		Kind:    KindOf(statusCode, err),
		Data:    data,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	WriteJSON(w, statusCode, resp)
}

// WriteJSON writes v as the JSON body
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
