package provider

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// Result is the normalized outcome of one bank call.
// Adapters branch on Success only; Code and Message keep the bank's values.
type Result struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromCode normalizes a numeric or textual result code against the bank's success set
func FromCode(code, message string, success ...string) Result {
	c := strings.TrimSpace(code)
	return Result{Success: slices.Contains(success, c), Code: c, Message: message}
}

// FromIntCode normalizes an integer status
func FromIntCode(code int, message string, success ...int) Result {
	return Result{Success: slices.Contains(success, code), Code: strconv.Itoa(code), Message: message}
}

// FromStatus normalizes a string enum, compared case-insensitively
func FromStatus(status, message string, success ...string) Result {
	s := strings.TrimSpace(status)
	ok := slices.ContainsFunc(success, func(want string) bool {
		return strings.EqualFold(want, s)
	})
	return Result{Success: ok, Code: s, Message: message}
}

// FromHTTPStatus treats 200 as the only success
func FromHTTPStatus(status int, body string) Result {
	return Result{
		Success: status == http.StatusOK,
		Code:    strconv.Itoa(status),
		Message: body,
	}
}

// FromBool normalizes a boolean flag
func FromBool(ok bool, code, message string) Result {
	return Result{Success: ok, Code: code, Message: message}
}

// Err returns nil for a successful result, otherwise a business error
func (r Result) Err(gateway string, op Op) error {
	if r.Success {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = "gateway returned a non-success code"
	}
	return NewBusinessError(gateway, op, r.Code, msg)
}
