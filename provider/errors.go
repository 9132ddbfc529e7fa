package provider

import (
	"errors"
	"fmt"
)

// Kind classifies why a gateway operation failed
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindTransport     Kind = "transport"
	KindBusiness      Kind = "business"
	KindConfiguration Kind = "configuration"
)

// Op names the lifecycle operation that failed
type Op string

const (
	OpRequestToken Op = "request_token"
	OpVerify       Op = "verify"
	OpSettle       Op = "settle"
	OpRefund       Op = "refund"
	OpInquiry      Op = "inquiry"
	OpReference    Op = "reference"
	OpResolve      Op = "resolve"
	OpConfigure    Op = "configure"
)

// Kind sentinels, matched with errors.Is
var (
	ErrValidation    = &sentinel{kind: KindValidation}
	ErrState         = &sentinel{kind: KindState}
	ErrTransport     = &sentinel{kind: KindTransport}
	ErrBusiness      = &sentinel{kind: KindBusiness}
	ErrConfiguration = &sentinel{kind: KindConfiguration}
)

// Operation sentinels, matched with errors.Is
var (
	ErrRequestToken = &sentinel{op: OpRequestToken}
	ErrVerification = &sentinel{op: OpVerify}
	ErrSettlement   = &sentinel{op: OpSettle}
	ErrRefund       = &sentinel{op: OpRefund}
)

type sentinel struct {
	kind Kind
	op   Op
}

func (s *sentinel) Error() string {
	if s.kind != "" {
		return string(s.kind) + " error"
	}
	return string(s.op) + " error"
}

// Error is the single error type returned by gateway operations.
// Code and Message carry the bank's values verbatim for business errors.
type Error struct {
	Gateway string
	Op      Op
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Gateway, e.Op, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s: [%s] %s", e.Gateway, e.Op, e.Code, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind and operation sentinels
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	if !ok {
		return false
	}
	if s.kind != "" {
		return s.kind == e.Kind
	}
	return s.op == e.Op
}

// KindOf returns the kind of err, or "" when err is not a gateway error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewValidationError reports a missing or malformed parameter
func NewValidationError(gateway string, op Op, format string, args ...any) *Error {
	return &Error{Gateway: gateway, Op: op, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewStateError reports an operation invoked in the wrong transaction state
func NewStateError(gateway string, op Op, format string, args ...any) *Error {
	return &Error{Gateway: gateway, Op: op, Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

// NewConfigurationError reports an unknown action or missing credential material
func NewConfigurationError(gateway string, op Op, format string, args ...any) *Error {
	return &Error{Gateway: gateway, Op: op, Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewTransportError wraps a network or decoding fault
func NewTransportError(gateway string, op Op, code string, err error) *Error {
	return &Error{Gateway: gateway, Op: op, Kind: KindTransport, Code: code, Message: "transport failure", Err: err}
}

// NewBusinessError carries a non-success bank code and message verbatim
func NewBusinessError(gateway string, op Op, code, message string) *Error {
	return &Error{Gateway: gateway, Op: op, Kind: KindBusiness, Code: code, Message: message}
}

// WithOp re-labels a gateway error raised by a shared helper with the caller's operation
func WithOp(err error, op Op) error {
	var e *Error
	if errors.As(err, &e) && e.Op != op {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}
