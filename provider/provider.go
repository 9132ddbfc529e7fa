package provider

import (
	"context"
	"strings"
)

// Registry names of the supported gateways
const (
	Saman            = "saman"
	Mellat           = "mellat"
	Parsian          = "parsian"
	Pasargad         = "pasargad"
	AsanPardakht     = "asanpardakht"
	AsanPardakhtREST = "asanpardakht-rest"
	Melli            = "melli"
	Saderat          = "saderat"
	Zarinpal         = "zarinpal"
	Ozone            = "ozone"
)

// Action is a logical endpoint of a gateway resolved by URLFor
type Action string

const (
	ActionGateway Action = "gateway"
	ActionToken   Action = "token"
	ActionVerify  Action = "verify"
	ActionSettle  Action = "settle"
	ActionRefund  Action = "refund"
	ActionInquiry Action = "inquiry"
	ActionCheck   Action = "check"
	ActionResult  Action = "result"
	ActionUtils   Action = "utils"
	ActionAuth    Action = "auth"
)

// Environment selects between the real bank hosts and the sandbox simulator
type Environment string

const (
	Production Environment = "production"
	Sandbox    Environment = "sandbox"
)

// ParseEnvironment maps a configured mode to an Environment.
// Anything other than "production" resolves to the sandbox.
func ParseEnvironment(mode string) Environment {
	if strings.EqualFold(strings.TrimSpace(mode), string(Production)) {
		return Production
	}
	return Sandbox
}

// IsProduction reports whether e targets the real bank hosts
func (e Environment) IsProduction() bool {
	return e == Production
}

// FormParameters are the redirect instructions the caller renders as an auto-submitting form
type FormParameters struct {
	Method string             `json:"method"`
	Action string             `json:"action"`
	Fields map[string]*string `json:"fields"`
}

// Field returns the value of a form field, or "" when the field is absent or null
func (f *FormParameters) Field(name string) string {
	if f == nil || f.Fields[name] == nil {
		return ""
	}
	return *f.Fields[name]
}

// Capabilities declares the optional lifecycle steps a gateway supports
type Capabilities struct {
	Refund     bool `json:"refund"`
	Settlement bool `json:"settlement"`
}

// Gateway is the lifecycle contract every bank adapter satisfies.
// One instance serves exactly one Transaction.
type Gateway interface {
	// Name returns the registry name of the gateway
	Name() string

	// Capabilities returns the effective refund and settlement support
	Capabilities() Capabilities

	// GetFormParameters requests a token when the bank needs one and returns
	// the redirect instructions for the payer
	GetFormParameters(ctx context.Context) (*FormParameters, error)

	// CanContinueWithCallbackParameters checks the bank callback for the required
	// fields and the success flag without any network call
	CanContinueWithCallbackParameters(callback map[string]string) (bool, error)

	// VerifyTransaction confirms the payment with the bank and marks the
	// transaction verified when amount, order and token match
	VerifyTransaction(ctx context.Context) (bool, error)

	// SettleTransaction runs the second-phase capture, or marks the transaction
	// settled directly when the bank has no distinct settle step
	SettleTransaction(ctx context.Context) (bool, error)

	// RefundTransaction reverses a verified or settled transaction
	RefundTransaction(ctx context.Context) (bool, error)

	// GetGatewayReferenceID returns the bank's unique reference for the transaction
	GetGatewayReferenceID(ctx context.Context) (string, error)

	// URLFor resolves the endpoint of a logical action for the active environment
	URLFor(action Action) (string, error)

	// CheckRequiredActionParameters fails with a validation error naming the
	// first missing or empty parameter
	CheckRequiredActionParameters(names ...string) error
}

// Inquirer is implemented by gateways that expose a read-only status query
type Inquirer interface {
	InquiryTransaction(ctx context.Context) (bool, error)
}

// Factory builds a gateway for one transaction
type Factory func(cfg Config) (Gateway, error)
