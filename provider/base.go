package provider

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// OpValidate labels failures of CheckRequiredActionParameters
const OpValidate Op = "validate"

// Base carries the state and helpers every adapter shares. Adapters embed
// it and override the lifecycle steps their bank implements differently.
type Base struct {
	name        string
	env         Environment
	sandboxBase string
	params      Parameters
	txn         Transaction
	endpoints   Endpoints
	caps        Capabilities
	http        *HTTPClient
	soap        *SOAPClient
	tokens      *TokenCache
	logger      *zap.Logger
}

// NewBase creates the shared part of an adapter. native declares what the bank
// supports; configuration flags can only switch a capability off.
func NewBase(name string, cfg Config, endpoints Endpoints, native Capabilities) *Base {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = NewHTTPClient(name, DefaultHTTPClientConfig(), nil, logger)
	}
	params := cfg.Parameters
	if params == nil {
		params = Parameters{}
	}
	sandboxBase := cfg.SandboxBaseURL
	if sandboxBase == "" {
		sandboxBase = params.GetDefault(ParamBankTestBaseURL, DefaultBankTestBaseURL)
	}

	return &Base{
		name:        name,
		env:         cfg.Environment,
		sandboxBase: sandboxBase,
		params:      params,
		txn:         cfg.Transaction,
		endpoints:   endpoints,
		caps: Capabilities{
			Refund:     native.Refund && params.Bool(ParamRefundSupport, true),
			Settlement: native.Settlement && params.Bool(ParamSettlementSupport, true),
		},
		http:   httpClient,
		soap:   NewSOAPClient(httpClient),
		tokens: cfg.Tokens,
		logger: logger.With(zap.Int64("order_id", orderIDOf(cfg.Transaction))),
	}
}

func orderIDOf(txn Transaction) int64 {
	if txn == nil {
		return 0
	}
	return txn.GatewayOrderID()
}

func (b *Base) Name() string                  { return b.name }
func (b *Base) Capabilities() Capabilities    { return b.caps }
func (b *Base) Environment() Environment      { return b.env }
func (b *Base) Transaction() Transaction      { return b.txn }
func (b *Base) HTTP() *HTTPClient             { return b.http }
func (b *Base) SOAP() *SOAPClient             { return b.soap }
func (b *Base) Tokens() *TokenCache           { return b.tokens }
func (b *Base) Logger() *zap.Logger           { return b.logger }
func (b *Base) ConfigParameters() Parameters  { return b.params }
func (b *Base) Endpoints() Endpoints          { return b.endpoints }
func (b *Base) Param(key string) string       { return b.Parameters().Get(key) }
func (b *Base) Callback() Parameters          { return NewParameters(b.txn.CallbackParameters()) }
func (b *Base) ConfigParam(key string) string { return b.params.Get(key) }

// Parameters returns the stored callback with the configuration layered over
// it, so a callback field can never replace a configured credential
func (b *Base) Parameters() Parameters {
	return NewParameters(b.txn.CallbackParameters()).Merge(b.params)
}

// URLFor resolves the endpoint of action for the active environment
func (b *Base) URLFor(action Action) (string, error) {
	return b.endpoints.Resolve(b.name, b.env, b.sandboxBase, action)
}

// CheckRequiredActionParameters fails naming the first missing or empty parameter
func (b *Base) CheckRequiredActionParameters(names ...string) error {
	return b.Require(OpValidate, names...)
}

// Require is CheckRequiredActionParameters labelled with the calling operation
func (b *Base) Require(op Op, names ...string) error {
	if name, missing := b.Parameters().FirstMissing(names...); missing {
		return NewValidationError(b.name, op, "required parameter '%s' is missing or empty", strings.ToLower(name))
	}
	return nil
}

// CallbackURL returns the callback_url parameter when it is absolute, else the transaction's
func (b *Base) CallbackURL() string {
	if u := b.params.Get(ParamCallbackURL); strings.HasPrefix(u, "http") {
		return u
	}
	return b.txn.CallbackURL()
}

// Amount returns the payable amount sent to the bank
func (b *Base) Amount() int64 {
	return b.txn.PayableAmount()
}

// OrderID returns the order id sent to the bank
func (b *Base) OrderID() int64 {
	return b.txn.GatewayOrderID()
}

// RequireTokenRequest fails unless the transaction can request a token
func (b *Base) RequireTokenRequest() error {
	if !b.txn.IsReadyForTokenRequest() {
		return NewStateError(b.name, OpRequestToken, "transaction is not ready for a token request (status %s)", b.txn.Status())
	}
	return nil
}

// RequireVerify fails unless a callback was received. allowRepeat lets an
// already verified transaction be verified again for banks that answer
// a repeated verify with a duplicate success code.
func (b *Base) RequireVerify(allowRepeat bool) error {
	if !b.txn.IsReadyForVerify() {
		return NewStateError(b.name, OpVerify, "transaction is not ready for verification (status %s)", b.txn.Status())
	}
	if b.txn.Status() == StatusVerified && !allowRepeat {
		return NewStateError(b.name, OpVerify, "transaction is already verified")
	}
	return nil
}

// RequireSettle fails unless the transaction is verified
func (b *Base) RequireSettle() error {
	if !b.txn.IsReadyForSettle() {
		return NewStateError(b.name, OpSettle, "transaction is not ready for settlement (status %s)", b.txn.Status())
	}
	return nil
}

// RequireRefund fails unless the transaction is verified or settled and refunds are supported
func (b *Base) RequireRefund() error {
	if !b.txn.IsReadyForRefund() {
		return NewStateError(b.name, OpRefund, "transaction is not ready for refund (status %s)", b.txn.Status())
	}
	if !b.caps.Refund {
		return NewConfigurationError(b.name, OpRefund, "refund is not supported")
	}
	return nil
}

// SettleTransaction marks a verified transaction settled without a remote call.
// It refuses when settlement_support is switched off.
func (b *Base) SettleTransaction(_ context.Context) (ok bool, err error) {
	defer func() { b.Observe(OpSettle, ok, err) }()

	if err := b.RequireSettle(); err != nil {
		return false, err
	}
	if !b.params.Bool(ParamSettlementSupport, true) {
		return false, NewConfigurationError(b.name, OpSettle, "settlement is disabled")
	}
	if err := b.txn.SetSettled(); err != nil {
		return false, NewStateError(b.name, OpSettle, "%v", err)
	}
	return true, nil
}

// RefundTransaction rejects refunds for banks without a reversal API
func (b *Base) RefundTransaction(_ context.Context) (ok bool, err error) {
	defer func() { b.Observe(OpRefund, ok, err) }()

	if err := b.RequireRefund(); err != nil {
		return false, err
	}
	return false, NewConfigurationError(b.name, OpRefund, "refund is not implemented")
}

// ReferenceFrom returns the callback value of key, falling back to the stored reference
func (b *Base) ReferenceFrom(key string) (string, error) {
	if v := b.Parameters().Get(key); v != "" {
		return v, nil
	}
	if ref := b.txn.ReferenceID(); ref != "" {
		return ref, nil
	}
	return "", NewValidationError(b.name, OpReference, "required parameter '%s' is missing or empty", strings.ToLower(key))
}

// CanContinueWith reports whether every name is present in callback
func (b *Base) CanContinueWith(callback map[string]string, names ...string) bool {
	_, missing := NewParameters(callback).FirstMissing(names...)
	return !missing
}

// MarkAwaiting records that the payer is being redirected
func (b *Base) MarkAwaiting(op Op) error {
	if err := b.txn.SetAwaitingCallback(); err != nil {
		return NewStateError(b.name, op, "%v", err)
	}
	return nil
}

// SetToken stores the bank token on the transaction
func (b *Base) SetToken(op Op, token string) error {
	if err := b.txn.SetGatewayToken(token); err != nil {
		return NewStateError(b.name, op, "%v", err)
	}
	return nil
}

// MarkVerified records the bank reference and masked card, then marks the transaction verified
func (b *Base) MarkVerified(reference, card string) error {
	if reference != "" {
		if err := b.txn.SetReferenceID(reference); err != nil {
			return NewStateError(b.name, OpVerify, "%v", err)
		}
	}
	if card != "" {
		if err := b.txn.SetCardNumber(card); err != nil {
			return NewStateError(b.name, OpVerify, "%v", err)
		}
	}
	if err := b.txn.SetVerified(); err != nil {
		return NewStateError(b.name, OpVerify, "%v", err)
	}
	return nil
}

// Fail marks the transaction failed for a definitive bank or state rejection and
// returns err. Transport faults leave the status untouched since the outcome is unknown.
func (b *Base) Fail(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBusiness) || errors.Is(err, ErrState) {
		if !b.txn.Status().IsTerminal() {
			if ferr := b.txn.SetFailed(err.Error()); ferr != nil {
				b.logger.Warn("failed to mark transaction failed", zap.Error(ferr))
			}
		}
	}
	return err
}

// MismatchError marks the transaction failed because the bank or callback
// reported a value that differs from the stored one
func (b *Base) MismatchError(op Op, field string, want, got any) error {
	return b.Fail(NewStateError(b.name, op, "%s mismatch: expected %v, got %v", field, want, got))
}

// Observe logs and counts the outcome of a lifecycle operation
func (b *Base) Observe(op Op, ok bool, err error) {
	observeLifecycle(b.name, op, ok, err)
	if err != nil {
		b.logger.Warn("gateway operation failed",
			zap.String("op", string(op)),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		return
	}
	b.logger.Info("gateway operation finished",
		zap.String("op", string(op)),
		zap.Bool("ok", ok),
		zap.String("status", string(b.txn.Status())))
}

// ParseAmount parses a bank-reported amount, ignoring thousands separators
func ParseAmount(s string) (int64, bool) {
	s = strings.NewReplacer(",", "", "٬", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// StringPtr returns a pointer to s for form fields
func StringPtr(s string) *string {
	return &s
}
