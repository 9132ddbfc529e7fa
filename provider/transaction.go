package provider

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Status is the lifecycle state of a payment attempt
type Status string

const (
	StatusCreated          Status = "created"
	StatusTokenRequested   Status = "token_requested"
	StatusAwaitingCallback Status = "awaiting_callback"
	StatusCallbackReceived Status = "callback_received"
	StatusVerified         Status = "verified"
	StatusSettled          Status = "settled"
	StatusRefunded         Status = "refunded"
	StatusFailed           Status = "failed"
)

var statusRank = map[Status]int{
	StatusCreated:          0,
	StatusTokenRequested:   1,
	StatusAwaitingCallback: 2,
	StatusCallbackReceived: 3,
	StatusVerified:         4,
	StatusSettled:          5,
	StatusRefunded:         6,
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusRefunded || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to target keeps the lifecycle
// forward-only. Failed is reachable from any non-terminal state.
func (s Status) CanTransitionTo(target Status) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[target]
	if !ok {
		return false
	}
	return to > from
}

// Transaction is the persisted payment attempt an adapter drives.
// Implementations enforce the state invariants; the adapters only call the
// setters after the bank confirmed the matching step.
type Transaction interface {
	GatewayOrderID() int64
	PayableAmount() int64
	CallbackURL() string
	CreatedAt() time.Time
	Status() Status

	GatewayToken() string
	SetGatewayToken(token string) error
	ReferenceID() string
	SetReferenceID(id string) error
	CardNumber() string
	SetCardNumber(pan string) error
	CallbackParameters() map[string]string
	SetCallbackParameters(params map[string]string) error
	Extra(key string) (any, bool)
	SetExtra(key string, value any) error

	IsReadyForTokenRequest() bool
	IsReadyForVerify() bool
	IsReadyForInquiry() bool
	IsReadyForSettle() bool
	IsReadyForRefund() bool

	SetAwaitingCallback() error
	SetVerified() error
	SetSettled() error
	SetRefunded() error
	SetFailed(reason string) error
}

// TransactionSnapshot is the persistable state of a BasicTransaction
type TransactionSnapshot struct {
	GatewayOrderID     int64             `json:"gateway_order_id"`
	PayableAmount      int64             `json:"payable_amount"`
	CallbackURL        string            `json:"callback_url"`
	CreatedAt          time.Time         `json:"created_at"`
	Status             Status            `json:"status"`
	GatewayToken       string            `json:"gateway_token,omitempty"`
	ReferenceID        string            `json:"reference_id,omitempty"`
	CardNumber         string            `json:"card_number,omitempty"`
	CallbackParameters map[string]string `json:"callback_parameters,omitempty"`
	Extra              map[string]any    `json:"extra,omitempty"`
	FailureReason      string            `json:"failure_reason,omitempty"`
}

// BasicTransaction is an in-memory Transaction
type BasicTransaction struct {
	mu   sync.RWMutex
	snap TransactionSnapshot
}

// NewTransaction creates a transaction in the Created state
func NewTransaction(orderID, amount int64, callbackURL string) (*BasicTransaction, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("transaction: order id must be positive, got %d", orderID)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transaction: payable amount must be positive, got %d", amount)
	}
	return &BasicTransaction{snap: TransactionSnapshot{
		GatewayOrderID: orderID,
		PayableAmount:  amount,
		CallbackURL:    callbackURL,
		CreatedAt:      time.Now(),
		Status:         StatusCreated,
		Extra:          map[string]any{},
	}}, nil
}

// RestoreTransaction rebuilds a transaction from a stored snapshot
func RestoreTransaction(snap TransactionSnapshot) *BasicTransaction {
	if snap.Extra == nil {
		snap.Extra = map[string]any{}
	}
	if snap.Status == "" {
		snap.Status = StatusCreated
	}
	return &BasicTransaction{snap: snap}
}

// Snapshot returns a copy of the current state
func (t *BasicTransaction) Snapshot() TransactionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.CallbackParameters = maps.Clone(t.snap.CallbackParameters)
	s.Extra = maps.Clone(t.snap.Extra)
	return s
}

func (t *BasicTransaction) GatewayOrderID() int64 { return t.read().GatewayOrderID }
func (t *BasicTransaction) PayableAmount() int64  { return t.read().PayableAmount }
func (t *BasicTransaction) CallbackURL() string   { return t.read().CallbackURL }
func (t *BasicTransaction) CreatedAt() time.Time  { return t.read().CreatedAt }
func (t *BasicTransaction) Status() Status        { return t.read().Status }
func (t *BasicTransaction) GatewayToken() string  { return t.read().GatewayToken }
func (t *BasicTransaction) ReferenceID() string   { return t.read().ReferenceID }
func (t *BasicTransaction) CardNumber() string    { return t.read().CardNumber }

// FailureReason returns the reason recorded by SetFailed
func (t *BasicTransaction) FailureReason() string { return t.read().FailureReason }

func (t *BasicTransaction) read() TransactionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// SetGatewayToken assigns the bank token once. Re-assigning the same value is a no-op.
func (t *BasicTransaction) SetGatewayToken(token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if token == "" {
		return fmt.Errorf("transaction: empty gateway token")
	}
	if t.snap.GatewayToken != "" {
		if t.snap.GatewayToken == token {
			return nil
		}
		return fmt.Errorf("transaction: gateway token already assigned")
	}
	t.snap.GatewayToken = token
	if t.snap.Status == StatusCreated {
		t.snap.Status = StatusTokenRequested
	}
	return nil
}

func (t *BasicTransaction) SetReferenceID(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.ReferenceID = id
	return nil
}

func (t *BasicTransaction) SetCardNumber(pan string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CardNumber = pan
	return nil
}

// CallbackParameters returns a copy of the stored callback snapshot
func (t *BasicTransaction) CallbackParameters() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.snap.CallbackParameters)
}

// SetCallbackParameters stores the bank callback once and moves the
// transaction to CallbackReceived. Storing an identical snapshot again is a no-op.
func (t *BasicTransaction) SetCallbackParameters(params map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.CallbackParameters != nil {
		if maps.Equal(t.snap.CallbackParameters, params) {
			return nil
		}
		return fmt.Errorf("transaction: callback parameters already stored")
	}
	if t.snap.Status.IsTerminal() {
		return fmt.Errorf("transaction: cannot accept callback in status %s", t.snap.Status)
	}
	t.snap.CallbackParameters = maps.Clone(params)
	if statusRank[t.snap.Status] < statusRank[StatusCallbackReceived] {
		t.snap.Status = StatusCallbackReceived
	}
	return nil
}

func (t *BasicTransaction) Extra(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.snap.Extra[key]
	return v, ok
}

func (t *BasicTransaction) SetExtra(key string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Extra[key] = value
	return nil
}

func (t *BasicTransaction) IsReadyForTokenRequest() bool {
	s := t.read()
	return s.Status == StatusCreated && s.GatewayToken == ""
}

func (t *BasicTransaction) IsReadyForVerify() bool {
	s := t.Status()
	return s == StatusCallbackReceived || s == StatusVerified
}

func (t *BasicTransaction) IsReadyForInquiry() bool {
	s := t.Status()
	return statusRank[s] >= statusRank[StatusCallbackReceived] && s != StatusFailed
}

func (t *BasicTransaction) IsReadyForSettle() bool {
	return t.Status() == StatusVerified
}

func (t *BasicTransaction) IsReadyForRefund() bool {
	s := t.Status()
	return s == StatusVerified || s == StatusSettled
}

func (t *BasicTransaction) SetAwaitingCallback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status == StatusAwaitingCallback {
		return nil
	}
	return t.transition(StatusAwaitingCallback)
}

// SetVerified marks the payment verified. Verifying an already verified
// transaction is a no-op so a duplicate bank confirmation is counted once.
func (t *BasicTransaction) SetVerified() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status == StatusVerified {
		return nil
	}
	return t.transition(StatusVerified)
}

func (t *BasicTransaction) SetSettled() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status == StatusSettled {
		return nil
	}
	return t.transition(StatusSettled)
}

func (t *BasicTransaction) SetRefunded() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status == StatusRefunded {
		return nil
	}
	return t.transition(StatusRefunded)
}

func (t *BasicTransaction) SetFailed(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status == StatusFailed {
		return nil
	}
	if err := t.transition(StatusFailed); err != nil {
		return err
	}
	t.snap.FailureReason = reason
	return nil
}

func (t *BasicTransaction) transition(target Status) error {
	if !t.snap.Status.CanTransitionTo(target) {
		return fmt.Errorf("transaction: invalid transition from %s to %s", t.snap.Status, target)
	}
	t.snap.Status = target
	return nil
}
