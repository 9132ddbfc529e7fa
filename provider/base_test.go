package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBase(t *testing.T, txn Transaction, caps Capabilities, params map[string]string) *Base {
	t.Helper()
	return NewBase("stub", Config{Transaction: txn, Parameters: NewParameters(params)}, stubEndpoints, caps)
}

func callbackTxn(t *testing.T, cb map[string]string) *BasicTransaction {
	t.Helper()
	txn := newTxn(t)
	require.NoError(t, txn.SetGatewayToken("TOKEN"))
	require.NoError(t, txn.SetAwaitingCallback())
	require.NoError(t, txn.SetCallbackParameters(cb))
	return txn
}

func TestBase_CapabilitiesOnlySwitchOff(t *testing.T) {
	full := Capabilities{Refund: true, Settlement: true}

	b := newBase(t, newTxn(t), full, nil)
	assert.Equal(t, full, b.Capabilities())

	b = newBase(t, newTxn(t), full, map[string]string{"refund_support": "false"})
	assert.Equal(t, Capabilities{Settlement: true}, b.Capabilities())

	b = newBase(t, newTxn(t), Capabilities{}, map[string]string{"refund_support": "true", "settlement_support": "true"})
	assert.Equal(t, Capabilities{}, b.Capabilities())
}

func TestBase_CallbackURL(t *testing.T) {
	b := newBase(t, newTxn(t), Capabilities{}, map[string]string{"callback_url": "/relative"})
	assert.Equal(t, "https://shop.example.ir/callback", b.CallbackURL())

	b = newBase(t, newTxn(t), Capabilities{}, map[string]string{"callback_url": "https://other.ir/cb"})
	assert.Equal(t, "https://other.ir/cb", b.CallbackURL())
}

func TestBase_ParamMergesCallback(t *testing.T) {
	txn := callbackTxn(t, map[string]string{"RefNum": "R1", "terminal_id": "from-callback"})
	b := newBase(t, txn, Capabilities{}, map[string]string{"terminal_id": "cfg"})

	assert.Equal(t, "R1", b.Param("refnum"))
	assert.Equal(t, "cfg", b.Param("terminal_id"), "configuration wins over the callback")
	assert.Equal(t, "cfg", b.ConfigParam("terminal_id"))

	err := b.CheckRequiredActionParameters("terminal_id", "TraceNo")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "'traceno'")
}

func TestBase_RequireVerify(t *testing.T) {
	txn := newTxn(t)
	b := newBase(t, txn, Capabilities{}, nil)
	assert.True(t, errors.Is(b.RequireVerify(true), ErrState))

	require.NoError(t, txn.SetCallbackParameters(map[string]string{"a": "1"}))
	assert.NoError(t, b.RequireVerify(false))

	require.NoError(t, txn.SetVerified())
	assert.True(t, errors.Is(b.RequireVerify(false), ErrState))
	assert.NoError(t, b.RequireVerify(true))
}

func TestBase_RefundChecksStateBeforeCapability(t *testing.T) {
	txn := newTxn(t)
	b := newBase(t, txn, Capabilities{}, nil)

	err := b.RequireRefund()
	assert.True(t, errors.Is(err, ErrState))

	require.NoError(t, txn.SetCallbackParameters(map[string]string{"a": "1"}))
	require.NoError(t, txn.SetVerified())
	_, err = b.RefundTransaction(context.Background())
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.True(t, errors.Is(err, ErrRefund))
}

func TestBase_DefaultSettle(t *testing.T) {
	txn := newTxn(t)
	b := newBase(t, txn, Capabilities{}, nil)

	_, err := b.SettleTransaction(context.Background())
	assert.True(t, errors.Is(err, ErrState))

	require.NoError(t, txn.SetCallbackParameters(map[string]string{"a": "1"}))
	require.NoError(t, txn.SetVerified())
	ok, err := b.SettleTransaction(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatusSettled, txn.Status())
}

func TestBase_SettleDisabled(t *testing.T) {
	txn := newTxn(t)
	b := newBase(t, txn, Capabilities{}, map[string]string{"settlement_support": "false"})

	_, err := b.SettleTransaction(context.Background())
	assert.True(t, errors.Is(err, ErrState), "state is checked first")

	require.NoError(t, txn.SetCallbackParameters(map[string]string{"a": "1"}))
	require.NoError(t, txn.SetVerified())
	ok, err := b.SettleTransaction(context.Background())
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.True(t, errors.Is(err, ErrSettlement))
	assert.Equal(t, StatusVerified, txn.Status())
}

func TestBase_FailPolicy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		failed bool
	}{
		{"business", NewBusinessError("stub", OpVerify, "1", "no"), true},
		{"state", NewStateError("stub", OpVerify, "mismatch"), true},
		{"transport", NewTransportError("stub", OpVerify, "timeout", context.DeadlineExceeded), false},
		{"validation", NewValidationError("stub", OpVerify, "missing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := callbackTxn(t, map[string]string{"a": "1"})
			b := newBase(t, txn, Capabilities{}, nil)
			assert.Same(t, tt.err, b.Fail(tt.err))
			assert.Equal(t, tt.failed, txn.Status() == StatusFailed)
		})
	}
	assert.NoError(t, newBase(t, newTxn(t), Capabilities{}, nil).Fail(nil))
}

func TestBase_MismatchError(t *testing.T) {
	txn := callbackTxn(t, map[string]string{"a": "1"})
	b := newBase(t, txn, Capabilities{}, nil)

	err := b.MismatchError(OpVerify, "amount", int64(250000), "1000")
	assert.True(t, errors.Is(err, ErrState))
	assert.Equal(t, StatusFailed, txn.Status())
	assert.Contains(t, txn.FailureReason(), "amount mismatch: expected 250000, got 1000")
}

func TestBase_ReferenceFrom(t *testing.T) {
	txn := callbackTxn(t, map[string]string{"RefNum": "CB-REF"})
	b := newBase(t, txn, Capabilities{}, nil)

	ref, err := b.ReferenceFrom("RefNum")
	require.NoError(t, err)
	assert.Equal(t, "CB-REF", ref)

	require.NoError(t, txn.SetReferenceID("STORED"))
	ref, err = b.ReferenceFrom("TraceNo")
	require.NoError(t, err)
	assert.Equal(t, "STORED", ref)

	_, err = newBase(t, newTxn(t), Capabilities{}, nil).ReferenceFrom("TraceNo")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestBase_MarkVerified(t *testing.T) {
	txn := callbackTxn(t, map[string]string{"a": "1"})
	b := newBase(t, txn, Capabilities{}, nil)

	require.NoError(t, b.MarkVerified("REF", "6037********1234"))
	assert.Equal(t, StatusVerified, txn.Status())
	assert.Equal(t, "REF", txn.ReferenceID())
	assert.Equal(t, "6037********1234", txn.CardNumber())
}

func TestFormParameters_Field(t *testing.T) {
	var nilForm *FormParameters
	assert.Equal(t, "", nilForm.Field("x"))

	form := &FormParameters{Fields: map[string]*string{"a": StringPtr("1"), "b": nil}}
	assert.Equal(t, "1", form.Field("a"))
	assert.Equal(t, "", form.Field("b"))
}
