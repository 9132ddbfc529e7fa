package provider

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MatchesSentinels(t *testing.T) {
	err := NewBusinessError(Mellat, OpVerify, "43", "already verified")

	assert.True(t, errors.Is(err, ErrBusiness))
	assert.True(t, errors.Is(err, ErrVerification))
	assert.False(t, errors.Is(err, ErrState))
	assert.False(t, errors.Is(err, ErrRefund))
	assert.Equal(t, KindBusiness, KindOf(err))
	assert.Equal(t, "mellat: verify: [43] already verified", err.Error())
}

func TestError_WrappedStillMatches(t *testing.T) {
	inner := NewTransportError(Saman, OpRefund, "timeout", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("refund order 7: %w", inner)

	assert.True(t, errors.Is(wrapped, ErrTransport))
	assert.True(t, errors.Is(wrapped, ErrRefund))
	assert.True(t, errors.Is(wrapped, io.ErrUnexpectedEOF))
	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.Contains(t, inner.Error(), "unexpected EOF")
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(io.EOF))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWithOp(t *testing.T) {
	err := NewConfigurationError(Parsian, OpResolve, "unknown action '%s'", "x")
	relabeled := WithOp(err, OpSettle)

	assert.True(t, errors.Is(relabeled, ErrSettlement))
	assert.Equal(t, OpResolve, err.Op, "original is untouched")
	assert.Equal(t, io.EOF, WithOp(io.EOF, OpSettle))
	assert.Same(t, err, WithOp(err, OpResolve))
}

func TestResult_Normalizers(t *testing.T) {
	assert.True(t, FromCode(" 0 ", "", "0").Success)
	assert.False(t, FromCode("43", "", "0").Success)
	assert.True(t, FromCode("45", "", "0", "45").Success)
	assert.True(t, FromIntCode(101, "", 100, 101).Success)
	assert.True(t, FromStatus("true", "", "True").Success)
	assert.True(t, FromStatus("duplicate", "", "OK", "Duplicate").Success)
	assert.False(t, FromStatus("NOK", "", "OK").Success)
	assert.True(t, FromHTTPStatus(200, "").Success)
	assert.False(t, FromHTTPStatus(201, "").Success)
	assert.Equal(t, "472", FromHTTPStatus(472, "").Code)
	assert.False(t, FromBool(false, "x", "y").Success)
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, FromCode("0", "ok", "0").Err(Mellat, OpVerify))

	err := FromCode("17", "", "0").Err(Mellat, OpSettle)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "17", gwErr.Code)
	assert.Equal(t, "gateway returned a non-success code", gwErr.Message)
	assert.True(t, errors.Is(err, ErrSettlement))
}

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json", `{"userName":"shop","password":"p@ss","amount":10}`, `{"userName":"shop","password":"***","amount":10}`},
		{"xml", `<ns1:userPassword>secret</ns1:userPassword>`, `<ns1:userPassword>***</ns1:userPassword>`},
		{"form", `pin=1234&amount=10`, `pin=***&amount=10`},
		{"sign", `{"SignData":"abc=="}`, `{"SignData":"***"}`},
		{"clean", `{"amount":10}`, `{"amount":10}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskSecrets(tt.in), tt.name)
	}
}
