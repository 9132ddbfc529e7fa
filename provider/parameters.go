package provider

import (
	"strconv"
	"strings"
)

// Well-known parameter keys shared by all gateways
const (
	ParamEnvironment       = "environment"
	ParamMode              = "mode"
	ParamBankTestBaseURL   = "banktest_base_url"
	ParamCallbackURL       = "callback_url"
	ParamRefundSupport     = "refund_support"
	ParamSettlementSupport = "settlement_support"
)

// DefaultBankTestBaseURL roots every sandbox simulator URL
const DefaultBankTestBaseURL = "https://sandbox.banktest.ir"

// Parameters holds gateway credentials and runtime options.
// Keys are lower-cased and values trimmed on construction.
type Parameters map[string]string

// NewParameters normalizes raw configuration into Parameters
func NewParameters(raw map[string]string) Parameters {
	p := make(Parameters, len(raw))
	for k, v := range raw {
		p[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return p
}

// Get returns the value of key, matched case-insensitively
func (p Parameters) Get(key string) string {
	return p[strings.ToLower(key)]
}

// GetDefault returns the value of key or def when it is empty
func (p Parameters) GetDefault(key, def string) string {
	if v := p.Get(key); v != "" {
		return v
	}
	return def
}

// Has reports whether key holds a non-empty value
func (p Parameters) Has(key string) bool {
	return p.Get(key) != ""
}

// Bool parses key as a boolean, falling back to def
func (p Parameters) Bool(key string, def bool) bool {
	v := p.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int64 parses key as an integer
func (p Parameters) Int64(key string) (int64, bool) {
	v := p.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Merge returns a new Parameters with other layered over p
func (p Parameters) Merge(other map[string]string) Parameters {
	out := make(Parameters, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range NewParameters(other) {
		out[k] = v
	}
	return out
}

// FirstMissing returns the first name whose value is absent or blank
func (p Parameters) FirstMissing(names ...string) (string, bool) {
	for _, name := range names {
		if !p.Has(name) {
			return name, true
		}
	}
	return "", false
}
