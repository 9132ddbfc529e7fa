package provider

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConfigField represents a configuration field a gateway reads
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "number", "url", "boolean", "base64", "path"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
}

var validate = validator.New()

// typeTags maps a ConfigField type to its validator tag
var typeTags = map[string]string{
	"number":  "numeric",
	"url":     "url",
	"boolean": "boolean",
	"base64":  "base64",
}

// ValidateConfigFields validates configuration against provided field definitions
func ValidateConfigFields(gateway string, params Parameters, fields []ConfigField) error {
	for _, field := range fields {
		value, exists := params[strings.ToLower(field.Key)]
		if !exists || value == "" {
			if field.Required {
				if !exists {
					return NewConfigurationError(gateway, OpConfigure, "required field '%s' is missing", field.Key)
				}
				return NewConfigurationError(gateway, OpConfigure, "required field '%s' cannot be empty", field.Key)
			}
			continue
		}

		if err := validateFieldType(gateway, field, value); err != nil {
			return err
		}
		if err := validateFieldPattern(gateway, field, value); err != nil {
			return err
		}
		if err := validateFieldLength(gateway, field, value); err != nil {
			return err
		}
	}

	return nil
}

func validateFieldType(gateway string, field ConfigField, value string) error {
	tag, ok := typeTags[field.Type]
	if !ok {
		return nil
	}
	if err := validate.Var(value, tag); err != nil {
		return NewConfigurationError(gateway, OpConfigure, "field '%s' must be a valid %s", field.Key, field.Type)
	}
	return nil
}

func validateFieldPattern(gateway string, field ConfigField, value string) error {
	if field.Pattern == "" {
		return nil
	}

	matched, err := regexp.MatchString(field.Pattern, value)
	if err != nil {
		return NewConfigurationError(gateway, OpConfigure, "invalid pattern for field '%s': %v", field.Key, err)
	}
	if !matched {
		return NewConfigurationError(gateway, OpConfigure, "field '%s' does not match required pattern", field.Key)
	}

	return nil
}

func validateFieldLength(gateway string, field ConfigField, value string) error {
	if field.MinLength > 0 && len(value) < field.MinLength {
		return NewConfigurationError(gateway, OpConfigure, "field '%s' must be at least %d characters", field.Key, field.MinLength)
	}
	if field.MaxLength > 0 && len(value) > field.MaxLength {
		return NewConfigurationError(gateway, OpConfigure, "field '%s' must not exceed %d characters", field.Key, field.MaxLength)
	}
	return nil
}

// CommonConfigFields are accepted by every gateway
func CommonConfigFields() []ConfigField {
	return []ConfigField{
		{
			Key:         ParamEnvironment,
			Type:        "string",
			Description: "production, anything else selects the sandbox simulator",
			Example:     "sandbox",
		},
		{
			Key:         ParamBankTestBaseURL,
			Type:        "url",
			Description: "Root of the sandbox simulator",
			Example:     DefaultBankTestBaseURL,
		},
		{
			Key:         ParamCallbackURL,
			Type:        "string",
			Description: "Overrides the transaction callback URL",
			Example:     "https://shop.example.ir/payment/callback",
		},
		{
			Key:         ParamRefundSupport,
			Type:        "boolean",
			Description: "Disables refunds when false",
			Example:     "true",
		},
		{
			Key:         ParamSettlementSupport,
			Type:        "boolean",
			Description: "Disables the settle call when false",
			Example:     "true",
		},
	}
}
