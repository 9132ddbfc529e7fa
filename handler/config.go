package handler

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/provider"
)

// GatewayConfigStore reads and writes merchant credentials per gateway
type GatewayConfigStore interface {
	Get(gateway string) (map[string]string, error)
	Set(gateway string, values map[string]string) error
	Delete(gateway string) error
	Gateways() []string
}

// ConfigHandler handles configuration related HTTP requests
type ConfigHandler struct {
	gateways GatewayFactory
	config   GatewayConfigStore
	fields   map[string][]provider.ConfigField
	validate *validator.Validate
}

// SetConfigRequest replaces the stored credentials of a gateway
type SetConfigRequest struct {
	Values map[string]string `json:"values" validate:"required,min=1,dive,keys,required,endkeys"`
}

// NewConfigHandler creates a new config handler. fields holds the credential
// rules of each gateway.
func NewConfigHandler(gateways GatewayFactory, config GatewayConfigStore, fields map[string][]provider.ConfigField, validate *validator.Validate) *ConfigHandler {
	return &ConfigHandler{
		gateways: gateways,
		config:   config,
		fields:   fields,
		validate: validate,
	}
}

// ListConfigs lists the gateways that have credentials
func (h *ConfigHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "Configured gateways", map[string]any{
		"registered": h.gateways.Names(),
		"configured": h.config.Gateways(),
	})
}

// GetFields returns the credential rules of a gateway
func (h *ConfigHandler) GetFields(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	if !slices.Contains(h.gateways.Names(), gateway) {
		response.Error(w, http.StatusNotFound, "Unknown gateway", nil)
		return
	}
	response.Success(w, http.StatusOK, "Configuration fields", append(provider.CommonConfigFields(), h.fields[gateway]...))
}

// GetConfig returns the credentials of a gateway with secrets masked
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	values, err := h.config.Get(gateway)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Configuration not found", err)
		return
	}
	response.Success(w, http.StatusOK, "Configuration retrieved", maskConfig(values))
}

// SetConfig stores the credentials of a gateway
func (h *ConfigHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	if !slices.Contains(h.gateways.Names(), gateway) {
		response.Error(w, http.StatusNotFound, "Unknown gateway", nil)
		return
	}

	var req SetConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	rules := append(provider.CommonConfigFields(), h.fields[gateway]...)
	if err := provider.ValidateConfigFields(gateway, provider.NewParameters(req.Values), rules); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	if err := h.config.Set(gateway, req.Values); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to save configuration", err)
		return
	}
	response.Success(w, http.StatusOK, "Configuration saved", map[string]string{"gateway": gateway})
}

// DeleteConfig drops the stored credentials of a gateway
func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")
	if err := h.config.Delete(gateway); err != nil {
		response.Error(w, http.StatusNotFound, "Configuration not found", err)
		return
	}
	response.Success(w, http.StatusOK, "Configuration deleted", nil)
}

var secretKeys = []string{"password", "secret", "key", "pin", "token", "passphrase"}

func maskConfig(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		lower := strings.ToLower(k)
		if slices.ContainsFunc(secretKeys, func(s string) bool { return strings.Contains(lower, s) }) {
			out[k] = "********"
			continue
		}
		out[k] = v
	}
	return out
}
