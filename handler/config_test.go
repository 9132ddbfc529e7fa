package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryConfig map[string]map[string]string

func (c memoryConfig) Get(gateway string) (map[string]string, error) {
	v, ok := c[gateway]
	if !ok {
		return nil, fmt.Errorf("no configuration found for gateway: %s", gateway)
	}
	return v, nil
}

func (c memoryConfig) Set(gateway string, values map[string]string) error {
	c[gateway] = values
	return nil
}

func (c memoryConfig) Delete(gateway string) error {
	if _, ok := c[gateway]; !ok {
		return fmt.Errorf("no stored configuration for gateway: %s", gateway)
	}
	delete(c, gateway)
	return nil
}

func (c memoryConfig) Gateways() []string {
	var out []string
	for k := range c {
		out = append(out, k)
	}
	return out
}

func newConfigRouter(cfg memoryConfig) chi.Router {
	fields := map[string][]provider.ConfigField{
		"fake": {{Key: "terminal_id", Required: true, Type: "number"}},
	}
	h := NewConfigHandler(&fakeFactory{}, cfg, fields, validator.New())

	r := chi.NewRouter()
	r.Get("/v1/config", h.ListConfigs)
	r.Get("/v1/config/{gateway}/fields", h.GetFields)
	r.Get("/v1/config/{gateway}", h.GetConfig)
	r.Post("/v1/config/{gateway}", h.SetConfig)
	r.Delete("/v1/config/{gateway}", h.DeleteConfig)
	return r
}

func TestConfigHandler_SetConfig(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"valid", "/v1/config/fake", `{"values":{"terminal_id":"123","password":"p"}}`, http.StatusOK},
		{"unknown gateway", "/v1/config/nope", `{"values":{"terminal_id":"123"}}`, http.StatusNotFound},
		{"empty values", "/v1/config/fake", `{"values":{}}`, http.StatusBadRequest},
		{"missing required", "/v1/config/fake", `{"values":{"password":"p"}}`, http.StatusBadRequest},
		{"wrong type", "/v1/config/fake", `{"values":{"terminal_id":"abc"}}`, http.StatusBadRequest},
		{"bad common field", "/v1/config/fake", `{"values":{"terminal_id":"1","banktest_base_url":"not a url"}}`, http.StatusBadRequest},
		{"bad json", "/v1/config/fake", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig{}
			rr := httptest.NewRecorder()
			newConfigRouter(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, "123", cfg["fake"]["terminal_id"])
			}
		})
	}
}

func TestConfigHandler_GetConfigMasksSecrets(t *testing.T) {
	cfg := memoryConfig{"fake": {"terminal_id": "123", "password": "s3cret", "private_key": "-----BEGIN"}}

	rr := httptest.NewRecorder()
	newConfigRouter(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/config/fake", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp response.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, "123", data["terminal_id"])
	assert.Equal(t, "********", data["password"])
	assert.Equal(t, "********", data["private_key"])
	assert.NotContains(t, rr.Body.String(), "s3cret")
}

func TestConfigHandler_DeleteConfig(t *testing.T) {
	cfg := memoryConfig{"fake": {"terminal_id": "123"}}
	router := newConfigRouter(cfg)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/config/fake", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, cfg)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/config/fake", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConfigHandler_GetFields(t *testing.T) {
	rr := httptest.NewRecorder()
	newConfigRouter(memoryConfig{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/config/fake/fields", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"key":"terminal_id"`)
	assert.Contains(t, rr.Body.String(), `"key":"`+provider.ParamEnvironment+`"`)
}
