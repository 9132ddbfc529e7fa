package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter map[provider.Status]int

func (c fixedCounter) CountByStatus(context.Context, string) (map[provider.Status]int, error) {
	return c, nil
}

func TestAnalyticsHandler_GetGatewayStats(t *testing.T) {
	counter := fixedCounter{
		provider.StatusSettled:          6,
		provider.StatusFailed:           2,
		provider.StatusAwaitingCallback: 4,
	}
	r := chi.NewRouter()
	r.Get("/v1/stats/{gateway}", NewAnalyticsHandler(counter).GetGatewayStats)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats/saman", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		response.Response
		Data GatewayStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "saman", resp.Data.Gateway)
	assert.Equal(t, 12, resp.Data.Total)
	assert.InDelta(t, 75.0, resp.Data.SuccessRate, 0.001)
}
