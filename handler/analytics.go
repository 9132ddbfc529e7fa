package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/provider"
)

// StatusCounter counts stored transactions by status
type StatusCounter interface {
	CountByStatus(ctx context.Context, gateway string) (map[provider.Status]int, error)
}

// AnalyticsHandler handles analytics related HTTP requests
type AnalyticsHandler struct {
	counter StatusCounter
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(counter StatusCounter) *AnalyticsHandler {
	return &AnalyticsHandler{counter: counter}
}

// GatewayStats summarizes the transactions of one gateway
type GatewayStats struct {
	Gateway     string                  `json:"gateway"`
	Total       int                     `json:"total"`
	ByStatus    map[provider.Status]int `json:"by_status"`
	SuccessRate float64                 `json:"success_rate"`
}

// GetGatewayStats returns transaction counts per status for a gateway
func (h *AnalyticsHandler) GetGatewayStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	gateway := chi.URLParam(r, "gateway")
	counts, err := h.counter.CountByStatus(ctx, gateway)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load statistics", err)
		return
	}

	stats := GatewayStats{Gateway: gateway, ByStatus: counts}
	var succeeded, finished int
	for status, n := range counts {
		stats.Total += n
		switch status {
		case provider.StatusVerified, provider.StatusSettled, provider.StatusRefunded:
			succeeded += n
			finished += n
		case provider.StatusFailed:
			finished += n
		}
	}
	if finished > 0 {
		stats.SuccessRate = float64(succeeded) / float64(finished) * 100
	}

	response.Success(w, http.StatusOK, "Gateway statistics", stats)
}
