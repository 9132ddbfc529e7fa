package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/shaparak/infra/opensearch"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/provider"
)

// ExchangeSearcher searches the recorded bank exchanges
type ExchangeSearcher interface {
	SearchExchanges(ctx context.Context, gateway string, op provider.Op, size int) ([]opensearch.ExchangeLog, error)
}

// LogsHandler handles logs related HTTP requests
type LogsHandler struct {
	searcher ExchangeSearcher
}

// NewLogsHandler creates a new logs handler
func NewLogsHandler(searcher ExchangeSearcher) *LogsHandler {
	return &LogsHandler{searcher: searcher}
}

// ListExchanges lists the latest bank exchanges of a gateway, optionally
// filtered by operation
func (h *LogsHandler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	gateway := chi.URLParam(r, "gateway")
	size := 20
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(w, http.StatusBadRequest, "Invalid size parameter", err)
			return
		}
		size = n
	}

	logs, err := h.searcher.SearchExchanges(ctx, gateway, provider.Op(r.URL.Query().Get("op")), size)
	if errors.Is(err, opensearch.ErrDisabled) {
		response.Error(w, http.StatusServiceUnavailable, "Exchange logging is disabled", err)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to search exchanges", err)
		return
	}

	response.Success(w, http.StatusOK, "Exchanges retrieved", map[string]any{
		"gateway": gateway,
		"count":   len(logs),
		"logs":    logs,
	})
}
