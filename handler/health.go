package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/mstgnz/shaparak/infra/response"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db          Pinger
	gateways    GatewayFactory
	config      GatewayConfigStore
	version     string
	environment string
	startTime   time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Timestamp   time.Time                 `json:"timestamp"`
	Uptime      string                    `json:"uptime"`
	Environment string                    `json:"environment"`
	Database    *DatabaseHealth           `json:"database"`
	Gateways    map[string]*GatewayHealth `json:"gateways"`
	GoRoutines  int                       `json:"goroutines"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Status       string `json:"status"`
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"response_time"`
	Error        string `json:"error,omitempty"`
}

// GatewayHealth reports whether a gateway can serve payments
type GatewayHealth struct {
	Registered bool `json:"registered"`
	Configured bool `json:"configured"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, gateways GatewayFactory, config GatewayConfigStore, version, environment string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		gateways:    gateways,
		config:      config,
		version:     version,
		environment: environment,
		startTime:   time.Now(),
	}
}

// Check reports the service health. The status code is 503 when the database is down.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:      "healthy",
		Version:     h.version,
		Timestamp:   time.Now(),
		Uptime:      time.Since(h.startTime).Truncate(time.Second).String(),
		Environment: h.environment,
		Database:    h.checkDatabase(ctx),
		Gateways:    h.checkGateways(),
		GoRoutines:  runtime.NumGoroutine(),
	}

	code := http.StatusOK
	if !status.Database.Connected {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	response.Success(w, code, "Service health", status)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) *DatabaseHealth {
	start := time.Now()
	err := h.db.PingContext(ctx)
	health := &DatabaseHealth{
		Status:       "healthy",
		Connected:    err == nil,
		ResponseTime: time.Since(start).String(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

func (h *HealthHandler) checkGateways() map[string]*GatewayHealth {
	out := make(map[string]*GatewayHealth)
	for _, name := range h.gateways.Names() {
		out[name] = &GatewayHealth{Registered: true}
	}
	for _, name := range h.config.Gateways() {
		if gw, ok := out[name]; ok {
			gw.Configured = true
		}
	}
	return out
}
