package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mstgnz/shaparak/handler"
	"github.com/mstgnz/shaparak/infra/middle"
	"github.com/mstgnz/shaparak/infra/response"
	v1 "github.com/mstgnz/shaparak/router/v1"
	"go.uber.org/zap"
)

// Deps are the services the HTTP surface is built from
type Deps struct {
	Logger      *zap.Logger
	APIKey      string
	RateLimiter *middle.RateLimiter
	Health      *handler.HealthHandler
	Metrics     http.Handler
	V1          v1.Handlers
}

// New builds the root router
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RealIP)
	r.Use(middle.RequestLogging(d.Logger))
	r.Use(middle.PanicRecoveryMiddleware(d.Logger))
	r.Use(middleware.Timeout(60 * time.Second))

	// Security Middleware
	r.Use(middle.SecurityHeadersMiddleware())
	if d.RateLimiter != nil {
		r.Use(middle.RateLimitMiddleware(d.RateLimiter))
	}
	r.Use(middle.RequestValidationMiddleware())

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With", middle.RequestIDHeader},
		ExposedHeaders:   []string{"Content-Length", middle.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300, // Preflight cache time (second)
	}))

	// Health check endpoint (no auth required)
	r.Get("/health", d.Health.Check)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	// Bank callbacks (no auth required)
	r.Route("/callback", func(r chi.Router) {
		r.Get("/{gateway}/{id}", d.V1.Payments.Callback)
		r.Post("/{gateway}/{id}", d.V1.Payments.Callback)
	})

	// API routes with authentication
	r.Route("/v1", func(r chi.Router) {
		r.Use(middle.AuthMiddleware(d.APIKey))
		v1.Routes(r, d.V1)
	})

	// Not Found
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})

	return r
}
