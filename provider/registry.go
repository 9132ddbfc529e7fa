package provider

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config is what a Factory receives to build one gateway
type Config struct {
	Transaction    Transaction
	Parameters     Parameters
	Environment    Environment
	SandboxBaseURL string
	HTTP           *HTTPClient
	Tokens         *TokenCache
	Logger         *zap.Logger
}

// Registry resolves a gateway name, its configuration and a transaction into an adapter
type Registry struct {
	factories map[string]Factory
	clients   map[string]*HTTPClient
	mu        sync.RWMutex

	logger     *zap.Logger
	httpConfig HTTPClientConfig
	tokens     *TokenCache
	exchange   ExchangeLogger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the logger handed to every adapter
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHTTPClientConfig overrides the transport settings
func WithHTTPClientConfig(cfg HTTPClientConfig) RegistryOption {
	return func(r *Registry) {
		r.httpConfig = cfg
	}
}

// WithTokenStore backs the shared bearer token cache with store
func WithTokenStore(store TokenStore) RegistryOption {
	return func(r *Registry) {
		r.tokens = NewTokenCache(store, 30*time.Second)
	}
}

// WithExchangeLogger records every bank exchange
func WithExchangeLogger(exchange ExchangeLogger) RegistryOption {
	return func(r *Registry) {
		r.exchange = exchange
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories:  make(map[string]Factory),
		clients:    make(map[string]*HTTPClient),
		logger:     zap.NewNop(),
		httpConfig: DefaultHTTPClientConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tokens == nil {
		r.tokens = NewTokenCache(NewMemoryTokenStore(), 30*time.Second)
	}
	return r
}

// Register adds a gateway factory to the registry
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get retrieves a gateway factory by name
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, NewConfigurationError(name, OpConfigure, "gateway '%s' is not registered", name)
	}
	return factory, nil
}

// Names returns the registered gateway names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create builds the named gateway for txn with the given raw configuration
func (r *Registry) Create(name string, txn Transaction, params map[string]string) (Gateway, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, NewConfigurationError(name, OpConfigure, "transaction is required")
	}

	p := NewParameters(params)
	if err := ValidateConfigFields(name, p, CommonConfigFields()); err != nil {
		return nil, err
	}
	mode := p.GetDefault(ParamEnvironment, p.Get(ParamMode))

	gw, err := factory(Config{
		Transaction:    txn,
		Parameters:     p,
		Environment:    ParseEnvironment(mode),
		SandboxBaseURL: p.GetDefault(ParamBankTestBaseURL, DefaultBankTestBaseURL),
		HTTP:           r.httpClient(name),
		Tokens:         r.tokens,
		Logger:         r.logger.Named(name),
	})
	if err != nil {
		r.logger.Warn("failed to create gateway", zap.String("gateway", name), zap.Error(err))
		return nil, err
	}
	return gw, nil
}

// Tokens returns the shared bearer token cache
func (r *Registry) Tokens() *TokenCache {
	return r.tokens
}

func (r *Registry) httpClient(name string) *HTTPClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[name]; ok {
		return c
	}
	c := NewHTTPClient(name, r.httpConfig, r.exchange, r.logger.Named(name))
	r.clients[name] = c
	return c
}
