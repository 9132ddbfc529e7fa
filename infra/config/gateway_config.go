package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// EnvPrefix starts every per-gateway credential variable, e.g. SHAPARAK_SAMAN_TERMINAL_ID
const EnvPrefix = "SHAPARAK_"

// GatewayConfig resolves the credentials of each gateway from the YAML file,
// the environment and the SQLite store, in increasing precedence
type GatewayConfig struct {
	static   map[string]map[string]string
	stored   map[string]map[string]string
	defaults map[string]string
	storage  *SQLiteStorage
	mu       sync.RWMutex
}

// NewGatewayConfig collects the static credentials of the given gateways and
// loads whatever storage already holds. storage may be nil.
func NewGatewayConfig(app *AppConfig, gateways []string, storage *SQLiteStorage) (*GatewayConfig, error) {
	c := &GatewayConfig{
		static:   make(map[string]map[string]string),
		stored:   make(map[string]map[string]string),
		defaults: make(map[string]string),
		storage:  storage,
	}

	if app != nil && app.BankTestBaseURL != "" {
		c.defaults["banktest_base_url"] = app.BankTestBaseURL
	}
	if app != nil && app.viper != nil {
		for _, gw := range gateways {
			if values := app.viper.GetStringMapString("gateways." + gw); len(values) > 0 {
				c.merge(c.static, gw, values)
			}
		}
	}
	for gw, values := range envCredentials(gateways, os.Environ()) {
		c.merge(c.static, gw, values)
	}

	if storage != nil {
		all, err := storage.LoadAllGatewayConfigs()
		if err != nil {
			return nil, fmt.Errorf("failed to load stored gateway configs: %w", err)
		}
		c.stored = all
	}
	return c, nil
}

func (c *GatewayConfig) merge(into map[string]map[string]string, gateway string, values map[string]string) {
	if into[gateway] == nil {
		into[gateway] = make(map[string]string, len(values))
	}
	for k, v := range values {
		into[gateway][strings.ToLower(k)] = v
	}
}

// envCredentials groups SHAPARAK_<GATEWAY>_<KEY> variables by gateway. The
// longest matching gateway wins, so SHAPARAK_ASANPARDAKHT_REST_* never lands
// on asanpardakht.
func envCredentials(gateways []string, environ []string) map[string]map[string]string {
	prefixes := make(map[string]string, len(gateways))
	for _, gw := range gateways {
		prefixes[gw] = EnvPrefix + strings.ToUpper(strings.ReplaceAll(gw, "-", "_")) + "_"
	}

	out := make(map[string]map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}

		best := ""
		for gw, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) && len(prefix) > len(prefixes[best]) {
				best = gw
			}
		}
		if best == "" {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(key, prefixes[best]))
		if name == "" {
			continue
		}
		if out[best] == nil {
			out[best] = make(map[string]string)
		}
		out[best][name] = value
	}
	return out
}

// Get returns a copy of the credentials of gateway
func (c *GatewayConfig) Get(gateway string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	static, inStatic := c.static[gateway]
	stored, inStored := c.stored[gateway]
	if !inStatic && !inStored {
		return nil, fmt.Errorf("no configuration found for gateway: %s", gateway)
	}

	out := make(map[string]string, len(c.defaults)+len(static)+len(stored))
	maps.Copy(out, c.defaults)
	maps.Copy(out, static)
	maps.Copy(out, stored)
	return out, nil
}

// Set stores the credentials of gateway, replacing any earlier stored value
func (c *GatewayConfig) Set(gateway string, values map[string]string) error {
	if gateway == "" {
		return fmt.Errorf("gateway name cannot be empty")
	}
	if len(values) == 0 {
		return fmt.Errorf("config cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.SaveGatewayConfig(gateway, values); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	delete(c.stored, gateway)
	c.merge(c.stored, gateway, values)
	return nil
}

// Delete drops the stored credentials of gateway. Static values stay.
func (c *GatewayConfig) Delete(gateway string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.stored[gateway]; !ok {
		return fmt.Errorf("no stored configuration for gateway: %s", gateway)
	}
	if c.storage != nil {
		if err := c.storage.DeleteGatewayConfig(gateway); err != nil {
			return fmt.Errorf("failed to delete config: %w", err)
		}
	}
	delete(c.stored, gateway)
	return nil
}

// Gateways returns the sorted names that have any configuration
func (c *GatewayConfig) Gateways() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := slices.Collect(maps.Keys(c.static))
	for gw := range c.stored {
		if _, ok := c.static[gw]; !ok {
			names = append(names, gw)
		}
	}
	slices.Sort(names)
	return names
}
