package provider

import (
	"strings"
)

// Endpoint holds the production URL of an action and its path on the sandbox simulator
type Endpoint struct {
	Production string
	Sandbox    string
}

// Endpoints maps every logical action of a gateway to its hosts
type Endpoints map[Action]Endpoint

// Resolve returns the URL of action for env. Sandbox paths are joined to sandboxBase.
func (e Endpoints) Resolve(gateway string, env Environment, sandboxBase string, action Action) (string, error) {
	ep, ok := e[action]
	if !ok {
		return "", NewConfigurationError(gateway, OpResolve, "unknown action '%s'", action)
	}
	if env.IsProduction() {
		if ep.Production == "" {
			return "", NewConfigurationError(gateway, OpResolve, "action '%s' has no production endpoint", action)
		}
		return ep.Production, nil
	}
	if ep.Sandbox == "" {
		return "", NewConfigurationError(gateway, OpResolve, "action '%s' has no sandbox endpoint", action)
	}
	return joinURL(sandboxBase, ep.Sandbox), nil
}

// Actions returns the defined actions
func (e Endpoints) Actions() []Action {
	actions := make([]Action, 0, len(e))
	for a := range e {
		actions = append(actions, a)
	}
	return actions
}

func joinURL(base, path string) string {
	if base == "" {
		base = DefaultBankTestBaseURL
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
