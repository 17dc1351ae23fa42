package config

import "strings"

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ReconnectPolicyName selects how market data connections pace reconnects.
type ReconnectPolicyName string

const (
	// PolicyImmediate reconnects without delay, indefinitely.
	PolicyImmediate ReconnectPolicyName = "immediate"
	// PolicyBackoff paces reconnects exponentially.
	PolicyBackoff ReconnectPolicyName = "backoff"
)

const (
	envAPIKey    = "BINANCE_API_KEY"
	envAPISecret = "BINANCE_API_SECRET"
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
