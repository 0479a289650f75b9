// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds engine configuration.
type Config struct {
	ClaimSwitchURL  string
	PDMPProviderURL string
	// RegistryURLs maps a two-letter state code to its IIS endpoint,
	// collected from REGISTRY_URL_<STATE> variables.
	RegistryURLs      map[string]string
	SuggestorProvider string
	DBURL             string
	// RedisURL enables the shared inventory snapshot cache; empty
	// keeps snapshots process-local.
	RedisURL       string
	ClockSkewMaxMS int
	AuditSink      string
	LogLevel       string
}

// Load reads configuration from environment variables, with local
// defaults where a missing value is safe.
func Load() *Config {
	cfg := &Config{
		ClaimSwitchURL:    getenv("CLAIM_SWITCH_URL", "http://localhost:9551/ncpdp"),
		PDMPProviderURL:   getenv("PDMP_PROVIDER_URL", "http://localhost:9552/pdmp"),
		SuggestorProvider: getenv("SUGGESTOR_PROVIDER", "none"),
		DBURL:             getenv("DB_URL", "file:rxengine.db?mode=rwc"),
		RedisURL:          os.Getenv("REDIS_URL"),
		AuditSink:         getenv("AUDIT_SINK", "stdout"),
		LogLevel:          getenv("LOG_LEVEL", "INFO"),
		RegistryURLs:      make(map[string]string),
		ClockSkewMaxMS:    5000,
	}

	if v := os.Getenv("CLOCK_SKEW_MAX_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.ClockSkewMaxMS = ms
		}
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if state, found := strings.CutPrefix(name, "REGISTRY_URL_"); found && len(state) == 2 {
			cfg.RegistryURLs[strings.ToUpper(state)] = value
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
