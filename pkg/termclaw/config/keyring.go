// Package config – keyring.go stores the gateway auth token in the operating
// system's native keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager) instead of plaintext config.
//
// Resolution priority: OS keyring, then TERMCLAW_GATEWAY_TOKEN, then the
// config.yaml value (least secure).
package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	keyringService      = "termclaw"
	keyringGatewayToken = "gateway_token"
)

// StoreGatewayToken saves the gateway auth token to the OS keyring.
func StoreGatewayToken(token string) error {
	return keyring.Set(keyringService, keyringGatewayToken, token)
}

// LoadGatewayToken retrieves the gateway auth token from the OS keyring.
// Returns empty string if not found.
func LoadGatewayToken() string {
	val, err := keyring.Get(keyringService, keyringGatewayToken)
	if err != nil {
		return ""
	}
	return val
}

// DeleteGatewayToken removes the gateway auth token from the OS keyring.
func DeleteGatewayToken() error {
	return keyring.Delete(keyringService, keyringGatewayToken)
}

// KeyringAvailable checks if the OS keyring is accessible by doing a
// write+delete cycle with a test key.
func KeyringAvailable() bool {
	const testKey = "__termclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveGatewayToken fills in the gateway auth token from the keyring or
// the environment when the config value is empty or an unresolved reference.
func ResolveGatewayToken(cfg *Config, logger *slog.Logger) {
	if cfg.Gateway.AuthToken != "" && !IsEnvReference(cfg.Gateway.AuthToken) {
		return
	}
	if val := LoadGatewayToken(); val != "" {
		cfg.Gateway.AuthToken = val
		logger.Debug("gateway token loaded from OS keyring")
		return
	}
	if val := os.Getenv("TERMCLAW_GATEWAY_TOKEN"); val != "" {
		cfg.Gateway.AuthToken = val
		logger.Debug("gateway token loaded from environment")
		return
	}
	cfg.Gateway.AuthToken = ""
}
