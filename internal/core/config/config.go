// Package config provides configuration management for formkeeper services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full formkeeper configuration.
type Config struct {
	Server  ServerConfig
	Form    FormConfig
	Logging LoggingConfig
}

// ServerConfig holds configuration for the gRPC and HTTP form API.
type ServerConfig struct {
	Host           string
	GRPCPort       int
	HTTPPort       int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	DataDir        string
	SchemaDir      string
	WatchSchemas   bool
}

// FormConfig holds defaults applied to every form built by the API.
type FormConfig struct {
	TemplateOpen        string
	TemplateClose       string
	Triggers            string
	ValidateAllOnSubmit bool
	Values              map[string]any // exposed to expressions as config
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string
	Format string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			GRPCPort:       50051,
			HTTPPort:       8080,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   1 << 20,
			DataDir:        "./data",
			SchemaDir:      "./schemas",
			WatchSchemas:   true,
		},
		Form: FormConfig{
			TemplateOpen:        "${",
			TemplateClose:       "}",
			Triggers:            "input,change,blur",
			ValidateAllOnSubmit: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports FK_HMAC_SECRET (single) and FK_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check FK_HMAC_SECRET and FK_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("FK_HMAC_SECRET"); val != "" {
		if err := add("FK_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation.
	for i := 1; ; i++ {
		key := fmt.Sprintf("FK_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if !IsSecretID(secretID) {
		return "", nil, fmt.Errorf("secret_id must be 32 lowercase hex chars (UUIDv7 without hyphens)")
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}

// IsSecretID reports whether s is 32 lowercase hex chars.
func IsSecretID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
