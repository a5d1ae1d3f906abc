// Package config provides configuration parsing and validation for
// Excalibur Server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Server     ServerConfig     `yaml:"server"`
	Management ManagementConfig `yaml:"management"`
	SRP        SRPConfig        `yaml:"srp"`
	E2EE       E2EEConfig       `yaml:"e2ee"`
	PoP        PoPConfig        `yaml:"pop"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`

	SessionDuration time.Duration `yaml:"session_duration"`
	VaultFolder     string        `yaml:"vault_folder"`
	DatabaseFile    string        `yaml:"database_file"`

	// ServerSecret is the hex-encoded process-wide secret every per-user
	// JWT signing subkey is derived from (spec.md §3). Leave empty to have
	// the server draw a fresh random secret at startup; set it explicitly
	// only if bearer tokens must remain valid across a restart.
	ServerSecret string `yaml:"server_secret,omitempty"`

	// Debug, EncryptResponses and HMACEnabled are process-wide flags read
	// once at startup from EXCALIBUR_SERVER_DEBUG,
	// EXCALIBUR_SERVER_ENCRYPT_RESPONSES and EXCALIBUR_SERVER_HMAC_ENABLED.
	// They are never read from the YAML file itself.
	Debug            bool `yaml:"-"`
	EncryptResponses bool `yaml:"-"`
	HMACEnabled      bool `yaml:"-"`
}

// AgentConfig contains process-wide logging settings.
type AgentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// ServerConfig contains HTTP listen settings.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// ManagementConfig holds the out-of-band account-creation-key pair: an
// X25519 sealed-box key pair. Whoever creates accounts seals an envelope to
// the public half; the server opens it with the private half.
type ManagementConfig struct {
	// PublicKey is the account-creation-key encryption public key
	// (hex-encoded, 64 characters).
	PublicKey string `yaml:"public_key"`

	// PrivateKey is the matching private key (hex-encoded, 64 characters).
	// /api/users/add opens sealed account-creation envelopes only when both
	// PublicKey and PrivateKey are set; with the public key alone the route
	// answers 503.
	PrivateKey string `yaml:"private_key"`
}

// KeySize is the size of X25519 keys in bytes.
const KeySize = 32

// HasManagementKey returns true if account-creation sealing is configured.
func (c *Config) HasManagementKey() bool {
	return c.Management.PublicKey != ""
}

// GetManagementPublicKey returns the parsed account-creation public key.
func (c *Config) GetManagementPublicKey() ([KeySize]byte, error) {
	return decodeHexKey(c.Management.PublicKey, "management public key")
}

// GetManagementPrivateKey returns the parsed account-creation private key.
func (c *Config) GetManagementPrivateKey() ([KeySize]byte, error) {
	return decodeHexKey(c.Management.PrivateKey, "management private key")
}

// CanDecryptManagement returns true if the private key half is configured.
func (c *Config) CanDecryptManagement() bool {
	return c.Management.PrivateKey != ""
}

func decodeHexKey(s, label string) ([KeySize]byte, error) {
	var key [KeySize]byte
	if s == "" {
		return key, fmt.Errorf("%s not configured", label)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid %s hex: %w", label, err)
	}
	if len(decoded) != KeySize {
		return key, fmt.Errorf("%s must be %d bytes, got %d", label, KeySize, len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

// SRPConfig selects the RFC 5054 group new and existing accounts negotiate
// against.
type SRPConfig struct {
	Group string `yaml:"group"` // "small", "medium", "large" (or "1024"/"1536"/"2048")
}

// E2EEConfig tunes the session-master-key cache (spec.md §4.D).
type E2EEConfig struct {
	CommCacheSize int `yaml:"comm_cache_size"`
}

// PoPConfig tunes the Proof-of-Possession nonce cache and clock-skew
// window (spec.md §4.E).
type PoPConfig struct {
	NonceCacheSize    int           `yaml:"nonce_cache_size"`
	TimestampValidity time.Duration `yaml:"timestamp_validity"`
}

// RateLimitConfig configures the per-address token-bucket limiter the
// server glue runs ahead of the encryption middleware.
type RateLimitConfig struct {
	Capacity   int     `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
}

// Default returns a configuration with the system's default policy,
// suitable for local development.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Address:      ":8443",
			AllowOrigins: []string{},
		},
		SRP: SRPConfig{
			Group: "medium",
		},
		E2EE: E2EEConfig{
			CommCacheSize: 10000,
		},
		PoP: PoPConfig{
			NonceCacheSize:    100000,
			TimestampValidity: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity:   20,
			RefillRate: 5,
		},
		SessionDuration:  1 * time.Hour,
		VaultFolder:      "./data/vault",
		DatabaseFile:     "./data/users.db",
		EncryptResponses: true,
		HMACEnabled:      true,
	}
}

// Load reads and parses a configuration file, then applies the
// process-wide environment flags on top of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvFlags()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// applyEnvFlags reads the process-wide debug/encryption toggles from the
// environment. These are deliberately kept separate from the YAML-driven
// ${VAR} expansion above: they are boolean feature switches, not config
// values a deployer templates into the file.
func (c *Config) applyEnvFlags() {
	c.Debug = boolEnv("EXCALIBUR_SERVER_DEBUG", c.Debug)
	c.EncryptResponses = boolEnv("EXCALIBUR_SERVER_ENCRYPT_RESPONSES", c.EncryptResponses)
	c.HMACEnabled = boolEnv("EXCALIBUR_SERVER_HMAC_ENABLED", c.HMACEnabled)
}

func boolEnv(name string, fallback bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return fallback
	}
}

// ResolveServerSecret returns the process-wide secret the JWT
// signing-subkey derivation uses. If c.ServerSecret is unset, a fresh
// 32-byte secret is drawn from crypto/rand; it does not persist across
// restarts unless the caller configures server_secret explicitly, which
// matches the "cache is per-process" non-goal in spec.md §1 (tokens issued
// by a previous process instance are not expected to outlive it either).
func (c *Config) ResolveServerSecret() ([]byte, error) {
	if c.ServerSecret == "" {
		secret := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return nil, fmt.Errorf("generate server secret: %w", err)
		}
		return secret, nil
	}
	secret, err := hex.DecodeString(c.ServerSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid server_secret hex: %w", err)
	}
	return secret, nil
}

// Validate checks the configuration for errors, accumulating every
// violation before returning rather than failing on the first one.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Agent.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid agent.log_level: %s (must be debug, info, warn, or error)", c.Agent.LogLevel))
	}
	if !isValidLogFormat(c.Agent.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid agent.log_format: %s (must be text or json)", c.Agent.LogFormat))
	}

	if c.Server.Address == "" {
		errs = append(errs, "server.address is required")
	}

	if !isValidSRPGroup(c.SRP.Group) {
		errs = append(errs, fmt.Sprintf("invalid srp.group: %s (must be small, medium, or large)", c.SRP.Group))
	}

	if c.E2EE.CommCacheSize < 1 {
		errs = append(errs, "e2ee.comm_cache_size must be positive")
	}

	if c.PoP.NonceCacheSize < 1 {
		errs = append(errs, "pop.nonce_cache_size must be positive")
	}
	if c.PoP.TimestampValidity <= 0 {
		errs = append(errs, "pop.timestamp_validity must be positive")
	}

	if c.RateLimit.Capacity < 1 {
		errs = append(errs, "rate_limit.capacity must be positive")
	}
	if c.RateLimit.RefillRate <= 0 {
		errs = append(errs, "rate_limit.refill_rate must be positive")
	}

	if c.SessionDuration <= 0 {
		errs = append(errs, "session_duration must be positive")
	}
	if c.VaultFolder == "" {
		errs = append(errs, "vault_folder is required")
	}
	if c.DatabaseFile == "" {
		errs = append(errs, "database_file is required")
	}

	if err := c.validateManagementKeys(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.ServerSecret != "" {
		if _, err := hex.DecodeString(c.ServerSecret); err != nil {
			errs = append(errs, fmt.Sprintf("server_secret: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateManagementKeys() error {
	if c.Management.PublicKey == "" {
		if c.Management.PrivateKey != "" {
			return fmt.Errorf("management.private_key requires management.public_key to be set")
		}
		return nil
	}
	if _, err := c.GetManagementPublicKey(); err != nil {
		return fmt.Errorf("management.public_key: %w", err)
	}
	if c.Management.PrivateKey != "" {
		if _, err := c.GetManagementPrivateKey(); err != nil {
			return fmt.Errorf("management.private_key: %w", err)
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidSRPGroup(group string) bool {
	switch group {
	case "small", "medium", "large", "1024", "1536", "2048":
		return true
	default:
		return false
	}
}

// String returns a YAML representation with sensitive values redacted,
// safe to log.
func (c *Config) String() string {
	redacted := c.Redacted()
	data, _ := yaml.Marshal(redacted)
	return string(data)
}

// StringUnsafe returns a YAML representation including sensitive values.
// Never log the output of this method.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a deep copy of the config with sensitive values
// redacted, safe to log or display to users.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}
	redacted.Debug, redacted.EncryptResponses, redacted.HMACEnabled = c.Debug, c.EncryptResponses, c.HMACEnabled

	if redacted.Management.PrivateKey != "" {
		redacted.Management.PrivateKey = redactedValue
	}
	if redacted.ServerSecret != "" {
		redacted.ServerSecret = redactedValue
	}

	return redacted
}

// HasSensitiveData returns true if the config contains any sensitive data.
func (c *Config) HasSensitiveData() bool {
	return c.Management.PrivateKey != "" || c.ServerSecret != ""
}
