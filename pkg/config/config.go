package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BootstrapStrategy defines how the client obtains its first datafile.
type BootstrapStrategy string

const (
	// BootstrapStrategyStream waits for the first datafile on the stream.
	BootstrapStrategyStream BootstrapStrategy = "stream"
	// BootstrapStrategyFetch performs a one-shot datafile fetch.
	BootstrapStrategyFetch BootstrapStrategy = "fetch"
	// BootstrapStrategyVault loads the last-known snapshot from S3.
	BootstrapStrategyVault BootstrapStrategy = "vault"
	// BootstrapStrategyFallback tries stream, then fetch, then vault.
	BootstrapStrategyFallback BootstrapStrategy = "fallback"
)

// Config holds the client configuration. Construct it once at startup and
// pass it by reference; there is no ambient global configuration.
type Config struct {
	Host              string            `mapstructure:"host"`
	SDKKey            string            `mapstructure:"sdk_key"`
	Environment       string            `mapstructure:"environment"`
	ProjectID         string            `mapstructure:"project_id"`
	BootstrapStrategy BootstrapStrategy `mapstructure:"bootstrap_strategy"`
	BootstrapTimeout  time.Duration     `mapstructure:"bootstrap_timeout"`
	MaxStreamRetries  int               `mapstructure:"max_stream_retries"`
	HTTPClient        *http.Client      `mapstructure:"-"` // Cannot be configured via yaml/env

	// Override configuration
	OverrideSecret     string `mapstructure:"override_secret"`
	OverrideCookieName string `mapstructure:"override_cookie_name"`

	// Service-account auth (instead of a static SDK key)
	AuthPrivateKeyPath string `mapstructure:"auth_private_key_path"`
	AuthServiceAccount string `mapstructure:"auth_service_account"`
	AuthKeyID          string `mapstructure:"auth_key_id"`

	// Vault (S3 snapshot fallback) configuration
	VaultEnabled   bool   `mapstructure:"vault_enabled"`
	VaultBucket    string `mapstructure:"vault_bucket"`
	VaultPrefix    string `mapstructure:"vault_prefix"`
	VaultRegion    string `mapstructure:"vault_region"`
	VaultEndpoint  string `mapstructure:"vault_endpoint"`
	VaultPathStyle bool   `mapstructure:"vault_path_style"`
}

// LoadConfig loads configuration from a YAML file and environment
// variables (prefix DRIFTFLAG).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("driftflag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DRIFTFLAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only walks keys viper already knows about, so keys
	// without defaults must be bound explicitly to be read from the
	// environment.
	for _, key := range []string{
		"host", "sdk_key", "environment", "project_id",
		"bootstrap_strategy", "bootstrap_timeout", "max_stream_retries",
		"override_secret", "override_cookie_name",
		"auth_private_key_path", "auth_service_account", "auth_key_id",
		"vault_enabled", "vault_bucket", "vault_prefix", "vault_region",
		"vault_endpoint", "vault_path_style",
	} {
		v.MustBindEnv(key)
	}

	v.SetDefault("host", "https://stream.driftflag.io")
	v.SetDefault("environment", "production")
	v.SetDefault("bootstrap_strategy", string(BootstrapStrategyStream))
	v.SetDefault("bootstrap_timeout", "15s")
	v.SetDefault("max_stream_retries", 10)
	v.SetDefault("vault_enabled", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found is fine, we just rely on defaults/env vars
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Manual handling for HTTPClient as it's not serializable
	config.HTTPClient = http.DefaultClient

	return &config, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:              "https://stream.driftflag.io",
		Environment:       "production",
		BootstrapStrategy: BootstrapStrategyStream,
		BootstrapTimeout:  15 * time.Second,
		MaxStreamRetries:  10,
		HTTPClient:        http.DefaultClient,
	}
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithHost sets the config-distribution host.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithSDKKey sets the SDK key used as the bearer token.
func WithSDKKey(key string) Option {
	return func(c *Config) {
		c.SDKKey = key
	}
}

// WithEnvironment sets the environment name flags are evaluated against.
func WithEnvironment(environment string) Option {
	return func(c *Config) {
		c.Environment = environment
	}
}

// WithProjectID sets the expected project ID.
func WithProjectID(id string) Option {
	return func(c *Config) {
		c.ProjectID = id
	}
}

// WithBootstrapStrategy sets the bootstrap strategy.
func WithBootstrapStrategy(strategy BootstrapStrategy) Option {
	return func(c *Config) {
		c.BootstrapStrategy = strategy
	}
}

// WithBootstrapTimeout bounds how long New waits for the first datafile.
func WithBootstrapTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.BootstrapTimeout = timeout
	}
}

// WithMaxStreamRetries sets the stream retry budget before first data.
func WithMaxStreamRetries(retries int) Option {
	return func(c *Config) {
		c.MaxStreamRetries = retries
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithOverrideSecret sets the secret for decrypting override cookies.
func WithOverrideSecret(secret string) Option {
	return func(c *Config) {
		c.OverrideSecret = secret
	}
}

// WithOverrideCookieName sets the override cookie name.
func WithOverrideCookieName(name string) Option {
	return func(c *Config) {
		c.OverrideCookieName = name
	}
}

// WithServiceAccountAuth configures JWT-based service-account auth.
func WithServiceAccountAuth(privateKeyPath, serviceAccount, keyID string) Option {
	return func(c *Config) {
		c.AuthPrivateKeyPath = privateKeyPath
		c.AuthServiceAccount = serviceAccount
		c.AuthKeyID = keyID
	}
}

// WithVaultBucket sets the S3 bucket for snapshot fallback and enables it.
func WithVaultBucket(bucket string) Option {
	return func(c *Config) {
		c.VaultBucket = bucket
		c.VaultEnabled = true
	}
}

// WithVaultPrefix sets the object prefix for snapshots.
func WithVaultPrefix(prefix string) Option {
	return func(c *Config) {
		c.VaultPrefix = prefix
	}
}

// WithVaultRegion sets the AWS region for the snapshot bucket.
func WithVaultRegion(region string) Option {
	return func(c *Config) {
		c.VaultRegion = region
	}
}

// WithVaultEndpoint sets a custom S3 endpoint (e.g. for MinIO).
func WithVaultEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.VaultEndpoint = endpoint
	}
}

// WithVaultPathStyle sets whether to use path-style S3 access.
func WithVaultPathStyle(enabled bool) Option {
	return func(c *Config) {
		c.VaultPathStyle = enabled
	}
}

// WithConfig replaces the configuration with the provided one.
func WithConfig(cfg *Config) Option {
	return func(c *Config) {
		*c = *cfg
	}
}
