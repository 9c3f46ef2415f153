package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Host != "https://stream.driftflag.io" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.BootstrapStrategy != BootstrapStrategyStream {
		t.Errorf("BootstrapStrategy = %q", cfg.BootstrapStrategy)
	}
	if cfg.BootstrapTimeout != 15*time.Second {
		t.Errorf("BootstrapTimeout = %v", cfg.BootstrapTimeout)
	}
	if cfg.MaxStreamRetries != 10 {
		t.Errorf("MaxStreamRetries = %d", cfg.MaxStreamRetries)
	}
	if cfg.HTTPClient == nil {
		t.Error("HTTPClient should default to http.DefaultClient")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftflag.yaml")
	content := `
host: https://flags.internal.example
sdk_key: sdk-key-1
environment: staging
bootstrap_strategy: fetch
bootstrap_timeout: 3s
vault_enabled: true
vault_bucket: my-snapshots
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Host != "https://flags.internal.example" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.SDKKey != "sdk-key-1" {
		t.Errorf("SDKKey = %q", cfg.SDKKey)
	}
	if cfg.Environment != "staging" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.BootstrapStrategy != BootstrapStrategyFetch {
		t.Errorf("BootstrapStrategy = %q", cfg.BootstrapStrategy)
	}
	if cfg.BootstrapTimeout != 3*time.Second {
		t.Errorf("BootstrapTimeout = %v", cfg.BootstrapTimeout)
	}
	if !cfg.VaultEnabled || cfg.VaultBucket != "my-snapshots" {
		t.Errorf("vault config = %v/%q", cfg.VaultEnabled, cfg.VaultBucket)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	// sdk_key, project_id and vault_bucket have no defaults, so they
	// only come through if env binding works for defaultless keys.
	t.Setenv("DRIFTFLAG_SDK_KEY", "env-key")
	t.Setenv("DRIFTFLAG_ENVIRONMENT", "development")
	t.Setenv("DRIFTFLAG_PROJECT_ID", "proj-env")
	t.Setenv("DRIFTFLAG_VAULT_BUCKET", "env-snapshots")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SDKKey != "env-key" {
		t.Errorf("SDKKey = %q, want env-key", cfg.SDKKey)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.ProjectID != "proj-env" {
		t.Errorf("ProjectID = %q, want proj-env", cfg.ProjectID)
	}
	if cfg.VaultBucket != "env-snapshots" {
		t.Errorf("VaultBucket = %q, want env-snapshots", cfg.VaultBucket)
	}
}

func TestOptions(t *testing.T) {
	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithHost("https://flags.internal.example"),
		WithSDKKey("sdk-key-1"),
		WithEnvironment("staging"),
		WithProjectID("proj-1"),
		WithBootstrapStrategy(BootstrapStrategyFallback),
		WithBootstrapTimeout(5 * time.Second),
		WithMaxStreamRetries(3),
		WithOverrideSecret("0123456789abcdef0123456789abcdef"),
		WithVaultBucket("my-snapshots"),
		WithVaultRegion("eu-west-1"),
	} {
		opt(cfg)
	}

	if cfg.Host != "https://flags.internal.example" || cfg.SDKKey != "sdk-key-1" {
		t.Errorf("host/key = %q/%q", cfg.Host, cfg.SDKKey)
	}
	if cfg.BootstrapStrategy != BootstrapStrategyFallback || cfg.BootstrapTimeout != 5*time.Second {
		t.Errorf("bootstrap = %q/%v", cfg.BootstrapStrategy, cfg.BootstrapTimeout)
	}
	if cfg.MaxStreamRetries != 3 {
		t.Errorf("MaxStreamRetries = %d", cfg.MaxStreamRetries)
	}
	if !cfg.VaultEnabled {
		t.Error("WithVaultBucket should enable the vault")
	}
	if cfg.VaultRegion != "eu-west-1" {
		t.Errorf("VaultRegion = %q", cfg.VaultRegion)
	}
}
