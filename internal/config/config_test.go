package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
app:
  name: "dorothea-test"
database:
  path: "test.db"
sync:
  drain_debounce: 150ms
api:
  enabled: true
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.App.Name != "dorothea-test" {
		t.Errorf("expected app name dorothea-test, got %s", cfg.App.Name)
	}
	if cfg.Sync.DrainDebounce != 150*time.Millisecond {
		t.Errorf("expected drain_debounce 150ms, got %s", cfg.Sync.DrainDebounce)
	}
	if cfg.Sync.ProbeInterval != 30*time.Second {
		t.Errorf("expected default probe interval, got %s", cfg.Sync.ProbeInterval)
	}
	if cfg.API.RateLimit.RPS != 10 {
		t.Errorf("expected default rate limit, got %v", cfg.API.RateLimit.RPS)
	}
}

func TestEnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("DOROTHEA_DB_PATH", filepath.Join(tmpDir, "env.db"))

	yamlContent := "database:\n  path: \"${DOROTHEA_DB_PATH}\"\n"
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.Path != filepath.Join(tmpDir, "env.db") {
		t.Errorf("env var not expanded: %s", cfg.Database.Path)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{Database: DatabaseConfig{Path: "path"}},
			wantErr: false,
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "credentials without calendar id",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Google:   GoogleConfig{CredentialsFile: "creds.json"},
			},
			wantErr: true,
		},
		{
			name: "api enabled without port",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				API:      APIConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
