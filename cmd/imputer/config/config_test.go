package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "environment variable set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "from-env",
			want:         "from-env",
		},
		{
			name:         "environment variable not set",
			key:          "NONEXISTENT_VAR",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{name: "valid integer", key: "TEST_INT", defaultValue: 10, envValue: "42", want: 42},
		{name: "invalid integer", key: "TEST_INT", defaultValue: 10, envValue: "not-a-number", want: 10},
		{name: "not set", key: "NONEXISTENT_INT", defaultValue: 99, envValue: "", want: 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if got := getEnvDuration("TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("NONEXISTENT_DUR", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() = %v, want 1m", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue string
		want     bool
	}{
		{"true", true},
		{"1", true},
		{"false", false},
		{"yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", false); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseSourceConfig(t *testing.T) {
	t.Setenv("SOURCE_PATH", "/data/in.csv")
	t.Setenv("SOURCE_COLUMNS_PATH", "columns")
	t.Setenv("SOURCE_HEADER_AUTHORIZATION", "Bearer x")
	t.Setenv("SOURCE_VAR_TENANT", "acme")

	got := parseSourceConfig()
	want := map[string]string{
		"path":                 "/data/in.csv",
		"columns_path":         "columns",
		"header.authorization": "Bearer x",
		"var.tenant":           "acme",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("source config[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:       "csv",
			SourceConfig: map[string]string{"path": "in.csv"},
			Output:       "out.csv",
			BatchSize:    10000,
			Storage:      "memory",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown source", mutate: func(c *Config) { c.Source = "ftp" }, wantErr: true},
		{name: "csv without path", mutate: func(c *Config) { delete(c.SourceConfig, "path") }, wantErr: true},
		{name: "http without path", mutate: func(c *Config) { c.Source = "http"; delete(c.SourceConfig, "path") }},
		{name: "missing output", mutate: func(c *Config) { c.Output = "" }, wantErr: true},
		{name: "zero batch size", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -1 }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = "s3" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen: ":9000"
batch_size: 500
enforce_monotonicity: false
redis_ttl: 2h
source_config:
  path: /data/from-file.csv
  page_size: "200"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg := &Config{
		Listen:              ":8085",
		BatchSize:           10000,
		EnforceMonotonicity: true,
		RedisTTL:            24 * time.Hour,
		SourceConfig:        map[string]string{"page_size": "50"},
	}
	if err := cfg.applyFile(path); err != nil {
		t.Fatalf("applyFile: %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q, want :9000", cfg.Listen)
	}
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.EnforceMonotonicity {
		t.Error("EnforceMonotonicity should be false")
	}
	if cfg.RedisTTL != 2*time.Hour {
		t.Errorf("RedisTTL = %v, want 2h", cfg.RedisTTL)
	}
	if cfg.SourceConfig["path"] != "/data/from-file.csv" {
		t.Errorf("source path = %q", cfg.SourceConfig["path"])
	}
	// Environment-derived entries win over file entries.
	if cfg.SourceConfig["page_size"] != "50" {
		t.Errorf("page_size = %q, want 50", cfg.SourceConfig["page_size"])
	}
}

func TestApplyFileEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \":9000\"\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("LISTEN", ":7000")
	cfg := &Config{Listen: ":7000", SourceConfig: map[string]string{}}
	if err := cfg.applyFile(path); err != nil {
		t.Fatalf("applyFile: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000 (env should win)", cfg.Listen)
	}
}

func TestApplyFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg := &Config{SourceConfig: map[string]string{}}
	if err := cfg.applyFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
