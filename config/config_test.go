package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero fetch chunk",
			mutate: func(cfg *Config) {
				cfg.FetchChunkSize = 0
			},
			wantErr: "fetch chunk size",
		},
		{
			name: "zero download chunk",
			mutate: func(cfg *Config) {
				cfg.DownloadChunkSize = 0
			},
			wantErr: "download chunk size",
		},
		{
			name: "negative max downloads",
			mutate: func(cfg *Config) {
				cfg.MaxConcurrentDownloads = -2
			},
			wantErr: "max concurrent downloads",
		},
		{
			name: "quality out of range",
			mutate: func(cfg *Config) {
				cfg.EnhanceQuality = 101
			},
			wantErr: "enhance quality",
		},
		{
			name: "scale below one",
			mutate: func(cfg *Config) {
				cfg.EnhanceScale = 0
			},
			wantErr: "enhance scale",
		},
		{
			name: "scale above maximum",
			mutate: func(cfg *Config) {
				cfg.EnhanceScale = MaxEnhanceScale + 1
			},
			wantErr: "enhance scale",
		},
		{
			name: "unknown output format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "blank user agent",
			mutate: func(cfg *Config) {
				cfg.UserAgents = []string{"ok", "  "}
			},
			wantErr: "user agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.FetchChunkSize != 8192 || cfg.DownloadChunkSize != 1024 {
		t.Fatalf("chunk sizes = %d/%d, want 8192/1024", cfg.FetchChunkSize, cfg.DownloadChunkSize)
	}
}

func TestDefaultConfigSeeds(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Seeds) != len(DefaultSeeds) {
		t.Fatalf("seeds = %v, want %v", cfg.Seeds, DefaultSeeds)
	}
	for _, seed := range cfg.Seeds {
		if !strings.HasPrefix(seed, "https://") {
			t.Fatalf("default seed %q is not an https url", seed)
		}
	}

	cfg.Seeds[0] = "https://changed.test/"
	if DefaultSeeds[0] == "https://changed.test/" {
		t.Fatalf("DefaultConfig shares its seed slice with DefaultSeeds")
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	content := `
seeds:
  - https://example.com/gallery
parallelism: 2
timeout: 5s
progress_interval: 250ms
enhance: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}

	if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "https://example.com/gallery" {
		t.Fatalf("seeds = %v", cfg.Seeds)
	}
	if cfg.Parallelism != 2 {
		t.Fatalf("parallelism = %d, want 2", cfg.Parallelism)
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.ProgressInterval != 250*time.Millisecond {
		t.Fatalf("progress interval = %v, want 250ms", cfg.ProgressInterval)
	}
	if !cfg.Enhance {
		t.Fatalf("enhance should be true")
	}
	if cfg.DownloadChunkSize != 1024 {
		t.Fatalf("untouched key changed: download chunk size = %d", cfg.DownloadChunkSize)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HARVESTER_PARALLEL", "7")
	t.Setenv("HARVESTER_TIMEOUT", "3s")
	t.Setenv("HARVESTER_DEST", "/srv/images")
	t.Setenv("HARVESTER_USER_AGENTS", "agent-one | agent-two|")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Parallelism != 7 {
		t.Fatalf("parallelism = %d, want 7", cfg.Parallelism)
	}
	if cfg.Timeout != 3*time.Second {
		t.Fatalf("timeout = %v, want 3s", cfg.Timeout)
	}
	if cfg.DestinationDir != "/srv/images" {
		t.Fatalf("destination = %q", cfg.DestinationDir)
	}
	if len(cfg.UserAgents) != 2 || cfg.UserAgents[1] != "agent-two" {
		t.Fatalf("user agents = %v", cfg.UserAgents)
	}
}

func TestApplyEnvInvalidInt(t *testing.T) {
	t.Setenv("HARVESTER_PARALLEL", "many")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil || !strings.Contains(err.Error(), "HARVESTER_PARALLEL") {
		t.Fatalf("expected HARVESTER_PARALLEL error, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("HARVESTER_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("HARVESTER_TEST_DOTENV", "")
	os.Unsetenv("HARVESTER_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if got, _ := EnvString("HARVESTER_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("HARVESTER_TEST_DOTENV = %q, want from-file", got)
	}
}
