package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds scraper and downloader configuration.
type Config struct {
	Seeds                  []string      `yaml:"seeds"`
	Parallelism            int           `yaml:"parallelism"`
	Timeout                time.Duration `yaml:"timeout"`
	FetchChunkSize         int           `yaml:"fetch_chunk_size"`
	DownloadChunkSize      int           `yaml:"download_chunk_size"`
	UserAgents             []string      `yaml:"user_agents"`
	ProgressInterval       time.Duration `yaml:"progress_interval"`
	DestinationDir         string        `yaml:"destination_dir"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	DirLockCacheSize       int           `yaml:"dir_lock_cache_size"`
	Enhance                bool          `yaml:"enhance"`
	EnhanceQuality         int           `yaml:"enhance_quality"`
	EnhanceScale           int           `yaml:"enhance_scale"`
	OutputFile             string        `yaml:"output_file"`
	OutputFormat           string        `yaml:"output_format"` // csv, json, or dual
	PipelineBufferSize     int           `yaml:"pipeline_buffer_size"`
	BatchSize              int           `yaml:"batch_size"`
	MetricsAddr            string        `yaml:"metrics_addr"`
	Verbose                bool          `yaml:"verbose"`
}

// MaxEnhanceScale caps the upscale factor applied by the enhancer.
const MaxEnhanceScale = 8

// DefaultSeeds are scraped when neither arguments nor configuration name any
// pages.
var DefaultSeeds = []string{
	"https://wallpapercave.com/no-copyright-wallpapers",
	"https://wallpapersafari.com/non-copyrighted-wallpapers/",
	"https://wallpapers.com/non-copyrighted-background",
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Seeds:                  append([]string(nil), DefaultSeeds...),
		Parallelism:            4,
		Timeout:                10 * time.Second,
		FetchChunkSize:         8 * 1024,
		DownloadChunkSize:      1024,
		ProgressInterval:       100 * time.Millisecond,
		DestinationDir:         ".",
		MaxConcurrentDownloads: 0,
		DirLockCacheSize:       256,
		Enhance:                false,
		EnhanceQuality:         95,
		EnhanceScale:           1,
		OutputFile:             "",
		OutputFormat:           "csv",
		PipelineBufferSize:     512,
		BatchSize:              64,
		MetricsAddr:            "",
		Verbose:                false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.FetchChunkSize <= 0 {
		return fmt.Errorf("fetch chunk size must be positive")
	}
	if c.DownloadChunkSize <= 0 {
		return fmt.Errorf("download chunk size must be positive")
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}
	if c.MaxConcurrentDownloads < 0 {
		return fmt.Errorf("max concurrent downloads cannot be negative")
	}
	if c.DirLockCacheSize <= 0 {
		return fmt.Errorf("dir lock cache size must be positive")
	}
	if c.EnhanceQuality < 1 || c.EnhanceQuality > 100 {
		return fmt.Errorf("enhance quality must be between 1 and 100")
	}
	if c.EnhanceScale < 1 || c.EnhanceScale > MaxEnhanceScale {
		return fmt.Errorf("enhance scale must be between 1 and %d", MaxEnhanceScale)
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	for _, agent := range c.UserAgents {
		if strings.TrimSpace(agent) == "" {
			return fmt.Errorf("user agent cannot be empty")
		}
	}
	return nil
}

// LoadFile overlays values from a YAML file onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// ApplyEnv overlays HARVESTER_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if value, ok, err := EnvInt("HARVESTER_PARALLEL"); err != nil {
		return err
	} else if ok {
		c.Parallelism = value
	}
	if value, ok, err := EnvInt("HARVESTER_MAX_DOWNLOADS"); err != nil {
		return err
	} else if ok {
		c.MaxConcurrentDownloads = value
	}
	if value, ok := EnvString("HARVESTER_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("HARVESTER_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if value, ok := EnvString("HARVESTER_DEST"); ok {
		c.DestinationDir = value
	}
	if value, ok := EnvString("HARVESTER_OUTPUT"); ok {
		c.OutputFile = value
	}
	if value, ok := EnvString("HARVESTER_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	if value, ok := EnvString("HARVESTER_USER_AGENTS"); ok {
		var agents []string
		for _, agent := range strings.Split(value, "|") {
			if agent = strings.TrimSpace(agent); agent != "" {
				agents = append(agents, agent)
			}
		}
		c.UserAgents = agents
	}
	return nil
}
