package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the base server configuration.
//
// Values come from environment variables with defaults; an optional
// carillon.yaml inside the config directory overrides them so an
// installation can be moved without re-exporting its environment.
type Config struct {
	Host                string
	Port                string
	ConfigDir           string
	MP3Dir              string
	SessionSecret       string
	SessionExpirySec    int
	HTTPTimeoutSec      int
	LookaheadLimitDays  int
	HolidayCacheExpiryD int
}

type yamlOverrides struct {
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	MP3Dir             string `yaml:"mp3_dir"`
	SessionSecret      string `yaml:"session_secret"`
	SessionExpirySec   int    `yaml:"session_expiry_seconds"`
	HTTPTimeoutSec     int    `yaml:"http_timeout_seconds"`
	LookaheadLimitDays int    `yaml:"lookahead_limit_days"`
}

// Load reads configuration from environment variables, applies carillon.yaml
// overrides, and verifies the filesystem preconditions. A config directory
// that cannot be written to, or a missing MP3 directory, is fatal.
func Load() (Config, error) {
	cfg := Config{
		Host:                envString("HOST", "0.0.0.0"),
		Port:                envString("PORT", "8090"),
		ConfigDir:           envString("CARILLON_CONFIG_DIR", "./data/config"),
		MP3Dir:              envString("CARILLON_MP3_DIR", "./data/mp3"),
		SessionSecret:       envString("SESSION_SECRET", ""),
		SessionExpirySec:    envInt("SESSION_EXPIRY_SECONDS", 43200),
		HTTPTimeoutSec:      envInt("HTTP_TIMEOUT_SECONDS", 20),
		LookaheadLimitDays:  envInt("LOOKAHEAD_LIMIT_DAYS", 60),
		HolidayCacheExpiryD: 7,
	}

	if err := cfg.applyYAML(filepath.Join(cfg.ConfigDir, "carillon.yaml")); err != nil {
		return Config{}, err
	}

	if len(strings.TrimSpace(cfg.SessionSecret)) < 32 {
		return Config{}, fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	if err := checkWritableDir(cfg.ConfigDir); err != nil {
		return Config{}, fmt.Errorf("config directory: %w", err)
	}
	if info, err := os.Stat(cfg.MP3Dir); err != nil || !info.IsDir() {
		return Config{}, fmt.Errorf("MP3 directory missing or not a directory: %s", cfg.MP3Dir)
	}
	return cfg, nil
}

func (cfg *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	var over yamlOverrides
	if err := yaml.Unmarshal(data, &over); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if over.Host != "" {
		cfg.Host = over.Host
	}
	if over.Port != "" {
		cfg.Port = over.Port
	}
	if over.MP3Dir != "" {
		cfg.MP3Dir = over.MP3Dir
	}
	if over.SessionSecret != "" {
		cfg.SessionSecret = over.SessionSecret
	}
	if over.SessionExpirySec > 0 {
		cfg.SessionExpirySec = over.SessionExpirySec
	}
	if over.HTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = over.HTTPTimeoutSec
	}
	if over.LookaheadLimitDays > 0 {
		cfg.LookaheadLimitDays = over.LookaheadLimitDays
	}
	return nil
}

// checkWritableDir creates the directory if needed and probes writability.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write_probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(probe)
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
