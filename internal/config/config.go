package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load,
// e.g. TERMLIST_LISTEN_ADDR.
const EnvPrefix = "TERMLIST"

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" toml:"listen_addr"`
	DatabasePath string `envconfig:"DATABASE_PATH" toml:"database_path"`
	LogPath      string `envconfig:"LOG_PATH" toml:"log_path"`
	LogLevel     string `envconfig:"LOG_LEVEL" toml:"log_level"`

	// Shell settings
	Shell        string `envconfig:"SHELL_PATH" toml:"shell"`
	WorkspaceDir string `envconfig:"WORKSPACE_DIR" toml:"workspace_dir"`
	FallbackDir  string `envconfig:"FALLBACK_DIR" toml:"fallback_dir"`
	Locale       string `envconfig:"LOCALE" toml:"locale"`

	// Terminal session settings
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" toml:"history_limit"`
	OutboundQueue   int           `envconfig:"OUTBOUND_QUEUE" toml:"outbound_queue"`
	LivenessPeriod  time.Duration `envconfig:"LIVENESS_PERIOD" toml:"liveness_period"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" toml:"shutdown_timeout"`

	// Auth settings
	AuthDisabled      bool          `envconfig:"AUTH_DISABLED" toml:"auth_disabled"`
	AuthRequired      bool          `envconfig:"AUTH_REQUIRED" toml:"auth_required"`
	AnonymousIdentity string        `envconfig:"ANONYMOUS_IDENTITY" toml:"anonymous_identity"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" toml:"token_ttl"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" toml:"cors_origins"`
	// StaticDir holds the built front end; empty disables static serving.
	StaticDir string `envconfig:"STATIC_DIR" toml:"static_dir"`

	// Retention job settings
	RetentionSchedule string        `envconfig:"RETENTION_SCHEDULE" toml:"retention_schedule"`
	RetentionMaxAge   time.Duration `envconfig:"RETENTION_MAX_AGE" toml:"retention_max_age"`
}

// Defaults returns the settings used when neither a config file nor the
// environment provides a value.
func Defaults() Settings {
	return Settings{
		ListenAddr:        ":8000",
		DatabasePath:      "./data/iterminallist.db",
		LogLevel:          "info",
		WorkspaceDir:      "/workspace",
		FallbackDir:       "/app",
		Locale:            "C.UTF-8",
		HistoryLimit:      10000,
		OutboundQueue:     256,
		LivenessPeriod:    time.Second,
		ShutdownTimeout:   10 * time.Second,
		AnonymousIdentity: "admin",
		TokenTTL:          24 * time.Hour,
		CORSOrigins:       []string{"*"},
		RetentionSchedule: "@every 1h",
		RetentionMaxAge:   24 * time.Hour,
	}
}

// Load builds the settings in three layers: Defaults, then the optional TOML
// file at path, then TERMLIST_* environment variables.
func Load(path string) (Settings, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Settings{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Settings{}, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (s *Settings) Validate() error {
	if s.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive, got %d", s.HistoryLimit)
	}
	if s.OutboundQueue <= 0 {
		return fmt.Errorf("outbound_queue must be positive, got %d", s.OutboundQueue)
	}
	if s.LivenessPeriod <= 0 {
		return fmt.Errorf("liveness_period must be positive, got %s", s.LivenessPeriod)
	}
	if s.AuthRequired && s.AuthDisabled {
		return fmt.Errorf("auth_required and auth_disabled are mutually exclusive")
	}
	if s.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	return nil
}

// ResolveShell returns the configured shell, then $SHELL, then /bin/bash.
func (s *Settings) ResolveShell() string {
	if s.Shell != "" {
		return s.Shell
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// ResolveWorkDir returns WorkspaceDir when it exists, FallbackDir otherwise.
// An empty result means "inherit the server's working directory".
func (s *Settings) ResolveWorkDir() string {
	for _, dir := range []string{s.WorkspaceDir, s.FallbackDir} {
		if dir == "" {
			continue
		}
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return ""
}
