package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type Config struct {
	BridgeDir          string `env:"HOSTBRIDGE_BRIDGE_DIR"           json:"bridge_dir"           yaml:"bridge_dir"`
	Store              string `env:"HOSTBRIDGE_STORE"                json:"store"                yaml:"store"`
	Codec              string `env:"HOSTBRIDGE_CODEC"                json:"codec"                yaml:"codec"`
	ProjectRoot        string `env:"HOSTBRIDGE_PROJECT_ROOT"         json:"project_root"         yaml:"project_root"`
	WorkspaceRoot      string `env:"HOSTBRIDGE_WORKSPACE_ROOT"       json:"workspace_root"       yaml:"workspace_root"`
	PollIntervalMS     int    `env:"HOSTBRIDGE_POLL_INTERVAL_MS"     json:"poll_interval_ms"     yaml:"poll_interval_ms"`
	DefaultTimeoutMS   int    `env:"HOSTBRIDGE_DEFAULT_TIMEOUT_MS"   json:"default_timeout_ms"   yaml:"default_timeout_ms"`
	Workers            int    `env:"HOSTBRIDGE_WORKERS"              json:"workers"              yaml:"workers"`
	ResponseTTLSeconds int    `env:"HOSTBRIDGE_RESPONSE_TTL_SECONDS" json:"response_ttl_seconds" yaml:"response_ttl_seconds"`
	PruneSchedule      string `env:"HOSTBRIDGE_PRUNE_SCHEDULE"       json:"prune_schedule"       yaml:"prune_schedule"`
	MaxIOFailures      int    `env:"HOSTBRIDGE_MAX_IO_FAILURES"      json:"max_io_failures"      yaml:"max_io_failures"`
	StatusFile         string `env:"HOSTBRIDGE_STATUS_FILE"          json:"status_file"          yaml:"status_file"`

	Log      LogConfig      `json:"log"      yaml:"log"`
	Services ServicesConfig `json:"services" yaml:"services"`
	Audio    AudioConfig    `json:"audio"    yaml:"audio"`
}

type LogConfig struct {
	Level  string `env:"HOSTBRIDGE_LOG_LEVEL"  json:"level"          yaml:"level"`
	Format string `env:"HOSTBRIDGE_LOG_FORMAT" json:"format"         yaml:"format"`
	File   string `env:"HOSTBRIDGE_LOG_FILE"   json:"file,omitempty" yaml:"file,omitempty"`
}

type ServicesConfig struct {
	Speech ServiceConfig `envPrefix:"HOSTBRIDGE_SERVICES_SPEECH_" json:"speech" yaml:"speech"`
	Audio  ServiceConfig `envPrefix:"HOSTBRIDGE_SERVICES_AUDIO_"  json:"audio"  yaml:"audio"`
	VSCode ServiceConfig `envPrefix:"HOSTBRIDGE_SERVICES_VSCODE_" json:"vscode" yaml:"vscode"`
}

// ServiceConfig is shared by every service. Command empty means the
// platform default.
type ServiceConfig struct {
	Enabled     bool   `env:"ENABLED"     json:"enabled"               yaml:"enabled"`
	TimeoutMS   int    `env:"TIMEOUT_MS"  json:"timeout_ms"            yaml:"timeout_ms"`
	Description string `env:"DESCRIPTION" json:"description,omitempty" yaml:"description,omitempty"`
	Command     string `env:"COMMAND"     json:"command,omitempty"     yaml:"command,omitempty"`
	Idempotent  bool   `env:"IDEMPOTENT"  json:"idempotent"            yaml:"idempotent"`
	Voice       string `env:"VOICE"       json:"voice,omitempty"       yaml:"voice,omitempty"`
}

type AudioConfig struct {
	SoundsDir string `env:"HOSTBRIDGE_AUDIO_SOUNDS_DIR" json:"sounds_dir,omitempty" yaml:"sounds_dir,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		BridgeDir:          "~/.hostbridge/bridge",
		Store:              StoreFile,
		Codec:              "json",
		WorkspaceRoot:      "/workspace",
		PollIntervalMS:     100,
		DefaultTimeoutMS:   30000,
		Workers:            4,
		ResponseTTLSeconds: 600,
		PruneSchedule:      "*/5 * * * *",
		MaxIOFailures:      10,
		StatusFile:         "~/.hostbridge/status.json",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Services: ServicesConfig{
			Speech: ServiceConfig{
				Enabled:     true,
				TimeoutMS:   30000,
				Description: "Speak text aloud on the host",
			},
			Audio: ServiceConfig{
				Enabled:     true,
				TimeoutMS:   10000,
				Description: "Play a sound on the host",
			},
			VSCode: ServiceConfig{
				Enabled:     true,
				TimeoutMS:   10000,
				Description: "Open a file in VS Code on the host",
				Idempotent:  true,
			},
		},
	}
}

// LoadConfig reads path on top of DefaultConfig, then applies
// HOSTBRIDGE_* environment overrides. A missing file is not an error.
// The format follows the extension: .yaml/.yml, otherwise JSON with
// comments allowed.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects values the daemon and client cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BridgeDir) == "" {
		return fmt.Errorf("bridge_dir is required")
	}
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StoreFile, StoreSQLite, c.Store)
	}
	switch c.Codec {
	case "json", "cbor":
	default:
		return fmt.Errorf("codec must be \"json\" or \"cbor\", got %q", c.Codec)
	}
	if c.WorkspaceRoot != "" && !strings.HasPrefix(c.WorkspaceRoot, "/") {
		return fmt.Errorf("workspace_root must be absolute, got %q", c.WorkspaceRoot)
	}
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("default_timeout_ms must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ResponseTTLSeconds <= 0 {
		return fmt.Errorf("response_ttl_seconds must be positive")
	}
	if c.MaxIOFailures <= 0 {
		return fmt.Errorf("max_io_failures must be positive")
	}
	if c.PruneSchedule != "" && !gronx.New().IsValid(c.PruneSchedule) {
		return fmt.Errorf("prune_schedule %q is not a valid cron expression", c.PruneSchedule)
	}

	for name, svc := range c.Services.All() {
		if svc.TimeoutMS < 0 {
			return fmt.Errorf("services.%s.timeout_ms must not be negative", name)
		}
	}
	return nil
}

// All returns the service settings keyed by service name.
func (s ServicesConfig) All() map[model.Service]ServiceConfig {
	return map[model.Service]ServiceConfig{
		model.ServiceSpeech: s.Speech,
		model.ServiceAudio:  s.Audio,
		model.ServiceVSCode: s.VSCode,
	}
}

// Timeout is the handler deadline. Zero means the daemon default.
func (s ServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

func (c *Config) BridgePath() string {
	return expandHome(c.BridgeDir)
}

func (c *Config) StatusPath() string {
	return expandHome(c.StatusFile)
}

func (c *Config) LogFilePath() string {
	return expandHome(c.Log.File)
}

func (c *Config) SoundsPath() string {
	return expandHome(c.Audio.SoundsDir)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

func (c *Config) ResponseTTL() time.Duration {
	return time.Duration(c.ResponseTTLSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
