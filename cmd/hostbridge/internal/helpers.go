package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/client"
	"github.com/tinyland-inc/hostbridge/pkg/codec"
	"github.com/tinyland-inc/hostbridge/pkg/config"
	"github.com/tinyland-inc/hostbridge/pkg/daemon"
	"github.com/tinyland-inc/hostbridge/pkg/handlers"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/pathmap"
	"github.com/tinyland-inc/hostbridge/pkg/store"
	"github.com/tinyland-inc/hostbridge/pkg/store/filestore"
	"github.com/tinyland-inc/hostbridge/pkg/store/sqlitestore"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// configPath is set by the root command's --config flag.
var configPath string

func SetConfigPath(path string) { configPath = path }

// GetConfigPath resolves the config file: --config, then
// $HOSTBRIDGE_CONFIG, then ~/.hostbridge/config.json.
func GetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("HOSTBRIDGE_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hostbridge", "config.json")
}

// LoadConfig loads the config and applies its logging settings.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format, cfg.LogFilePath()); err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	return cfg, nil
}

// OpenStore opens the record store the config names.
func OpenStore(cfg *config.Config) (store.Store, codec.Codec, error) {
	cd, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}

	dir := cfg.BridgePath()
	switch cfg.Store {
	case config.StoreSQLite:
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		st, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(dir, "bridge.db")})
		if err != nil {
			return nil, nil, err
		}
		return st, cd, nil
	default:
		st, err := filestore.New(dir, filestore.WithExtension(cd.Extension()))
		if err != nil {
			return nil, nil, err
		}
		return st, cd, nil
	}
}

// Translator builds the sandbox-to-host path translator.
func Translator(cfg *config.Config) pathmap.Translator {
	return pathmap.Translator{ProjectRoot: cfg.ProjectRoot, WorkspaceRoot: cfg.WorkspaceRoot}
}

// NewClient opens the store and returns a client over it. The caller
// closes the store.
func NewClient(cfg *config.Config, opts ...client.Option) (*client.Client, store.Store, error) {
	st, cd, err := OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	base := []client.Option{
		client.WithCodec(cd),
		client.WithPollInterval(cfg.PollInterval()),
		client.WithTimeout(cfg.DefaultTimeout()),
		client.WithInterceptors(client.LoggingInterceptor()),
	}
	return client.New(st, append(base, opts...)...), st, nil
}

// NewRegistry registers the bundled handlers with their configured
// options.
func NewRegistry(cfg *config.Config) *daemon.Registry {
	translator := Translator(cfg)
	svc := cfg.Services

	reg := daemon.NewRegistry()
	reg.Register(model.ServiceSpeech,
		handlers.NewSpeech(svc.Speech.Voice, handlers.WithCommand(svc.Speech.Command)),
		serviceOptions(svc.Speech))
	reg.Register(model.ServiceAudio,
		handlers.NewAudio(cfg.SoundsPath(), translator, handlers.WithCommand(svc.Audio.Command)),
		serviceOptions(svc.Audio))
	reg.Register(model.ServiceVSCode,
		handlers.NewVSCode(translator, handlers.WithCommand(svc.VSCode.Command)),
		serviceOptions(svc.VSCode))
	return reg
}

func serviceOptions(s config.ServiceConfig) daemon.ServiceOptions {
	return daemon.ServiceOptions{
		Enabled:     s.Enabled,
		Timeout:     s.Timeout(),
		Description: s.Description,
		Idempotent:  s.Idempotent,
	}
}

// ResponseError turns a non-success response into an error so the
// command exits non-zero.
func ResponseError(resp *model.Response, err error) error {
	if err != nil {
		if errors.Is(err, client.ErrTimeout) {
			return fmt.Errorf("no response: %w", err)
		}
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%s: %s", resp.Status, resp.Message)
	}
	return nil
}

// Call sends p and, when wait is set, waits for and prints the answer.
// Without wait it prints the request id.
func Call(ctx context.Context, c *client.Client, p model.Payload, wait bool, timeout time.Duration) error {
	if !wait {
		id, err := c.Post(ctx, p)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s\n", id)
		return nil
	}

	resp, err := c.Send(ctx, p, timeout)
	if err := ResponseError(resp, err); err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
