// Package config loads the settings for launching and talking to the backend.
// Values come from built-in defaults, then an optional YAML file, then MAILVIEW_* environment
// variables. They are read once; nothing is reloaded.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/guseggert/mailview/internal/files"
	"github.com/guseggert/mailview/rpc"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "MAILVIEW"

type Config struct {
	// Executable is the interpreter that runs the backend.
	Executable string `mapstructure:"executable"`
	// ServerArgs are passed to Executable, split on whitespace.
	ServerArgs string `mapstructure:"server_args"`
	// WorkingDir is the backend's working directory, normally the directory holding its package.
	WorkingDir string `mapstructure:"working_dir"`
	// ModuleRootEnv is set to WorkingDir in the backend's environment.
	ModuleRootEnv string `mapstructure:"module_root_env"`

	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	DiagnosticsLimit int           `mapstructure:"diagnostics_limit"`

	LogLevel string `mapstructure:"log_level"`
	// Listen is the preview server's address. Empty picks a free loopback port.
	Listen string `mapstructure:"listen"`
}

// Default returns the settings used when nothing is configured. searchDirs are
// where the backend is looked for.
func Default(searchDirs ...string) *Config {
	root := files.FindBackendRoot(searchDirs...)
	return &Config{
		Executable:       files.Python(root),
		ServerArgs:       "-m mailcore.rpc_server",
		WorkingDir:       root,
		ModuleRootEnv:    "PYTHONPATH",
		ShutdownTimeout:  time.Second,
		DiagnosticsLimit: 64 << 10,
		LogLevel:         "info",
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("executable", d.Executable)
	v.SetDefault("server_args", d.ServerArgs)
	v.SetDefault("working_dir", d.WorkingDir)
	v.SetDefault("module_root_env", d.ModuleRootEnv)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("diagnostics_limit", d.DiagnosticsLimit)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("listen", d.Listen)
}

// Load reads the configuration. path names a YAML file and may be empty. A file that
// does not exist is only an error if path was given explicitly.
func Load(path string) (*Config, error) {
	return load(path, Default(files.DefaultSearchDirs()...))
}

func load(path string, defaults *Config) (*Config, error) {
	v := viper.New()
	setDefaults(v, defaults)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Executable) == "" {
		return errors.New("executable must be set")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Backend returns the launch settings for the rpc client.
func (c *Config) Backend() rpc.Config {
	return rpc.Config{
		Executable:    c.Executable,
		Args:          strings.Fields(c.ServerArgs),
		WorkingDir:    c.WorkingDir,
		ModuleRootEnv: c.ModuleRootEnv,
	}
}

// ClientOptions returns the rpc client options these settings imply.
func (c *Config) ClientOptions() []rpc.Option {
	return []rpc.Option{
		rpc.WithShutdownTimeout(c.ShutdownTimeout),
		rpc.WithCallTimeout(c.CallTimeout),
		rpc.WithDiagnosticsLimit(c.DiagnosticsLimit),
	}
}
