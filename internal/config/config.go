// Package config loads Corral's typed configuration from environment
// variables, an optional config file, and built-in defaults.
//
// This is deliberately a thin loader: discovering *which* project a user
// means, merging .env files, and watching the filesystem for config
// changes are the job of the external configuration loader named in
// spec.md §1 as out of scope. This package only turns a config.yaml (or
// CORRAL_-prefixed env vars) into the typed Config value the Core
// operates on.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// RunnableKind distinguishes a shell-command runnable from a container one.
type RunnableKind string

const (
	KindShell     RunnableKind = "shell"
	KindContainer RunnableKind = "container"
)

// RunnableDef is the immutable, user-declared definition of one runnable.
type RunnableDef struct {
	ID         string            `mapstructure:"-"`
	Name       string            `mapstructure:"name"`
	Kind       RunnableKind      `mapstructure:"kind"`
	Command    string            `mapstructure:"command"`
	Cwd        string            `mapstructure:"cwd"`
	Env        map[string]string `mapstructure:"env"`
	DependsOn  []string          `mapstructure:"dependsOn"`
	UseTTY     bool              `mapstructure:"useTTY"`
	GraceMS    int               `mapstructure:"graceMs"`

	// Container-kind fields, consumed by internal/container.
	Image   string   `mapstructure:"image"`
	Ports   []string `mapstructure:"ports"`
	Volumes []string `mapstructure:"volumes"`
	Network string   `mapstructure:"network"`

	// ReadyWhen and OnReady are not representable in static config; they
	// are set programmatically on the RunnableDef values after Load.
	ReadyWhen func(output string) bool                     `mapstructure:"-"`
	OnReady   func(output string, setEnv func(k, v string)) error `mapstructure:"-"`
}

// DisplayName returns Name, defaulting to ID.
func (d RunnableDef) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Defaults holds config-wide default values applied to every runnable.
type Defaults struct {
	Env              map[string]string `mapstructure:"env"`
	MaxOutputLines   int               `mapstructure:"maxOutputLines"`
	GraceMS          int               `mapstructure:"graceMs"`
}

// DockerConfig holds container-runtime configuration.
type DockerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	Binary         string `mapstructure:"binary"` // "docker" or "podman"
}

// EventsConfig controls the optional NATS relay (SPEC_FULL §6.2).
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
	NATSURL   string `mapstructure:"natsUrl"`
}

// StateExportConfig controls the state file exporter (§4.7).
type StateExportConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	StateDir string `mapstructure:"stateDir"`
	TailN    int    `mapstructure:"tailLines"`
}

// Config holds all configuration sections for Corral.
type Config struct {
	Runnables   map[string]RunnableDef `mapstructure:"runnables"`
	Groups      map[string][]string    `mapstructure:"groups"`
	Defaults    Defaults               `mapstructure:"defaults"`
	Docker      DockerConfig           `mapstructure:"docker"`
	Events      EventsConfig           `mapstructure:"events"`
	Logging     logConfig              `mapstructure:"logging"`
	StateExport StateExportConfig      `mapstructure:"stateExport"`
	ProjectRoot string                 `mapstructure:"projectRoot"`
}

// logConfig mirrors logger.Config's mapstructure shape without importing
// internal/logger (config must not depend on logger).
type logConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.maxOutputLines", 1000)
	v.SetDefault("defaults.graceMs", 500)

	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.defaultNetwork", "corral-network")
	v.SetDefault("docker.binary", "docker")

	v.SetDefault("events.namespace", "")
	v.SetDefault("events.natsUrl", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("stateExport.enabled", true)
	v.SetDefault("stateExport.stateDir", defaultStateDir())
	v.SetDefault("stateExport.tailLines", 100)
}

func detectDefaultLogFormat() string {
	if os.Getenv("CORRAL_ENV") == "production" {
		return "json"
	}
	return "text"
}

func defaultDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/corral"
	}
	return os.TempDir() + "/corral"
}

// Load reads configuration from the current directory's config.yaml (if
// present), CORRAL_-prefixed environment variables, and built-in defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is like Load but also searches configPath for config.yaml.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CORRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for id, def := range cfg.Runnables {
		def.ID = id
		cfg.Runnables[id] = def
	}

	if cfg.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ProjectRoot = wd
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	for id, def := range cfg.Runnables {
		if def.Kind == "" {
			def.Kind = KindShell
			cfg.Runnables[id] = def
		}
		switch def.Kind {
		case KindShell:
			if strings.TrimSpace(def.Command) == "" {
				errs = append(errs, fmt.Sprintf("runnable %q: command must not be empty", id))
			}
		case KindContainer:
			if strings.TrimSpace(def.Image) == "" {
				errs = append(errs, fmt.Sprintf("runnable %q: image is required for container kind", id))
			}
		default:
			errs = append(errs, fmt.Sprintf("runnable %q: unknown kind %q", id, def.Kind))
		}
	}

	for group, ids := range cfg.Groups {
		for _, id := range ids {
			if _, ok := cfg.Runnables[id]; !ok {
				errs = append(errs, fmt.Sprintf("group %q references unknown runnable %q", group, id))
			}
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// KnownIDs returns every runnable id in the config.
func (c *Config) KnownIDs() []string {
	ids := make([]string, 0, len(c.Runnables))
	for id := range c.Runnables {
		ids = append(ids, id)
	}
	return ids
}

// KnownGroupNames returns every group name in the config.
func (c *Config) KnownGroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	return names
}
