package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const FileName = "dochub.yml"

// Config models dochub.yml. Every key is optional; missing keys take the defaults.
type Config struct {
	Storage       StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Processing    ProcessingConfig   `yaml:"processing" mapstructure:"processing"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
	Seed          SeedConfig         `yaml:"seed" mapstructure:"seed"`
	Log           LogConfig          `yaml:"log" mapstructure:"log"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=sqlite file memory"`
	Key    string `yaml:"key" mapstructure:"key" validate:"required,excludesall=/\\"`
}

type ProcessingConfig struct {
	Latency time.Duration `yaml:"latency" mapstructure:"latency" validate:"gte=0"`
}

type NotificationConfig struct {
	Duration time.Duration `yaml:"duration" mapstructure:"duration" validate:"gt=0"`
	Fade     time.Duration `yaml:"fade" mapstructure:"fade" validate:"gte=0"`
}

type SeedConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Persist bool `yaml:"persist" mapstructure:"persist"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"required,oneof=json text"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage:       StorageConfig{Driver: "sqlite", Key: "documentTasks"},
		Processing:    ProcessingConfig{Latency: 3 * time.Second},
		Notifications: NotificationConfig{Duration: 5 * time.Second, Fade: 300 * time.Millisecond},
		Seed:          SeedConfig{Enabled: true},
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// defaults mirrors Default as flat viper keys.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"storage.driver":         d.Storage.Driver,
		"storage.key":            d.Storage.Key,
		"processing.latency":     d.Processing.Latency,
		"notifications.duration": d.Notifications.Duration,
		"notifications.fade":     d.Notifications.Fade,
		"seed.enabled":           d.Seed.Enabled,
		"seed.persist":           d.Seed.Persist,
		"log.level":              d.Log.Level,
		"log.format":             d.Log.Format,
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config.%s: failed %q check (value %v)", configKey(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}
	return nil
}

// configKey turns "Config.Storage.Driver" into "storage.driver".
func configKey(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load resolves the effective config: defaults, then dochub.yml when present, then
// DOCHUB_* environment variables and any flags bound on v. A nil v uses a fresh viper.
func Load(workspace string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("DOCHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := Path(workspace)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes on top of the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config as it would appear in dochub.yml.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c.Settings())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	out, _ := Default().YAML()
	return out
}

// WriteDefault writes the default dochub.yml into workspace. An existing file is kept
// unless force is set.
func WriteDefault(workspace string, force bool) (string, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config %s already exists; use --force to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(GenerateDefault()), 0o644); err != nil {
		return path, err
	}
	return path, nil
}

// Settings returns the config as nested maps keyed like dochub.yml, with durations
// rendered as strings ("3s") instead of nanosecond integers.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"storage": map[string]any{
			"driver": c.Storage.Driver,
			"key":    c.Storage.Key,
		},
		"processing": map[string]any{
			"latency": c.Processing.Latency.String(),
		},
		"notifications": map[string]any{
			"duration": c.Notifications.Duration.String(),
			"fade":     c.Notifications.Fade.String(),
		},
		"seed": map[string]any{
			"enabled": c.Seed.Enabled,
			"persist": c.Seed.Persist,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
}
