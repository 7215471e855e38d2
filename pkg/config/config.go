// Package config loads the client configuration.
//
// Settings come from, in increasing priority: defaults declared in struct
// tags, the config file written by the static randomizer (apconfig.json),
// a .env file next to it, and APSYNC_ environment variables. Nested keys
// map to variables with underscores, e.g. sync.apply_interval is read
// from APSYNC_SYNC_APPLY_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "APSYNC"

// Config holds all client settings.
type Config struct {
	// URL is the multiworld server address, with or without a ws:// scheme.
	URL      string `mapstructure:"url"`
	Slot     string `mapstructure:"slot"`
	Password string `mapstructure:"password"`
	// Seed is the room seed the save was generated for.
	Seed string `mapstructure:"seed"`
	// ClientVersion is the version of the tool that generated the config.
	ClientVersion string `mapstructure:"client_version"`
	Game          string `mapstructure:"game"`
	Catalog       string `mapstructure:"catalog" default:"catalog.yaml"`
	DatabaseURL   string `mapstructure:"database_url" default:"sqlite://apsync.db"`

	Log     LogConfig     `mapstructure:"log"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Network NetworkConfig `mapstructure:"network"`
	Status  StatusConfig  `mapstructure:"status"`

	path string
}

type LogConfig struct {
	Level  string `mapstructure:"level" default:"info"`
	Format string `mapstructure:"format" default:"json"`
}

type SyncConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval" default:"100ms"`
	ApplyInterval time.Duration `mapstructure:"apply_interval" default:"1s"`
	GracePeriod   time.Duration `mapstructure:"grace_period" default:"10s"`
	// BackupPath enables periodic compressed backups of the sync state.
	BackupPath     string        `mapstructure:"backup_path"`
	BackupInterval time.Duration `mapstructure:"backup_interval" default:"30s"`
}

type NetworkConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" default:"10s"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" default:"15s"`
	KeepaliveTimeout  time.Duration `mapstructure:"keepalive_timeout" default:"45s"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial" default:"200ms"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" default:"5s"`
}

type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" default:"false"`
	Port    int    `mapstructure:"port" default:"38280"`
	Token   string `mapstructure:"token"`
}

// Load reads the config file at path. A missing file is not an error as
// long as the environment supplies the required settings.
func Load(path string) (*Config, error) {
	// Ignore error if file doesn't exist
	_ = godotenv.Overload(filepath.Join(filepath.Dir(path), ".env"))

	v := viper.New()
	bindValues(v, Config{}, "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{path: path}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing or invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.URL) == "":
		return fmt.Errorf("url is required")
	case c.Slot == "":
		return fmt.Errorf("slot is required")
	case c.Seed == "":
		return fmt.Errorf("seed is required")
	case c.Catalog == "":
		return fmt.Errorf("catalog is required")
	case c.Sync.TickInterval <= 0:
		return fmt.Errorf("sync.tick_interval must be positive")
	case c.Sync.ApplyInterval < 0:
		return fmt.Errorf("sync.apply_interval must not be negative")
	case c.Sync.BackupPath != "" && c.Sync.BackupInterval <= 0:
		return fmt.Errorf("sync.backup_interval must be positive when sync.backup_path is set")
	}
	return nil
}

// Path is the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// SetURL changes the server address. Call Save to keep it across restarts.
func (c *Config) SetURL(url string) {
	c.URL = strings.TrimSpace(url)
}

// Save writes the server address back to the config file, leaving every
// other key in the file untouched.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config was not loaded from a file")
	}
	v := viper.New()
	v.SetConfigFile(c.path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read config %s: %w", c.path, err)
	}
	v.Set("url", c.URL)
	if err := v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", c.path, err)
	}
	return nil
}

// bindValues registers every key with its `default` tag so AutomaticEnv can
// find keys that the config file does not set.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
