package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultMongoPort     = 27017
	DefaultMongoDatabase = "config"
	DefaultJournalLevel  = "INFO"
	DefaultPruneSchedule = "@daily"
	DefaultRetention     = "720h"
	DefaultWorkers       = 4
	DefaultQueueSize     = 256
)

// ErrInit reports a configuration that cannot start the bot.
var ErrInit = errors.New("invalid configuration")

type Config struct {
	Log      LogConfig       `toml:"log" yaml:"log"`
	Server   ServerConfig    `toml:"server" yaml:"server"`
	Storage  StorageConfig   `toml:"storage" yaml:"storage"`
	Users    UsersConfig     `toml:"users" yaml:"users"`
	State    StateConfig     `toml:"state" yaml:"state"`
	Roles    RolesConfig     `toml:"roles" yaml:"roles"`
	Journal  JournalConfig   `toml:"journal" yaml:"journal"`
	Inbound  InboundConfig   `toml:"inbound" yaml:"inbound"`
	Channels []ChannelConfig `toml:"channels" yaml:"channels" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

// ServerConfig configures the HTTP listener. A non-empty JWTSecret protects
// every endpoint except /ping and /health.
type ServerConfig struct {
	Addr      string `toml:"addr" yaml:"addr" validate:"required"`
	JWTSecret string `toml:"jwt_secret" yaml:"jwt_secret" validate:"omitempty,min=16"`
}

// StorageConfig selects exactly one backend: Local or Mongo.
type StorageConfig struct {
	Local *LocalStorageConfig `toml:"local" yaml:"local"`
	Mongo *MongoConfig        `toml:"mongo" yaml:"mongo"`
}

type LocalStorageConfig struct {
	Folder string `toml:"folder" yaml:"folder" validate:"required"`
}

type MongoConfig struct {
	URI      string `toml:"uri" yaml:"uri"`
	Address  string `toml:"address" yaml:"address" validate:"required_without=URI"`
	Port     int    `toml:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	Database string `toml:"database" yaml:"database"`
}

// UsersConfig names the user collection and profile columns. Empty values
// keep the defaults of the stores.
type UsersConfig struct {
	Collection      string `toml:"collection" yaml:"collection"`
	IDColumn        string `toml:"id_column" yaml:"id_column"`
	UsernameColumn  string `toml:"username_column" yaml:"username_column"`
	FirstNameColumn string `toml:"first_name_column" yaml:"first_name_column"`
	LastNameColumn  string `toml:"last_name_column" yaml:"last_name_column"`
	LocaleColumn    string `toml:"locale_column" yaml:"locale_column"`
}

type StateConfig struct {
	Column       string `toml:"column" yaml:"column"`
	ParamsColumn string `toml:"params_column" yaml:"params_column"`
	FreeState    string `toml:"free_state" yaml:"free_state"`
	WithParams   bool   `toml:"with_params" yaml:"with_params"`
}

// RolesConfig holds the role catalog: role name to password, where an empty
// password lets anyone log in. Passwords may be bcrypt hashes.
type RolesConfig struct {
	Column   string            `toml:"column" yaml:"column"`
	Baseline []string          `toml:"baseline" yaml:"baseline" validate:"dive,required"`
	Catalog  map[string]string `toml:"catalog" yaml:"catalog" validate:"dive,keys,required,endkeys"`
}

type JournalConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	Collection    string `toml:"collection" yaml:"collection"`
	Level         string `toml:"level" yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR CRITICAL debug info warning error critical"`
	FullParams    bool   `toml:"full_params" yaml:"full_params"`
	PruneSchedule string `toml:"prune_schedule" yaml:"prune_schedule"`
	RetentionRaw  string `toml:"retention" yaml:"retention"`

	Retention time.Duration `toml:"-" yaml:"-"`
}

type InboundConfig struct {
	Workers   int `toml:"workers" yaml:"workers" validate:"min=0"`
	QueueSize int `toml:"queue_size" yaml:"queue_size" validate:"min=0"`
}

// ChannelConfig is one transport connection.
type ChannelConfig struct {
	ID          string         `toml:"id" yaml:"id" validate:"required"`
	Type        string         `toml:"type" yaml:"type" validate:"required,oneof=telegram discord email"`
	Disabled    bool           `toml:"disabled" yaml:"disabled"`
	Credentials map[string]any `toml:"credentials" yaml:"credentials"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Roles: RolesConfig{
			Baseline: []string{"user"},
		},
		Journal: JournalConfig{
			Enabled:       true,
			Level:         DefaultJournalLevel,
			PruneSchedule: DefaultPruneSchedule,
			RetentionRaw:  DefaultRetention,
		},
		Inbound: InboundConfig{
			Workers:   DefaultWorkers,
			QueueSize: DefaultQueueSize,
		},
	}
}

// Load reads path (DefaultConfigPath when empty) as YAML for .yaml and .yml
// files and as TOML otherwise. ${VAR} references are expanded from the
// environment before decoding. Every failure wraps ErrInit.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %w", ErrInit, path, err)
	}
	return Parse(data, formatOf(path))
}

// Format is the encoding of a configuration file.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (Config, error) {
	cfg := defaults()
	expanded := expandEnvVars(string(data))
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse yaml: %w", ErrInit, err)
		}
	default:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse toml: %w", ErrInit, err)
		}
	}
	if cfg.Storage.Mongo != nil {
		if cfg.Storage.Mongo.Port == 0 {
			cfg.Storage.Mongo.Port = DefaultMongoPort
		}
		if cfg.Storage.Mongo.Database == "" {
			cfg.Storage.Mongo.Database = DefaultMongoDatabase
		}
	}
	if cfg.Journal.RetentionRaw != "" {
		retention, err := time.ParseDuration(cfg.Journal.RetentionRaw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: journal.retention %q: %w", ErrInit, cfg.Journal.RetentionRaw, err)
		}
		cfg.Journal.Retention = retention
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}
