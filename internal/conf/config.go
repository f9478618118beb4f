// Package conf loads pinalbum settings from a YAML file, environment
// variables and built-in defaults.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/secrets"
)

// EnvPrefix is prepended to every environment override, e.g. PINALBUM_FLICKR_APIKEY.
const EnvPrefix = "PINALBUM"

// FlickrSettings configures the photo search client.
type FlickrSettings struct {
	APIKey     string        `yaml:"apikey"`     // literal or ${ENV} reference
	APIKeyFile string        `yaml:"apikeyfile"` // secret file, takes precedence over apikey
	Endpoint   string        `yaml:"endpoint"`
	PageSize   int           `yaml:"pagesize"`   // photos per batch
	HalfWidth  float64       `yaml:"halfwidth"`  // bounding box half extent in degrees longitude
	HalfHeight float64       `yaml:"halfheight"` // bounding box half extent in degrees latitude
	SafeSearch int           `yaml:"safesearch"` // 1 safe, 2 moderate, 3 restricted
	Extras     string        `yaml:"extras"`     // size extra carrying the direct image URL
	RateLimit  float64       `yaml:"ratelimit"`  // requests per second
	Burst      int           `yaml:"burst"`
	CacheTTL   time.Duration `yaml:"cachettl"` // 0 disables result caching
	Timeout    time.Duration `yaml:"timeout"`
}

// DownloadSettings configures per-photo downloads.
type DownloadSettings struct {
	MaxConcurrent int           `yaml:"maxconcurrent"` // 0 means one slot per photo in the batch
	Timeout       time.Duration `yaml:"timeout"`
	MaxBytes      int64         `yaml:"maxbytes"`
}

// CacheSettings configures the durable image cache.
type CacheSettings struct {
	Path string `yaml:"path"`
}

// SQLiteSettings contains settings for the SQLite record store.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings contains settings for the MySQL record store.
type MySQLSettings struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// DatabaseSettings selects and configures the record store.
type DatabaseSettings struct {
	Type   string         `yaml:"type"` // sqlite or mysql
	Debug  bool           `yaml:"debug"`
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Listen string `yaml:"listen"`
	Debug  bool   `yaml:"debug"`
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTSettings configures batch event publishing.
type MQTTSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"clientid"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"passwordfile"`
	Topic        string `yaml:"topic"`
	QoS          byte   `yaml:"qos"`
	Retain       bool   `yaml:"retain"`
}

// SentrySettings configures opt-in error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	DSNFile     string `yaml:"dsnfile"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

// Settings contains all configuration options.
type Settings struct {
	Debug     bool                 `yaml:"debug"`
	Flickr    FlickrSettings       `yaml:"flickr"`
	Download  DownloadSettings     `yaml:"download"`
	Cache     CacheSettings        `yaml:"cache"`
	Database  DatabaseSettings     `yaml:"database"`
	WebServer WebServerSettings    `yaml:"webserver"`
	Metrics   MetricsSettings      `yaml:"metrics"`
	MQTT      MQTTSettings         `yaml:"mqtt"`
	Sentry    SentrySettings       `yaml:"sentry"`
	Logging   logger.LoggingConfig `yaml:"logging"`
}

// Load reads configFile (or searches the default paths when empty), applies
// environment overrides and validates the result. A missing config file is
// not an error; defaults and environment apply.
func Load(configFile string) (*Settings, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if settings.Debug {
		settings.EnableDebug()
	}
	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// resolveSecrets replaces credential settings with the value of their secret
// file or expanded environment reference.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"flickr.apikey", s.Flickr.APIKeyFile, &s.Flickr.APIKey},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"sentry.dsn", s.Sentry.DSNFile, &s.Sentry.DSN},
	}
	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("setting", f.name).
				Build()
		}
		*f.value = resolved
	}
	return nil
}

// EnableDebug turns on debug mode and lowers the default and console log
// levels to debug.
func (s *Settings) EnableDebug() {
	s.Debug = true
	s.Logging.DefaultLevel = string(logger.LogLevelDebug)
	if s.Logging.Console != nil {
		s.Logging.Console.Level = string(logger.LogLevelDebug)
	}
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("config_file", configFile).
			Build()
	}
	return v, nil
}

// DefaultConfigPaths returns the directories searched for config.yaml, in order.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pinalbum"))
	}
	return append(paths, "/etc/pinalbum")
}

// Defaults returns Settings populated only from built-in defaults.
func Defaults() (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// WriteDefaultConfig writes the default settings as YAML to path. An
// existing file is left untouched unless overwrite is set.
func WriteDefaultConfig(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("config file %s already exists", path).
				Component("conf").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	settings, err := Defaults()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating directories for config file: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
