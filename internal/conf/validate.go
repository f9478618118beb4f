package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tphakala/pinalbum/internal/errors"
)

// MaxPageSize is the largest per_page value the Flickr search API accepts.
const MaxPageSize = 500

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory lets the errors package classify configuration failures.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	add(validateFlickrSettings(&s.Flickr))
	add(validateDownloadSettings(&s.Download))
	add(validateDatabaseSettings(&s.Database))
	add(validateMQTTSettings(&s.MQTT))
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		add(fmt.Errorf("sentry.dsn is required when sentry is enabled"))
	}
	if s.Cache.Path == "" {
		add(fmt.Errorf("cache.path must not be empty"))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateFlickrSettings(f *FlickrSettings) error {
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return fmt.Errorf("flickr.pagesize must be between 1 and %d, got %d", MaxPageSize, f.PageSize)
	}
	if f.HalfWidth <= 0 || f.HalfHeight <= 0 {
		return fmt.Errorf("flickr.halfwidth and flickr.halfheight must be positive")
	}
	if f.Timeout <= 0 {
		return fmt.Errorf("flickr.timeout must be positive")
	}
	if f.RateLimit < 0 || f.Burst < 0 {
		return fmt.Errorf("flickr.ratelimit and flickr.burst must not be negative")
	}
	if f.CacheTTL < 0 {
		return fmt.Errorf("flickr.cachettl must not be negative")
	}
	u, err := url.Parse(f.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("flickr.endpoint must be an http(s) URL, got %q", f.Endpoint)
	}
	return nil
}

func validateDownloadSettings(d *DownloadSettings) error {
	if d.Timeout <= 0 {
		return fmt.Errorf("download.timeout must be positive")
	}
	if d.MaxBytes <= 0 {
		return fmt.Errorf("download.maxbytes must be positive")
	}
	if d.MaxConcurrent < 0 {
		return fmt.Errorf("download.maxconcurrent must not be negative")
	}
	return nil
}

func validateDatabaseSettings(d *DatabaseSettings) error {
	switch d.Type {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path must not be empty")
		}
	case "mysql":
		if d.MySQL.Host == "" || d.MySQL.Database == "" {
			return fmt.Errorf("database.mysql.host and database.mysql.database are required")
		}
	default:
		return fmt.Errorf("database.type must be sqlite or mysql, got %q", d.Type)
	}
	return nil
}

func validateMQTTSettings(m *MQTTSettings) error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}
