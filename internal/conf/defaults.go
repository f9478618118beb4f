package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/pinalbum/internal/logger"
)

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("flickr.apikey", "")
	v.SetDefault("flickr.apikeyfile", "")
	v.SetDefault("flickr.endpoint", "https://api.flickr.com/services/rest/")
	v.SetDefault("flickr.pagesize", 21)
	v.SetDefault("flickr.halfwidth", 1.0)
	v.SetDefault("flickr.halfheight", 1.0)
	v.SetDefault("flickr.safesearch", 1)
	v.SetDefault("flickr.extras", "url_m")
	v.SetDefault("flickr.ratelimit", 1.0)
	v.SetDefault("flickr.burst", 3)
	v.SetDefault("flickr.cachettl", 5*time.Minute)
	v.SetDefault("flickr.timeout", 15*time.Second)

	v.SetDefault("download.maxconcurrent", 0)
	v.SetDefault("download.timeout", 30*time.Second)
	v.SetDefault("download.maxbytes", int64(10<<20))

	v.SetDefault("cache.path", "data/images")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.debug", false)
	v.SetDefault("database.sqlite.path", "data/pinalbum.db")
	v.SetDefault("database.mysql.username", "pinalbum")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "pinalbum")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("webserver.listen", "127.0.0.1:8080")
	v.SetDefault("webserver.debug", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "pinalbum")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.passwordfile", "")
	v.SetDefault("mqtt.topic", "pinalbum")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.dsnfile", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	v.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	v.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	v.SetDefault("logging.file_output.compress", false)
	v.SetDefault("logging.module_levels", map[string]string{})
}
