package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/logger"
)

const (
	mysqlMaxOpenConns    = 10
	mysqlMaxIdleConns    = 5
	mysqlConnMaxLifetime = time.Hour
)

// MySQLDSN formats the connection string for settings.
func MySQLDSN(settings *conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		settings.Username, settings.Password,
		settings.Host, settings.Port,
		settings.Database)
}

// OpenMySQL connects to the MySQL database described by settings.
func OpenMySQL(settings *conf.MySQLSettings, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	db, err := gorm.Open(mysql.Open(MySQLDSN(settings)), gormConfig(log))
	if err != nil {
		log.Error("failed to open mysql database",
			logger.String("host", settings.Host),
			logger.Int("port", settings.Port),
			logger.String("database", settings.Database),
			logger.Error(err))
		return nil, dbError(err, "open_mysql",
			"host", settings.Host,
			"database", settings.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open_mysql", "host", settings.Host)
	}
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
	sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)

	log.Info("opened mysql record store",
		logger.String("host", settings.Host),
		logger.String("database", settings.Database))
	return newStore(db, "mysql", log)
}
