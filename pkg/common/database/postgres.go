package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/synaptica-ai/ehrdata/pkg/common/config"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const applicationName = "ehrdata-preprocess"

var (
	db     *gorm.DB
	dbErr  error
	dbOnce sync.Once
)

// PostgresDSN builds the libpq connection string for cfg. Sessions are
// tagged with the application name so runs show up in pg_stat_activity.
func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s application_name=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
		applicationName,
	)
}

// GetPostgres opens the run registry connection once. The registry only sees
// a handful of status writes per run, so the pool stays small.
func GetPostgres(cfg *config.Config) (*gorm.DB, error) {
	dbOnce.Do(func() {
		db, dbErr = gorm.Open(postgres.Open(PostgresDSN(cfg)), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		if dbErr != nil {
			logger.Log.WithError(dbErr).Error("Failed to connect to PostgreSQL")
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			dbErr = err
			return
		}
		sqlDB.SetMaxOpenConns(cfg.PostgresMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.PostgresMaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.PostgresConnMaxLifetime)

		logger.Log.WithFields(map[string]interface{}{
			"host":           cfg.PostgresHost,
			"database":       cfg.PostgresDB,
			"max_open_conns": cfg.PostgresMaxOpenConns,
		}).Info("Connected to PostgreSQL")
	})

	return db, dbErr
}

func ClosePostgres() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
