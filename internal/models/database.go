package models

import (
	"fmt"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	applog "github.com/huangang/contractorhub/backend/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// gormWriter routes gorm's printf-style output into zerolog.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	applog.Debug().Str("component", "gorm").Msgf(format, args...)
}

func newGormLogger(level string) logger.Interface {
	logLevel := logger.Warn
	if level == "debug" {
		logLevel = logger.Info
	}
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
	})
}

func InitDB(cfg *config.DatabaseConfig, logLevel string) error {
	db, err := Open(cfg.Driver, cfg.DSN, logLevel)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects to the configured database without touching the package global.
func Open(driver, dsn, logLevel string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logLevel),
		TranslateError: true, // unique violations surface as gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

func AutoMigrate() error {
	return Migrate(DB)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Company{},
		&TeamMember{},
		&Invitation{},
		&JoinRequest{},
		&Application{},
		&Document{},
		&RefreshToken{},
		&SystemConfig{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// DefaultSystemConfigs are runtime-tunable settings seeded on first start.
// Settings that also live in the config file are seeded empty; an empty
// value defers to invitation.ttl_hours and jwt.expire_hour.
var DefaultSystemConfigs = []SystemConfig{
	{Key: "invitation_ttl_hours", Value: "", Type: "int", Group: "invitation", Label: "Invitation Validity (hours, empty uses config file)"},
	{Key: "auth_access_token_expire_hours", Value: "", Type: "int", Group: "auth", Label: "Access Token Lifetime (hours, empty uses config file)"},
	{Key: "auth_refresh_token_expire_hours", Value: "720", Type: "int", Group: "auth", Label: "Refresh Token Lifetime (hours)"},
	{Key: "signed_url_expire_seconds", Value: "3600", Type: "int", Group: "storage", Label: "Signed URL Lifetime (seconds)"},
	{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData() error {
	return Seed(DB)
}

func Seed(db *gorm.DB) error {
	for _, cfg := range DefaultSystemConfigs {
		var count int64
		db.Model(&SystemConfig{}).Where(&SystemConfig{Key: cfg.Key}).Count(&count)
		if count == 0 {
			row := cfg
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
