package config

import (
	"errors"
	"fmt"
	"os"

	"magiclink/internal/entity"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNoDatabaseURL = errors.New("DATABASE_URL is not set")

// LoadEnv reads .env into the process environment when the file exists.
func LoadEnv(log logrus.FieldLogger) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("error load env")
	}
}

// ConnectionDb opens the postgres database named by DATABASE_URL and migrates
// the magic link tables.
func ConnectionDb(log logrus.FieldLogger) (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, ErrNoDatabaseURL
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		PrepareStmt: false,
		Logger:      logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("success connect to db")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entity.User{}, &entity.MagicLink{}, &entity.SecurityLog{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
