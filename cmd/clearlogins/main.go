// Command clearlogins runs one magic link sweep: stale links are disabled
// and every disabled link is deleted.
package main

import (
	"context"
	"fmt"
	"os"

	"magiclink/config"
	"magiclink/internal/repository"
	"magiclink/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	config.LoadEnv(logger)
	settings, err := config.LoadSettings(logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid settings")
	}
	db, err := config.ConnectionDb(logger)
	if err != nil {
		logger.WithError(err).Fatal("database")
	}
	stores := repository.NewStores(db)

	sweeper := service.NewSweeper(stores.MagicLinks, stores.SecurityLogs, service.RealClock{}, logger, settings.MagicLink)
	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		logger.WithError(err).Fatal("sweep")
	}
	fmt.Printf("Deleting %d magic links\n", result.Deleted)
}
