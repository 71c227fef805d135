package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"magiclink/api/handler"
	apiMiddleware "magiclink/api/middleware"
	"magiclink/api/routes"
	"magiclink/config"
	"magiclink/internal/repository"
	"magiclink/internal/service"
	"magiclink/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	config.LoadEnv(logger)
	settings, err := config.LoadSettings(logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid settings")
	}

	stores := repository.NewMemoryStores()
	db, err := config.ConnectionDb(logger)
	switch {
	case errors.Is(err, config.ErrNoDatabaseURL):
		logger.Warn("DATABASE_URL not set, magic links are kept in memory")
	case err != nil:
		logger.WithError(err).Fatal("database")
	default:
		stores = repository.NewStores(db)
	}

	sessionSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(sessionSecret) == 0 {
		logger.Fatal("JWT_SECRET is required")
	}
	sessionManager := utils.JWTManager{
		Secret:     sessionSecret,
		Issuer:     os.Getenv("JWT_ISSUER"),
		SessionTTL: 14 * 24 * time.Hour,
	}

	var emailSender service.EmailSender = service.LogEmailSender{Log: logger}
	if apiKey := os.Getenv("RESEND_API_KEY"); strings.TrimSpace(apiKey) != "" {
		resendSender, err := service.NewResendEmailSender(apiKey, os.Getenv("EMAIL_FROM"))
		if err != nil {
			logger.WithError(err).Fatal("RESEND_API_KEY is set but the sender is incomplete")
		}
		emailSender = resendSender
	}

	clock := service.RealClock{}
	magicLinkService := service.NewMagicLinkService(
		stores.MagicLinks,
		stores.Users,
		stores.SecurityLogs,
		emailSender,
		service.RandomTokenGenerator{},
		clock,
		logger,
		settings.MagicLink,
	)
	sweeper := service.NewSweeper(stores.MagicLinks, stores.SecurityLogs, clock, logger, settings.MagicLink)

	magicLinkHandler := handler.NewMagicLinkHandler(
		magicLinkService,
		sweeper,
		service.JWTSessionIssuer{Manager: &sessionManager},
		validator.New(),
	)
	magicLinkHandler.Log = logger
	magicLinkHandler.CookieDomain = os.Getenv("COOKIE_DOMAIN")
	magicLinkHandler.SecureCookies = os.Getenv("COOKIE_SECURE") != "false"
	magicLinkHandler.LoginFailedRedirect = settings.LoginFailedRedirect
	magicLinkHandler.LogoutRedirect = settings.LogoutRedirect

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.IPExtractor = apiMiddleware.IPExtractor(settings.TrustedProxies)
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURIPath:  true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			// The path only: verify URLs carry the token in the query.
			entry := logger.WithFields(logrus.Fields{
				"status":  v.Status,
				"method":  v.Method,
				"path":    v.URIPath,
				"ip":      v.RemoteIP,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{JWT: &sessionManager, CookieName: magicLinkHandler.SessionCookieName}
	router := routes.NewRouter(app, magicLinkHandler, authMiddleware)
	router.RegisterRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.SweepInterval > 0 {
		go sweeper.Run(ctx, settings.SweepInterval)
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}()

	logger.WithField("addr", addr).Info("server started")
	if err := app.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server stopped")
	}
}
