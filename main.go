package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abdusco/shortly/internal/auth"
	"github.com/abdusco/shortly/internal/db"
	"github.com/abdusco/shortly/internal/handler"
	"github.com/abdusco/shortly/internal/logger"
	"github.com/abdusco/shortly/internal/metrics"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/abdusco/shortly/internal/shortener"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const devJWTSecret = "shortly-dev-secret"

type Config struct {
	Host            string
	Port            string
	DBPath          string
	SiteURL         string
	JWTSecret       string `json:"-"`
	TokenTTL        time.Duration
	MaxCodeAttempts int
	LogLevel        string
	Debug           bool
	Env             string
}

func newConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:      cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:      cmp.Or(os.Getenv("PORT"), "8080"),
		DBPath:    cmp.Or(os.Getenv("DB_PATH"), "shortly.db"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		LogLevel:  cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:     os.Getenv("DEBUG") == "1",
		Env:       cmp.Or(os.Getenv("ENV"), "development"),
	}
	cfg.SiteURL = cmp.Or(os.Getenv("SITE_URL"), "http://"+cfg.Host+":"+cfg.Port+"/")

	ttl, err := parseTTL(cmp.Or(os.Getenv("TOKEN_TTL"), "3600"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}
	cfg.TokenTTL = ttl

	cfg.MaxCodeAttempts, err = strconv.Atoi(cmp.Or(os.Getenv("MAX_CODE_ATTEMPTS"), strconv.Itoa(shortener.DefaultMaxCodeAttempts)))
	if err != nil || cfg.MaxCodeAttempts < 1 {
		return Config{}, errors.New("invalid MAX_CODE_ATTEMPTS: must be a positive integer")
	}

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return Config{}, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = devJWTSecret
		log.Warn().Msg("using a development JWT_SECRET - set JWT_SECRET for production")
	}

	return cfg, nil
}

// parseTTL accepts plain seconds or a Go duration such as "90m".
func parseTTL(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, errors.New("must be positive")
	}
	return ttl, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("failed to load .env file")
	}

	cfg, err := newConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	if err := logger.Setup(cfg.LogLevel, cfg.Debug || cfg.Env != "production"); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to set up logging")
	}

	log.Info().
		Interface("config", cfg).
		Msg("current configuration")

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(ctx context.Context, cfg Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	conn, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer conn.Close()

	store := repo.NewStore(conn)
	service := shortener.NewService(store, shortener.WithMaxCodeAttempts(cfg.MaxCodeAttempts))
	authenticator := auth.NewAuthenticator(store.Accounts, cfg.JWTSecret, cfg.TokenTTL)

	e := newEcho()
	defer e.Close()

	e.GET("/health", func(c echo.Context) error {
		if err := conn.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	handler.Routes(e, authenticator, service, cfg.SiteURL)

	address := cfg.Host + ":" + cfg.Port
	log.Info().Str("address", address).Msg("server starting")

	return runServer(ctx, e, address)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(metrics.Middleware())
	return e
}

func runServer(ctx context.Context, e *echo.Echo, address string) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(address)
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
	return nil
}
