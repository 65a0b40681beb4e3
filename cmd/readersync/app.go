package main

import (
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"readersync/internal/client/readwise"
	"readersync/internal/config"
	"readersync/internal/db"
	"readersync/internal/logger"
	gormrepository "readersync/internal/repository/gorm"
	"readersync/internal/service"
)

type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *db.DB
	store  *gormrepository.Store
	sync   *service.DocumentSyncService
}

func configSource(flagPath string) (string, bool) {
	path := flagPath
	if path == "" {
		path = os.Getenv("RS_CONFIG")
	}
	if path == "" {
		path = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("RS_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}
	return path, envOnly
}

func newApp(cfgPath string, envOnly bool) (*app, error) {
	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(cfg.DB, logger.Component(log, "db"))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(dbConn); err != nil {
			_ = db.Close(dbConn)
			return nil, err
		}
	}

	store := gormrepository.New(dbConn.Gorm, cfg.DB.StatementTimeout)
	client := readwise.NewClient(&http.Client{Timeout: cfg.Readwise.Timeout}, readwise.Options{
		BaseURL:     cfg.Readwise.BaseURL,
		Token:       cfg.Readwise.Token,
		AuthScheme:  cfg.Readwise.AuthScheme,
		Timeout:     cfg.Readwise.Timeout,
		MaxAttempts: cfg.Readwise.MaxAttempts,
		BackoffMin:  cfg.Readwise.BackoffMin,
		BackoffMax:  cfg.Readwise.BackoffMax,
	})
	client.Logger = logger.Component(log, "readwise")

	return &app{
		cfg:    cfg,
		logger: log,
		db:     dbConn,
		store:  store,
		sync: &service.DocumentSyncService{
			Store:  store,
			Source: client,
			Logger: logger.Component(log, "sync"),
			StoreRetry: service.StoreRetry{
				MaxAttempts: cfg.DB.RetryAttempts,
				BackoffMin:  cfg.DB.RetryBackoffMin,
				BackoffMax:  cfg.DB.RetryBackoffMax,
			},
		},
	}, nil
}

func (a *app) close() {
	if a == nil {
		return
	}
	_ = db.Close(a.db)
	_ = a.logger.Sync()
}
