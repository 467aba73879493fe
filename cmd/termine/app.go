package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/msw-projects/termine/internal/config"
	"github.com/msw-projects/termine/internal/parser"
	"github.com/msw-projects/termine/internal/resolver"
	"github.com/msw-projects/termine/internal/source"
	"github.com/msw-projects/termine/internal/storage"
)

// app holds the components shared by the commands that touch the cache.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	resolver *resolver.Resolver
	errorLog io.Closer
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr, cfg.Log.Level, verbose)

	var errorLog *os.File
	if cfg.Log.ErrorFile != "" {
		if errorLog, err = openErrorLog(cfg.Log.ErrorFile, cfg.Storage.DataDir); err != nil {
			return nil, err
		}
		logger = withErrorLog(logger, errorLog)
	}

	a, err := openAppWith(cfg, logger)
	if err != nil {
		if errorLog != nil {
			errorLog.Close()
		}
		return nil, err
	}
	if errorLog != nil {
		a.errorLog = errorLog
	}
	return a, nil
}

func openAppWith(cfg config.Config, logger *slog.Logger) (*app, error) {
	slog.SetDefault(logger)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	fetcher := source.New(
		source.WithBaseURL(cfg.Source.BaseURL),
		source.WithReferer(cfg.Source.Referer),
		source.WithAcceptLanguage(cfg.Source.AcceptLanguage),
		source.WithMaxDelay(cfg.Source.MaxDelay),
		source.WithTimeout(cfg.Source.Timeout),
		source.WithLogger(logger),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		resolver: resolver.New(store, fetcher, parser.New(parser.DefaultLayout()), logger),
	}, nil
}

func (a *app) Close() error {
	err := a.store.Close()
	if a.errorLog != nil {
		if cerr := a.errorLog.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
