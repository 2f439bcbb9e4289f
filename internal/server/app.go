// Package server wires the application together: configuration, database,
// repositories, services, the HTTP API and the release worker, plus graceful
// shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/floodyc/AfterLiving/internal/keyvault"
	"github.com/floodyc/AfterLiving/internal/logging"
	"github.com/floodyc/AfterLiving/internal/server/audit"
	"github.com/floodyc/AfterLiving/internal/server/blob"
	"github.com/floodyc/AfterLiving/internal/server/config"
	"github.com/floodyc/AfterLiving/internal/server/httpapi"
	"github.com/floodyc/AfterLiving/internal/server/messages"
	"github.com/floodyc/AfterLiving/internal/server/notify"
	"github.com/floodyc/AfterLiving/internal/server/release"
	"github.com/floodyc/AfterLiving/internal/server/repositories/repomanager"
	"github.com/floodyc/AfterLiving/internal/server/verifiers"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	httpServer *httpapi.Server
	worker     *release.Worker
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	vault, err := keyvault.New(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("key vault init error: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	store := blob.NewS3Store(cfg.S3Bucket, cfg.S3Region, cfg.S3BaseEndpoint, cfg.S3RootUser, cfg.S3RootPassword)
	sink := notify.NewLogSink(logger)

	verifierSvc := verifiers.NewService(db, rm, cfg, sink)
	releaseSvc := release.NewService(db, rm, cfg, sink)
	messageSvc := messages.NewService(db, rm, cfg, vault, store)
	auditSvc := audit.NewService(db, rm)

	handler := httpapi.NewHandler(verifierSvc, releaseSvc, messageSvc, auditSvc, cfg, logger)
	httpServer := httpapi.NewServer(cfg.HTTPAddr, handler, logger)

	worker := release.NewWorker(db, rm, cfg, vault, sink, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		httpServer: httpServer,
		worker:     worker,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.worker.Run(ctx)
	}()

	<-ctx.Done()
	app.httpServer.Shutdown()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err)
	}
	app.logger.Info(ctx, "app stopped")
}
