package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/application/metric"
	"github.com/qrave1/RoomSync/internal/infra/adapters/filesystem"
	"github.com/qrave1/RoomSync/internal/infra/adapters/memory"
	"github.com/qrave1/RoomSync/internal/infra/adapters/postgres"
	"github.com/qrave1/RoomSync/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/RoomSync/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomSync/internal/infra/ports/http/server"
	"github.com/qrave1/RoomSync/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: cfg.LogLevel},
			),
		),
	)

	slog.Info("Running app", slog.Bool("debug", cfg.Debug), slog.String("catalog", cfg.Media.Catalog))

	mediaStore, err := filesystem.NewMediaStore(cfg.Media.Dir)
	if err != nil {
		slog.Error("open media store", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	var mediaRepo repository.MediaRepository
	if cfg.Media.Catalog == config.CatalogPostgres {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		mediaRepo = repository.NewMediaRepo(dbConn)
	}

	roomRepo := memory.NewRoomRepository()
	wsConnRepo := memory.NewWSConnectionRepository()

	syncUsecase := usecase.NewSyncUsecase(roomRepo, wsConnRepo, cfg.Sync.PresenceTTL)
	mediaUsecase := usecase.NewMediaUsecase(mediaStore, mediaRepo)

	mediaHandler := handlers.NewMediaHandler(mediaUsecase)
	wsHandler := handlers.NewWebSocketHandler(cfg, syncUsecase, wsConnRepo)

	echoSrv := server.New(cfg, mediaHandler, wsHandler)
	metricsSrv := metric.NewServer()

	g, gCtx := errgroup.WithContext(ctx)

	// HTTP сервер
	g.Go(func() error {
		slog.Info("HTTP server started", slog.String("port", cfg.Port))
		return ignoreClosed(echoSrv.Start(":" + cfg.Port))
	})

	// Сервер метрик
	g.Go(func() error {
		return ignoreClosed(metricsSrv.Start(":" + cfg.MetricPort))
	})

	g.Go(func() error {
		return syncUsecase.RunPresenceSweeper(gCtx, cfg.Sync.PresenceSweepInterval)
	})

	// Graceful shutdown по сигналу или падению любого из серверов
	g.Go(func() error {
		<-gCtx.Done()

		slog.Info("Shutting down servers")

		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer timeoutCancel()

		wsConnRepo.CloseAll()

		if err := echoSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown HTTP server", slog.Any(constant.Error, err))
		}

		if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
		}

		return nil
	})

	if err = g.Wait(); err != nil {
		slog.Error("server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
