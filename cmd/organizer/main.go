package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/api"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/config"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/connectivity"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/database"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/domain"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/events"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/export"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/google"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/logging"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/merge"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/metrics"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/queue"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/repository"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, logger); err != nil {
		return err
	}

	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Msg("database init failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entityClient, calendarClient, err := initGoogleClients(ctx, cfg, logger)
	if err != nil {
		return err
	}

	redisClient, statusRepo := initStatusRepository(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewBus()
	q := queue.New(db, bus, logging.Component(logger, "queue"))

	monitor := connectivity.NewMonitor(
		connectivity.HTTPProbe(cfg.Sync.ProbeURL),
		cfg.Sync.ProbeInterval,
		bus,
		logging.Component(logger, "connectivity"),
	)
	go monitor.Start(ctx)

	orch := syncer.New(syncer.Options{
		Queue:      q,
		Store:      db,
		Entity:     entityClient,
		Calendar:   calendarClient,
		Monitor:    monitor,
		Bus:        bus,
		StatusRepo: statusRepo,
		Debounce:   cfg.Sync.DrainDebounce,
		Logger:     logging.Component(logger, "syncer"),
	})
	orch.Run(ctx)

	engine := merge.New(db, calendarClient, q, monitor, bus, orch, logging.Component(logger, "merge"))

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	if cfg.API.Enabled {
		exporter := export.New(cfg.Export.Path, logging.Component(logger, "export"))
		apiServer := api.NewHTTPServer(cfg.API, engine, orch, exporter, logging.Component(logger, "api"))
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	logger.Info().Str("version", cfg.App.Version).Msg("organizer sync service started")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("creating database directory failed")
		return err
	}
	if cfg.Export.Path != "" {
		if err := os.MkdirAll(cfg.Export.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("creating export directory failed")
			return err
		}
	}
	return nil
}

func initGoogleClients(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.EntityClient, domain.CalendarClient, error) {
	if cfg.Google.CredentialsFile == "" || cfg.Google.CalendarID == "" || cfg.Google.FirestoreProject == "" {
		logger.Error().Msg("Google credentials, calendar id and firestore project are required")
		return nil, nil, os.ErrInvalid
	}

	calendarSvc, err := google.NewCalendarService(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize Google Calendar service")
		return nil, nil, err
	}
	// The host may simply be offline at startup; the sync loop recovers
	// once the probe reports online.
	if err := calendarSvc.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("Google Calendar connection test failed")
	}

	firestoreSvc, err := google.NewFirestoreService(ctx, cfg.Google.CredentialsFile, cfg.Google.FirestoreProject)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize Firestore service")
		return nil, nil, err
	}

	logger.Info().Msg("Google services initialized")
	return firestoreSvc, calendarSvc, nil
}

func initStatusRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.StatusRepository) {
	fallback := repository.NewMemoryStatusRepository()
	if cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	primary := repository.NewRedisStatusRepository(redisClient)
	return redisClient, repository.NewFailoverStatusRepository(primary, fallback, logger)
}
