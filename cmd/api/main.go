package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atelier/internal/api"
	"atelier/internal/config"
	"atelier/internal/database"
	"atelier/internal/domain"
	"atelier/internal/escrow"
	"atelier/internal/events"
	"atelier/internal/export"
	"atelier/internal/google"
	"atelier/internal/logging"
	"atelier/internal/metrics"
	"atelier/internal/models"
	"atelier/internal/notify"
	"atelier/internal/repository"
	"atelier/internal/service"
	"atelier/internal/settings"
	"atelier/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const idempotencyTTL = 24 * time.Hour

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
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedTailors(db, &logger); err != nil {
		return err
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	idemStore := initIdempotencyStore(redisClient, &logger)
	gateway := escrow.NewClient(cfg.Escrow, &logger)
	settingsProvider := settings.NewProvider(db, &logger)
	eventBus := events.NewEventBus()
	events.AttachMetrics(eventBus)

	initNotifier(cfg, eventBus, &logger)

	sheetsService := initGoogleSheets(cfg, &logger)

	syncWorker := worker.NewSyncWorker(db, sheetsService, redisClient, worker.RetryPolicy{
		MaxRetries: cfg.Workers.SyncMaxRetries,
	}, &logger)
	syncWorker.SetPollInterval(time.Duration(cfg.Workers.SyncIntervalSeconds) * time.Second)
	syncWorker.SetBatchSize(cfg.Workers.SyncBatchSize)

	deadlineWorker := worker.NewDeadlineWorker(
		db,
		eventBus,
		time.Duration(cfg.Workers.DeadlineIntervalMinutes)*time.Minute,
		time.Duration(cfg.Workers.ReminderLeadHours)*time.Hour,
		&logger,
	)

	bookingService := service.NewBookingService(db, db, gateway, idemStore, settingsProvider, eventBus, syncWorker, &logger)
	orderService := service.NewOrderService(db, db, gateway, idemStore, settingsProvider, eventBus, syncWorker, &logger)

	exporter := export.NewExporter(db, cfg.Exports.Path, &logger)

	server := api.NewServer(cfg.API, bookingService, orderService, exporter, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	if sheetsService != nil {
		go syncWorker.Start(ctx)
	} else {
		logger.Info().Msg("sheets sync disabled, sync worker not started")
	}
	go deadlineWorker.Start(ctx)

	return startServer(ctx, server, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

// seedTailors loads the tailor roster from a YAML catalog and upserts
// it into the database. The file is optional: a deployment that
// manages tailors elsewhere just skips it.
func seedTailors(db *database.DB, logger *zerolog.Logger) error {
	tailorsPath := os.Getenv("TAILORS_PATH")
	if tailorsPath == "" {
		tailorsPath = "configs/tailors.yaml"
	}

	data, err := os.ReadFile(tailorsPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("tailors_path", tailorsPath).Msg("tailor catalog not found, skipping seed")
			return nil
		}
		logger.Error().Err(err).Str("tailors_path", tailorsPath).Msg("read tailor catalog")
		return err
	}

	var catalog struct {
		Tailors []struct {
			ID                int64  `yaml:"id"`
			Name              string `yaml:"name"`
			AcceptingBookings bool   `yaml:"accepting_bookings"`
		} `yaml:"tailors"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("tailors_path", tailorsPath).Msg("parse tailor catalog")
		return err
	}

	ctx := context.Background()
	for _, t := range catalog.Tailors {
		tailor := models.Tailor{
			ID:                t.ID,
			Name:              t.Name,
			AcceptingBookings: t.AcceptingBookings,
		}
		if err := db.UpsertTailor(ctx, &tailor); err != nil {
			return fmt.Errorf("seed tailor %d: %w", t.ID, err)
		}
	}

	logger.Info().Int("count", len(catalog.Tailors)).Msg("tailor catalog seeded")
	return nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initIdempotencyStore(redisClient *redis.Client, logger *zerolog.Logger) domain.IdempotencyStore {
	memory := repository.NewMemoryIdempotencyStore(idempotencyTTL)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisIdempotencyStore(redisClient, idempotencyTTL)
	return repository.NewFailoverIdempotencyStore(primary, memory, logger)
}

func initNotifier(cfg *config.Config, eventBus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled {
		return
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}

	notify.NewDispatcher(notifier, logger).Attach(eventBus)
	logger.Info().Msg("telegram notifications attached")
}

func initGoogleSheets(cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled || cfg.Google.GoogleCredentialsFile == "" || cfg.Google.SpreadSheetID == "" {
		return nil
	}

	sheetsService, err := google.NewSheetsService(cfg.Google.GoogleCredentialsFile, cfg.Google.SpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sheetsService.TestConnection(ctx); err != nil {
		// Name the account so the operator knows whom to share the
		// spreadsheet with.
		email, _ := sheetsService.GetServiceAccountEmail(cfg.Google.GoogleCredentialsFile)
		logger.Warn().Err(err).Str("service_account", email).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, server *api.Server, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
