// Package bootstrap wires configuration into running components for the
// binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/awsclient"
	"github.com/kdimtricp/modcheck/internal/cache"
	"github.com/kdimtricp/modcheck/internal/config"
	"github.com/kdimtricp/modcheck/internal/database"
	"github.com/kdimtricp/modcheck/internal/dynamo"
	"github.com/kdimtricp/modcheck/internal/metrics"
	"github.com/kdimtricp/modcheck/internal/moderation"
	"github.com/kdimtricp/modcheck/internal/storage"
)

// Services holds everything the HTTP server and the CLI tools run on.
type Services struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        cache.Store
	Orchestrator *moderation.Orchestrator
	Registry     *prometheus.Registry

	closers []func() error
}

// OpenStore opens the configured record backend, wrapped in the configured
// cache. The returned close function is never nil.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, func() error, error) {
	var (
		store   cache.Store
		closers []func() error
	)

	switch cfg.Store.Backend {
	case config.StoreSQL:
		db, err := database.NewDB(cfg.DatabaseConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.RunMigrations(ctx, ""); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		closers = append(closers, db.Close)
		store = database.NewRecordRepository(db)
		logger.Info("using sql record store", "type", db.Type())

	case config.StoreDynamoDB:
		awsCfg, err := awsclient.Load(ctx, cfg.AWSClientConfig())
		if err != nil {
			return nil, nil, err
		}
		store = dynamo.NewRecordStore(awsCfg, cfg.DynamoConfig(), logger)
		logger.Info("using dynamodb record store", "table", cfg.Store.DynamoTable)

	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	var backend cache.Backend
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		backend = cache.NewMemoryBackend(cfg.Cache.TerminalTTL, cfg.Cache.TerminalTTL)
	case config.CacheRedis:
		redisBackend := cache.NewRedisBackend(cfg.RedisOptions())
		if err := redisBackend.Ping(ctx); err != nil {
			redisBackend.Close()
			closeAll(closers)
			return nil, nil, err
		}
		backend = redisBackend
	}
	if backend != nil {
		recordCache := cache.NewRecordCache(store, backend, cfg.CacheConfig(), logger)
		closers = append(closers, recordCache.Close)
		store = recordCache
		logger.Info("record cache enabled", "backend", cfg.Cache.Backend)
	}

	return store, func() error { return closeAll(closers) }, nil
}

func openObjectStorage(cfg *config.Config, awsCfg aws.Config) (storage.Storage, error) {
	switch cfg.Objects.Check {
	case config.ObjectsS3:
		return storage.NewS3Storage(awsCfg, cfg.Analyzer.Bucket), nil
	case config.ObjectsLocal:
		return storage.NewLocalStorage(cfg.Objects.LocalDir)
	default:
		return nil, nil
	}
}

// New builds the full service graph.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger}

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.Store = store
	s.closers = append(s.closers, closeStore)

	awsCfg, err := awsclient.Load(ctx, cfg.AWSClientConfig())
	if err != nil {
		s.close()
		return nil, err
	}

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewModerationMetrics(s.Registry)
	if err != nil {
		s.close()
		return nil, err
	}

	opts := []moderation.Option{
		moderation.WithLogger(logger),
		moderation.WithMetrics(m),
	}
	objects, err := openObjectStorage(cfg, awsCfg)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	if objects != nil {
		opts = append(opts, moderation.WithObjectStorage(objects))
	}

	rekognition := analyzer.NewRekognitionClient(awsCfg, cfg.AnalyzerConfig(), logger)
	s.Orchestrator, err = moderation.New(rekognition, store, cfg.ModerationConfig(), opts...)
	if err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

// Close waits for in-flight jobs until ctx ends, then releases the stores.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Orchestrator != nil {
		if err := s.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("in-flight jobs abandoned: %w", err))
		}
	}
	if err := s.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Services) close() error {
	err := closeAll(s.closers)
	s.closers = nil
	return err
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
