package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	postgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"quest_tally/pkg/config"
	"quest_tally/pkg/data"
)

var (
	ErrAlreadyRunning = errors.New("database service already running")
	ErrNotConfigured  = errors.New("database not configured")
)

const (
	embeddedUser     = "tally"
	embeddedPassword = "tally"
	embeddedDatabase = "quest_tally"
)

// Service manages the database lifecycle and provides the snapshot
// repository
type Service struct {
	pool     *pgxpool.Pool
	embedded *postgres.EmbeddedPostgres
	logger   *zap.Logger
	config   *config.DatabaseConfig
	repo     *data.PostgresRepository
	schema   *data.SchemaManager

	mu        sync.RWMutex
	isRunning bool
}

// NewService creates a new database service
func NewService(cfg *config.DatabaseConfig, logger *zap.Logger) (*Service, error) {
	if cfg == nil || (cfg.URL == "" && !cfg.Embedded) {
		return nil, ErrNotConfigured
	}
	return &Service{
		config: cfg,
		logger: logger.Named("database"),
	}, nil
}

// Start brings up the embedded instance when configured, opens the pool
// and applies the schema
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	url := s.config.URL
	if s.config.Embedded {
		if err := s.startEmbedded(); err != nil {
			return err
		}
		url = EmbeddedURL(s.config.EmbeddedPort)
	}

	pool, err := s.createPool(ctx, url)
	if err != nil {
		return multierr.Append(err, s.cleanup())
	}
	s.pool = pool

	s.schema = data.NewSchemaManager(pool, s.logger)
	if err := s.schema.InitializeSchema(ctx); err != nil {
		return multierr.Append(fmt.Errorf("initializing schema: %w", err), s.cleanup())
	}

	s.repo = data.NewPostgresRepository(pool, s.logger)
	s.isRunning = true
	s.logger.Info("Database service started",
		zap.Bool("embedded", s.config.Embedded),
		zap.Int("maxConns", s.config.MaxConns))
	return nil
}

// Stop closes the pool and stops the embedded instance
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	err := s.cleanup()
	s.isRunning = false
	s.logger.Info("Database service stopped", zap.Error(err))
	return err
}

// GetRepository returns the data repository
func (s *Service) GetRepository() data.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.repo == nil {
		return nil
	}
	return s.repo
}

// IsHealthy checks database health
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.pool.Ping(ctx) == nil
}

// EmbeddedURL is the connection string of the embedded instance
func EmbeddedURL(port uint32) string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		embeddedUser, embeddedPassword, port, embeddedDatabase)
}

func (s *Service) startEmbedded() error {
	pg := postgres.NewDatabase(
		postgres.DefaultConfig().
			Username(embeddedUser).
			Password(embeddedPassword).
			Database(embeddedDatabase).
			Version(postgres.V16).
			Port(s.config.EmbeddedPort).
			RuntimePath(s.config.EmbeddedPath).
			StartTimeout(s.config.Timeout).
			Logger(zap.NewStdLog(s.logger).Writer()))

	if err := pg.Start(); err != nil {
		return fmt.Errorf("starting embedded postgres: %w", err)
	}
	s.embedded = pg
	s.logger.Info("Embedded postgres started",
		zap.Uint32("port", s.config.EmbeddedPort),
		zap.String("path", s.config.EmbeddedPath))
	return nil
}

func (s *Service) createPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}

	poolConfig.MaxConns = int32(s.config.MaxConns)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging connection pool: %w", err)
	}

	return pool, nil
}

func (s *Service) cleanup() error {
	var err error
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.embedded != nil {
		if stopErr := s.embedded.Stop(); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stopping embedded postgres: %w", stopErr))
		}
		s.embedded = nil
	}
	s.repo = nil
	return err
}
