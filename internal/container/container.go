package container

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"gommd/adapters/postgres"
	"gommd/adapters/rng"
	"gommd/app"
	"gommd/internal"
	"gommd/internal/config"
	"gommd/internal/metrics"
	"gommd/internal/migration"
	"gommd/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB       *sqlx.DB
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	RNG      ports.RNGPort

	// RunStore is nil until InitWithDatabase
	RunStore ports.RunStore

	Service *app.TwoSampleService
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	c := &Container{
		Config:   cfg,
		Logger:   internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel)),
		Registry: registry,
		Metrics:  metrics.New(registry),
		RNG:      rng.New(),
	}
	c.initService()
	return c, nil
}

// InitWithDatabase attaches a run store on db, creating its schema if needed
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	// Test database connection
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	migrator := migration.NewRunner()
	if err := migrator.Run(ctx, db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	c.DB = db
	c.RunStore = postgres.NewRunRepository(db)
	c.initService()
	c.Logger.Info("run store ready (schema %s)", migrator.Version())
	return nil
}

func (c *Container) initService() {
	c.Service = app.NewTwoSampleService(c.RNG, c.RunStore, c.Metrics, c.Logger)
}

// Shutdown flushes the logger and closes the database connection
func (c *Container) Shutdown(ctx context.Context) error {
	_ = c.Logger.Sync()

	// Close database connection
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
