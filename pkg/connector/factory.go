// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/config"
)

// ConnectorFactory creates database connectors
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCacheConnector opens the connection backing the partition cache
func (f *ConnectorFactory) CreateCacheConnector(ctx context.Context) (DatabaseConnector, error) {
	f.logger.Info("Creating cache connector", zap.String("backend", f.cfg.Cache.Backend))

	switch f.cfg.Cache.Backend {
	case "sqlite":
		conn, err := NewSQLiteConnector(ctx, f.cfg.Cache.Path, f.cfg.Cache.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite connector: %w", err)
		}
		return conn, nil
	case "postgres":
		conn, err := NewPostgresConnector(ctx, f.cfg.Cache.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", f.cfg.Cache.Backend)
	}
}

// CreateSnowflakeConnector creates a new Snowflake connector for historical backfill
func (f *ConnectorFactory) CreateSnowflakeConnector(ctx context.Context) (*SnowflakeConnector, error) {
	f.logger.Info("Creating Snowflake connector")

	sfCfg, err := f.cfg.Warehouse.LoadSnowflakeConfig()
	if err != nil {
		return nil, err
	}

	conn, err := NewSnowflakeConnector(ctx, sfCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Snowflake connector: %w", err)
	}

	return conn, nil
}
