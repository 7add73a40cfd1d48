package connector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/config"
)

func TestSQLiteConnectorCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.sqlite")

	conn, err := NewSQLiteConnector(ctx, path, 0)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "sqlite", conn.DriverName())
	require.NoError(t, conn.Validate(ctx))

	_, err = conn.ExecWithTimeout(ctx, "CREATE TABLE t (a TEXT)", 5*time.Second)
	require.NoError(t, err)
}

func TestFactoryCreatesSQLiteCache(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.sqlite")

	conn, err := NewConnectorFactory(cfg, zap.NewNop()).CreateCacheConnector(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "sqlite", conn.DriverName())
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = "badger"

	_, err := NewConnectorFactory(cfg, zap.NewNop()).CreateCacheConnector(context.Background())
	assert.Error(t, err)
}
