// pkg/warehouse/warehouse.go
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/cleaner"
	"github.com/David-Botos/epd-ingress/pkg/config"
	"github.com/David-Botos/epd-ingress/pkg/connector"
	"github.com/David-Botos/epd-ingress/pkg/model"
)

// tablePattern accepts table, schema.table and database.schema.table
var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Streamer runs a query and hands each result row to processor
type Streamer interface {
	StreamQuery(ctx context.Context, query string, processor func(*sql.Rows) error, args ...interface{}) (int, error)
}

// Client reads historical prescribing rows from the warehouse
type Client struct {
	streamer Streamer
	table    string
	cleaner  *cleaner.DataCleaner
	logger   *zap.Logger
}

// SeedStats summarizes one backfill into the cache
type SeedStats struct {
	PartitionID string
	RowsRead    int
	RowsStored  int
	Skipped     bool
	Duration    time.Duration
}

// Open connects to Snowflake with the configured credentials
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Client, error) {
	conn, err := connector.NewConnectorFactory(cfg, logger).CreateSnowflakeConnector(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Validate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	client, err := NewClient(conn, cfg.Warehouse.HistoricTable, cleaner.NewDataCleaner(logger), logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// NewClient creates a warehouse client reading from table
func NewClient(streamer Streamer, table string, dataCleaner *cleaner.DataCleaner, logger *zap.Logger) (*Client, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid historic table name %q", model.ErrConfiguration, table)
	}
	if dataCleaner == nil {
		dataCleaner = cleaner.NewDataCleaner(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		streamer: streamer,
		table:    table,
		cleaner:  dataCleaner,
		logger:   logger.Named("warehouse"),
	}, nil
}

// Close releases the warehouse connection when the streamer owns one
func (c *Client) Close() error {
	if closer, ok := c.streamer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Historic returns the distinct rows of every month strictly before cutoff
func (c *Client) Historic(ctx context.Context, before model.Period) (*model.RowSet, error) {
	cutoff, err := validateCutoff(before)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT DISTINCT %s, %s, %s FROM %s WHERE YEAR_MONTH < ?",
		model.HeaderCode, model.HeaderDescription, model.HeaderChemicalSubstance, c.table)

	c.logger.Info("Querying historical rows",
		zap.String("table", c.table),
		zap.Int("cutoff", cutoff))

	var records [][]string
	read, err := c.streamer.StreamQuery(ctx, query, func(rows *sql.Rows) error {
		var code, desc, chem sql.NullString
		if err := rows.Scan(&code, &desc, &chem); err != nil {
			return err
		}
		records = append(records, []string{code.String, desc.String, chem.String})
		return nil
	}, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical rows: %w", err)
	}

	header := []string{model.HeaderCode, model.HeaderDescription, model.HeaderChemicalSubstance}
	rows, _, err := c.cleaner.RowsFromCSV(model.SyntheticID(before.Year), header, records)
	if err != nil {
		return nil, err
	}

	set := model.NewRowSet(rows...)
	c.logger.Info("Historical rows loaded",
		zap.Int("rowsRead", read),
		zap.Int("distinctRows", set.Count()))
	return set, nil
}

// Seed loads the historical rows before cutoff into the synthetic bucket for
// cutoff's year. A bucket that already holds rows is left untouched.
func (c *Client) Seed(ctx context.Context, store cache.Store, before model.Period) (*SeedStats, error) {
	start := time.Now()
	if _, err := validateCutoff(before); err != nil {
		return nil, err
	}

	stats := &SeedStats{PartitionID: model.SyntheticID(before.Year)}
	if before.Month != 1 {
		c.logger.Warn("Cutoff is not January, months of the cutoff year will also be fetched live",
			zap.String("cutoff", before.String()))
	}

	exists, err := store.Has(ctx, stats.PartitionID)
	if err != nil {
		return nil, err
	}
	if exists {
		c.logger.Info("Synthetic partition already seeded", zap.String("partitionID", stats.PartitionID))
		stats.Skipped = true
		stats.Duration = time.Since(start)
		return stats, nil
	}

	set, err := c.Historic(ctx, before)
	if err != nil {
		return nil, err
	}
	stats.RowsRead = set.Count()

	if err := store.Append(ctx, stats.PartitionID, set.Rows()); err != nil {
		return nil, err
	}
	stats.RowsStored = set.Count()
	stats.Duration = time.Since(start)

	c.logger.Info("Seeded synthetic partition",
		zap.String("partitionID", stats.PartitionID),
		zap.Int("rowsStored", stats.RowsStored),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// validateCutoff returns the YYYYMM cutoff as the integer compared in SQL
func validateCutoff(before model.Period) (int, error) {
	if before.IsZero() {
		return 0, fmt.Errorf("%w: cutoff period is required", model.ErrInvalidDateFormat)
	}
	p, err := model.ParsePeriod(before.String())
	if err != nil {
		return 0, err
	}
	cutoff, _ := strconv.Atoi(p.String())
	return cutoff, nil
}
