// pkg/cache/sql.go
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/config"
	"github.com/David-Botos/epd-ingress/pkg/connector"
	"github.com/David-Botos/epd-ingress/pkg/model"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// vacuumTimeout bounds space reclamation after consolidation
const vacuumTimeout = 10 * time.Minute

// SQLStore is a Store backed by one relational table
type SQLStore struct {
	conn   connector.DatabaseConnector
	db     *sqlx.DB
	table  string // quoted identifier
	name   string
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to the configured backend and prepares the cache table
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*SQLStore, error) {
	conn, err := connector.NewConnectorFactory(cfg, logger).CreateCacheConnector(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	store, err := NewSQLStore(ctx, conn, cfg.Cache.Table, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open connection and creates the cache table if missing
func NewSQLStore(ctx context.Context, conn connector.DatabaseConnector, table string, logger *zap.Logger) (*SQLStore, error) {
	if table == "" {
		table = "cache"
	}

	s := &SQLStore{
		conn:   conn,
		db:     sqlx.NewDb(conn.DB(), conn.DriverName()),
		table:  pq.QuoteIdentifier(table),
		name:   table,
		logger: logger.Named("cache"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// migrate creates the table and its partition index
func (s *SQLStore) migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			code TEXT,
			description TEXT,
			chemical_substance TEXT,
			partition_id TEXT,
			"timestamp" TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (partition_id)`,
			pq.QuoteIdentifier("idx_"+s.name+"_partition_id"), s.table),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin migration", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageError("migrate cache table", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit migration", err)
	}
	return nil
}

// Has reports whether at least one row was stored for id
func (s *SQLStore) Has(ctx context.Context, id string) (bool, error) {
	var one int
	query := s.db.Rebind(fmt.Sprintf("SELECT 1 FROM %s WHERE partition_id = ? LIMIT 1", s.table))
	err := s.db.GetContext(ctx, &one, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError("check partition "+id, err)
	}
	return true, nil
}

// Append stores rows tagged with id in a single transaction
func (s *SQLStore) Append(ctx context.Context, id string, rows []model.Row) error {
	if len(rows) == 0 {
		s.logger.Debug("Nothing to append", zap.String("partitionID", id))
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin append", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (code, description, chemical_substance, partition_id, "timestamp") VALUES (?, ?, ?, ?, ?)`,
		s.table)))
	if err != nil {
		return storageError("prepare append", err)
	}
	defer stmt.Close()

	ts := s.now()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Code, r.Description, r.ChemicalSubstance, id, ts); err != nil {
			return storageError("append to partition "+id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit append", err)
	}

	s.logger.Info("Partition saved to cache",
		zap.String("partitionID", id),
		zap.Int("rows", len(rows)))
	return nil
}

// Read returns the distinct rows stored under any of ids
func (s *SQLStore) Read(ctx context.Context, ids []string) (*model.RowSet, error) {
	if len(ids) == 0 {
		return model.NewRowSet(), nil
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		`SELECT DISTINCT code, description, chemical_substance FROM %s
		WHERE partition_id IN (?)
		ORDER BY code, description, chemical_substance`, s.table), ids)
	if err != nil {
		return nil, storageError("build read query", err)
	}

	var rows []model.Row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, storageError("read cached partitions", err)
	}

	s.logger.Debug("Read cached partitions",
		zap.Strings("partitionIDs", ids),
		zap.Int("rows", len(rows)))
	return model.NewRowSet(rows...), nil
}

// PartitionIDs lists every partition identifier in the cache
func (s *SQLStore) PartitionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	query := fmt.Sprintf("SELECT DISTINCT partition_id FROM %s ORDER BY partition_id", s.table)
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, storageError("list partitions", err)
	}
	return ids, nil
}

// SyntheticCutoffYear returns the smallest year among the stored pre-cutoff buckets
func (s *SQLStore) SyntheticCutoffYear(ctx context.Context) (int, error) {
	var ids []string
	query := s.db.Rebind(fmt.Sprintf("SELECT DISTINCT partition_id FROM %s WHERE partition_id LIKE ?", s.table))
	if err := s.db.SelectContext(ctx, &ids, query, model.SyntheticPrefix+"%"); err != nil {
		return 0, storageError("list synthetic partitions", err)
	}

	year := 0
	for _, id := range ids {
		y, err := model.ParseSyntheticYear(id)
		if err != nil {
			s.logger.Warn("Ignoring malformed synthetic partition", zap.String("partitionID", id))
			continue
		}
		if year == 0 || y < year {
			year = y
		}
	}

	if year == 0 {
		return 0, fmt.Errorf("%w: cache holds no %s<year> partition; seed it or set a cutoff year",
			model.ErrConfiguration, model.SyntheticPrefix)
	}
	return year, nil
}

// Count returns the number of distinct rows stored for id
func (s *SQLStore) Count(ctx context.Context, id string) (int64, error) {
	var count int64
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT COUNT(*) FROM (SELECT DISTINCT code, description, chemical_substance FROM %s WHERE partition_id = ?) d`,
		s.table))
	if err := s.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, storageError("count partition "+id, err)
	}
	return count, nil
}

// Consolidate folds every partition older than year into the synthetic bucket
// for year and removes duplicate rows. It is a maintenance operation and the
// only one that rewrites stored rows.
func (s *SQLStore) Consolidate(ctx context.Context, year int) (*ConsolidateStats, error) {
	if year <= 0 {
		return nil, fmt.Errorf("%w: consolidation year must be positive", model.ErrConfiguration)
	}

	bucket := model.SyntheticID(year)
	ids, err := s.PartitionIDs(ctx)
	if err != nil {
		return nil, err
	}

	var fold []string
	for _, id := range ids {
		if id == bucket {
			continue
		}
		if model.IsSynthetic(id) {
			y, err := model.ParseSyntheticYear(id)
			if err != nil {
				continue
			}
			if y > year {
				return nil, fmt.Errorf("%w: %s covers months after %d and cannot be folded into %s",
					model.ErrConfiguration, id, year, bucket)
			}
			fold = append(fold, id)
			continue
		}
		if p, ok := model.PeriodFromTableName(id); ok && p.Year < year {
			fold = append(fold, id)
		}
	}
	sort.Strings(fold)

	stats := &ConsolidateStats{Bucket: bucket, Partitions: fold}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storageError("begin consolidation", err)
	}
	defer tx.Rollback()

	if err := tx.GetContext(ctx, &stats.RowsBefore, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)); err != nil {
		return nil, storageError("count rows", err)
	}

	if len(fold) > 0 {
		query, args, err := sqlx.In(fmt.Sprintf("UPDATE %s SET partition_id = ? WHERE partition_id IN (?)", s.table), bucket, fold)
		if err != nil {
			return nil, storageError("build relabel query", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return nil, storageError("relabel partitions", err)
		}
		stats.RowsRelabelled, _ = res.RowsAffected()
	}

	// Rebuild the table keeping one row per partition and content, with its first timestamp
	dedupe := []string{
		fmt.Sprintf(`CREATE TEMP TABLE epd_consolidate AS
			SELECT code, description, chemical_substance, partition_id, MIN("timestamp") AS first_seen
			FROM %s
			GROUP BY code, description, chemical_substance, partition_id`, s.table),
		fmt.Sprintf("DELETE FROM %s", s.table),
		fmt.Sprintf(`INSERT INTO %s (code, description, chemical_substance, partition_id, "timestamp")
			SELECT code, description, chemical_substance, partition_id, first_seen FROM epd_consolidate`, s.table),
		"DROP TABLE epd_consolidate",
	}
	for _, stmt := range dedupe {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, storageError("deduplicate cache", err)
		}
	}

	if err := tx.GetContext(ctx, &stats.RowsAfter, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)); err != nil {
		return nil, storageError("count rows", err)
	}
	stats.DuplicatesRemoved = stats.RowsBefore - stats.RowsAfter

	if err := tx.Commit(); err != nil {
		return nil, storageError("commit consolidation", err)
	}

	// VACUUM cannot run inside a transaction
	vacuum := "VACUUM"
	if s.conn.DriverName() != "sqlite" {
		vacuum = "VACUUM " + s.table
	}
	if _, err := s.conn.ExecWithTimeout(ctx, vacuum, vacuumTimeout); err != nil {
		s.logger.Warn("Failed to reclaim space", zap.Error(err))
	}

	s.logger.Info("Cache consolidated",
		zap.String("bucket", bucket),
		zap.Strings("folded", fold),
		zap.Int64("rowsBefore", stats.RowsBefore),
		zap.Int64("rowsRelabelled", stats.RowsRelabelled),
		zap.Int64("duplicatesRemoved", stats.DuplicatesRemoved),
		zap.Int64("rowsAfter", stats.RowsAfter))

	return stats, nil
}

// Close releases the underlying connection
func (s *SQLStore) Close() error {
	return s.conn.Close()
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", model.ErrStorage, op, err)
}
