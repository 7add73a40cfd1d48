// pkg/cleaner/cleaner.go
package cleaner

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// ErrMissingColumns is returned when a record source lacks a tracked column
var ErrMissingColumns = errors.New("required columns missing")

// DataCleaner normalizes raw API records into rows
type DataCleaner struct {
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	totals map[string]int
}

// NewDataCleaner creates a new DataCleaner instance
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataCleaner{
		logger: logger,
		now:    time.Now,
		totals: make(map[string]int),
	}
}

// RowsFromRecords converts the inline JSON records of a query response.
// Required columns are checked against the keys of the first record.
func (c *DataCleaner) RowsFromRecords(
	partitionID string,
	records []map[string]interface{},
) ([]model.Row, []model.CleaningOperation, error) {
	if len(records) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, 0, len(records[0]))
	for k := range records[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	schema, err := requireSchema(partitionID, keys)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]model.Row, 0, len(records))
	var operations []model.CleaningOperation

	for i, record := range records {
		values := make([]interface{}, len(schema.Headers))
		for j, header := range schema.Headers {
			values[j] = record[header]
		}

		row, ops := c.cleanRow(partitionID, i, schema, values)
		rows = append(rows, row)
		operations = append(operations, ops...)
	}

	c.record(partitionID, len(rows), operations)
	return rows, operations, nil
}

// RowsFromCSV converts a header plus records read from a bulk export
func (c *DataCleaner) RowsFromCSV(
	partitionID string,
	header []string,
	records [][]string,
) ([]model.Row, []model.CleaningOperation, error) {
	schema, err := requireSchema(partitionID, header)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]model.Row, 0, len(records))
	var operations []model.CleaningOperation

	for i, record := range records {
		values := make([]interface{}, len(schema.Headers))
		for j := range schema.Headers {
			if j < len(record) {
				values[j] = record[j]
			}
		}

		row, ops := c.cleanRow(partitionID, i, schema, values)
		rows = append(rows, row)
		operations = append(operations, ops...)
	}

	c.record(partitionID, len(rows), operations)
	return rows, operations, nil
}

// cleanRow builds one row from positional values
func (c *DataCleaner) cleanRow(
	partitionID string,
	rowIndex int,
	schema *model.RecordSchema,
	values []interface{},
) (model.Row, []model.CleaningOperation) {
	var row model.Row
	var operations []model.CleaningOperation

	for _, col := range model.TrackedColumns {
		ctx := model.CleaningContext{
			PartitionID: partitionID,
			ColumnName:  col.Header(),
			RowIndex:    rowIndex,
		}

		cleaned, op := cleanValue(values[schema.Index[col]], ctx)
		if op != nil {
			op.CleanedAt = c.now()
			operations = append(operations, *op)
		}

		switch col {
		case model.ColumnCode:
			row.Code = cleaned
		case model.ColumnDescription:
			row.Description = cleaned
		case model.ColumnChemicalSubstance:
			row.ChemicalSubstance = cleaned
		}
	}

	return row, operations
}

// record folds operation counts into the running totals
func (c *DataCleaner) record(partitionID string, rowCount int, operations []model.CleaningOperation) {
	if len(operations) == 0 {
		return
	}

	summary := SummarizeOperations(operations)

	c.mu.Lock()
	for op, n := range summary {
		c.totals[op] += n
	}
	c.mu.Unlock()

	fields := []zap.Field{
		zap.String("partitionID", partitionID),
		zap.Int("rows", rowCount),
		zap.Int("operations", len(operations)),
	}
	for op, n := range summary {
		fields = append(fields, zap.Int(op, n))
	}
	c.logger.Debug("Cleaned partition records", fields...)
}

// Totals returns the number of cleaning operations applied so far, by type
func (c *DataCleaner) Totals() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	totals := make(map[string]int, len(c.totals))
	for k, v := range c.totals {
		totals[k] = v
	}
	return totals
}

// SummarizeOperations counts operations by type
func SummarizeOperations(operations []model.CleaningOperation) map[string]int {
	summary := make(map[string]int)
	for _, op := range operations {
		summary[op.CleaningOperation]++
	}
	return summary
}

// requireSchema maps headers to tracked columns and fails if any are absent
func requireSchema(partitionID string, headers []string) (*model.RecordSchema, error) {
	schema, missing := model.NewRecordSchema(headers)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w in partition %s: %s",
			ErrMissingColumns, partitionID, strings.Join(missing, ", "))
	}
	return schema, nil
}
