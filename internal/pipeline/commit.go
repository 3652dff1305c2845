package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	"github.com/openregistry/tmbulk/internal/decode"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
	"github.com/openregistry/tmbulk/internal/schema"
)

// CommitEngine applies one parsed batch to the product's target table and
// flips the ledger, as a single unit of durability: the row upsert, the
// batch's committed flag and the file's counters move in one transaction.
type CommitEngine struct {
	db      *gorm.DB
	files   catalog.SourceFileRepo
	batches catalog.BatchRepo
	log     *logger.Logger

	// rowTolerance is the number of individually rejected rows a batch may
	// shed before the whole batch is aborted as structural.
	rowTolerance int
}

func NewCommitEngine(db *gorm.DB, files catalog.SourceFileRepo, batches catalog.BatchRepo, rowTolerance int, baseLog *logger.Logger) *CommitEngine {
	return &CommitEngine{
		db:           db,
		files:        files,
		batches:      batches,
		rowTolerance: rowTolerance,
		log:          baseLog.With("service", "CommitEngine"),
	}
}

// Commit writes the batch's rows with upsert semantics keyed by the kind's
// natural key, then marks the batch committed and advances the file's
// counters, all in one transaction. With no natural key the write is
// insert-only under surrogate keys; duplicate delivery of a retried partial
// batch is then possible and accepted as a bounded limitation.
//
// On error the batch stays parsed-uncommitted and nothing of the batch is
// visible in the target table.
func (e *CommitEngine) Commit(ctx context.Context, product *types.Product, kind schema.Kind, file *types.SourceFile, batch *BatchRows) error {
	spec := schema.SpecFor(kind)
	rows := e.prepareRows(spec, product, file, batch)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		saved, err := e.writeRows(tx, product.TargetTable, spec, rows)
		if err != nil {
			return err
		}
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := e.batches.MarkCommitted(dbc, product.ProductID, file.FileName, batch.Number); err != nil {
			return fmt.Errorf("flip batch committed: %w", err)
		}
		if err := e.files.AddCommittedBatch(dbc, product.ProductID, file.FileName, batch.Number, int64(saved)); err != nil {
			return fmt.Errorf("advance file counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch %d of %s/%s: %w", batch.Number, product.ProductID, file.FileName, err)
	}
	return nil
}

// prepareRows normalizes every record onto the spec's column set and stamps
// the metadata suffix. Each row carries the full column list so the batch
// insert is uniform.
func (e *CommitEngine) prepareRows(spec schema.TableSpec, product *types.Product, file *types.SourceFile, batch *BatchRows) []map[string]interface{} {
	columns := spec.ColumnNames()
	out := make([]map[string]interface{}, 0, len(batch.Rows))
	for _, rec := range batch.Rows {
		var normalized decode.Record
		if spec.Kind == schema.KindGeneric {
			normalized = decode.Record{"raw_data": rawPayload(rec)}
		} else {
			normalized = decode.NormalizeForSchema(rec, spec)
		}
		row := make(map[string]interface{}, len(columns))
		for _, col := range columns {
			row[col] = normalized[col]
		}
		row["data_source"] = product.ProductID + "/" + file.FileName
		row["file_hash"] = file.FileHash
		row["batch_number"] = batch.Number
		delete(row, "created_at")
		delete(row, "updated_at")
		out = append(out, row)
	}
	return out
}

// writeRows upserts the batch into the target table. A constraint error
// aborts the batch unless per-row tolerance is configured, in which case
// rows are retried one by one under savepoints and the rejects are counted
// against the tolerance.
func (e *CommitEngine) writeRows(tx *gorm.DB, tableName string, spec schema.TableSpec, rows []map[string]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	// The bulk insert runs under its own savepoint. A failed statement
	// puts the whole transaction in aborted state until rolled back to a
	// savepoint established before it, so without this the salvage below
	// could never issue another statement.
	if err := tx.SavePoint("batch_bulk").Error; err != nil {
		return 0, err
	}
	err := e.insert(tx, tableName, spec, rows)
	if err == nil {
		return len(rows), nil
	}
	if !IsConstraint(err) || e.rowTolerance <= 0 {
		return 0, err
	}
	if err := tx.RollbackTo("batch_bulk").Error; err != nil {
		return 0, err
	}

	// Row-level salvage: replay row by row, rolling back to a per-row
	// savepoint on each reject and counting rejects against the tolerance.
	saved, rejected := 0, 0
	for i := range rows {
		sp := fmt.Sprintf("batch_row_%d", i)
		if err := tx.SavePoint(sp).Error; err != nil {
			return 0, err
		}
		if err := e.insert(tx, tableName, spec, rows[i:i+1]); err != nil {
			if !IsConstraint(err) {
				return 0, err
			}
			if err := tx.RollbackTo(sp).Error; err != nil {
				return 0, err
			}
			rejected++
			if rejected > e.rowTolerance {
				return 0, fmt.Errorf("batch rejected %d rows, tolerance %d: %w", rejected, e.rowTolerance, err)
			}
			e.log.Warn("Skipped rejected row", "table", tableName, "row", i, "error", err)
			continue
		}
		saved++
	}
	return saved, nil
}

func (e *CommitEngine) insert(tx *gorm.DB, tableName string, spec schema.TableSpec, rows []map[string]interface{}) error {
	stmt := tx.Table(tableName)
	if spec.NaturalKey != "" {
		stmt = stmt.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: spec.NaturalKey}},
			DoUpdates: clause.AssignmentColumns(updatableColumns(spec)),
		})
	}
	return stmt.Create(rows).Error
}

func rawPayload(rec decode.Record) interface{} {
	b, err := json.Marshal(rec)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

// updatableColumns is every spec column except the natural key itself.
func updatableColumns(spec schema.TableSpec) []string {
	cols := spec.ColumnNames()
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == spec.NaturalKey || c == "created_at" {
			continue
		}
		out = append(out, c)
	}
	return out
}
