package catalog

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

type BatchRepo interface {
	RecordCreated(dbc dbctx.Context, productID, fileName string, batchNumber, rowCount int) error
	MarkParsed(dbc dbctx.Context, productID, fileName string, batchNumber int, staged datatypes.JSON) error
	MarkCommitted(dbc dbctx.Context, productID, fileName string, batchNumber int) error
	Get(dbc dbctx.Context, productID, fileName string, batchNumber int) (*types.Batch, error)
	ListByFile(dbc dbctx.Context, productID, fileName string) ([]*types.Batch, error)
	HighestCommitted(dbc dbctx.Context, productID, fileName string) (int, error)
	CommittedNumbers(dbc dbctx.Context, productID, fileName string) ([]int, error)
	CommittedRowCount(dbc dbctx.Context, productID, fileName string) (int64, error)
	DeleteCompletedBefore(dbc dbctx.Context, cutoff time.Time) (int64, error)
}

type batchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchRepo(db *gorm.DB, baseLog *logger.Logger) BatchRepo {
	return &batchRepo{
		db:  db,
		log: baseLog.With("repo", "BatchRepo"),
	}
}

// RecordCreated writes the ledger row for a freshly segmented batch. On
// resume an uncommitted batch is re-emitted under the same number, so the
// row is upserted; a committed row is never touched (the resume coordinator
// never hands a committed number back to the segmenter).
func (r *batchRepo) RecordCreated(dbc dbctx.Context, productID, fileName string, batchNumber, rowCount int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	batch := &types.Batch{
		ProductID:   productID,
		FileName:    fileName,
		BatchNumber: batchNumber,
		RowCount:    rowCount,
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "file_name"}, {Name: "batch_number"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"row_count":  rowCount,
				"parsed":     false,
				"updated_at": time.Now(),
			}),
		}).
		Create(batch).Error
}

func (r *batchRepo) MarkParsed(dbc dbctx.Context, productID, fileName string, batchNumber int, staged datatypes.JSON) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{
		"parsed":     true,
		"updated_at": time.Now(),
	}
	if staged != nil {
		updates["staged_content"] = staged
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Batch{}).
		Where("product_id = ? AND file_name = ? AND batch_number = ?", productID, fileName, batchNumber).
		Updates(updates).Error
}

// MarkCommitted flips the committed flag and drops the staged content. Runs
// inside the commit engine's transaction.
func (r *batchRepo) MarkCommitted(dbc dbctx.Context, productID, fileName string, batchNumber int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Batch{}).
		Where("product_id = ? AND file_name = ? AND batch_number = ?", productID, fileName, batchNumber).
		Updates(map[string]interface{}{
			"committed":      true,
			"staged_content": nil,
			"updated_at":     time.Now(),
		}).Error
}

func (r *batchRepo) Get(dbc dbctx.Context, productID, fileName string, batchNumber int) (*types.Batch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var batch types.Batch
	err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ? AND file_name = ? AND batch_number = ?", productID, fileName, batchNumber).
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.FileName == "" {
		return nil, nil
	}
	return &batch, nil
}

func (r *batchRepo) ListByFile(dbc dbctx.Context, productID, fileName string) ([]*types.Batch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Batch
	if err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ? AND file_name = ?", productID, fileName).
		Order("batch_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// HighestCommitted returns the file's commit frontier, zero when nothing is
// committed yet. Commits are strictly ordered within a file, so the highest
// committed number is also the length of the contiguous committed range.
func (r *batchRepo) HighestCommitted(dbc dbctx.Context, productID, fileName string) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var highest int
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Batch{}).
		Select("COALESCE(MAX(batch_number), 0)").
		Where("product_id = ? AND file_name = ? AND committed = ?", productID, fileName, true).
		Scan(&highest).Error
	if err != nil {
		return 0, err
	}
	return highest, nil
}

func (r *batchRepo) CommittedNumbers(dbc dbctx.Context, productID, fileName string) ([]int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []int
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Batch{}).
		Where("product_id = ? AND file_name = ? AND committed = ?", productID, fileName, true).
		Order("batch_number ASC").
		Pluck("batch_number", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CommittedRowCount sums the rows of the file's committed batches. This is
// the exact record prefix a resumed run must discard, independent of the
// batch size the committing run was configured with.
func (r *batchRepo) CommittedRowCount(dbc dbctx.Context, productID, fileName string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Batch{}).
		Select("COALESCE(SUM(row_count), 0)").
		Where("product_id = ? AND file_name = ? AND committed = ?", productID, fileName, true).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// DeleteCompletedBefore purges batch rows of files that completed before the
// cutoff. Opportunistic retention cleanup; the target-table rows are
// independent of the ledger and are untouched.
func (r *batchRepo) DeleteCompletedBefore(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Where(`(product_id, file_name) IN (
			SELECT product_id, file_name FROM source_files
			WHERE status = ? AND processing_completed IS NOT NULL AND processing_completed < ?
		)`, types.FileStatusCompleted, cutoff).
		Delete(&types.Batch{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
