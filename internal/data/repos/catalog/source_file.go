package catalog

import (
	"time"

	"gorm.io/gorm"

	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

// ProductStats is the per-product aggregate surfaced by the monitoring view.
type ProductStats struct {
	ProductID       string     `json:"product_id"`
	TotalFiles      int64      `json:"total_files"`
	CompletedFiles  int64      `json:"completed_files"`
	ProcessingFiles int64      `json:"processing_files"`
	ErrorFiles      int64      `json:"error_files"`
	PendingFiles    int64      `json:"pending_files"`
	RowsProcessed   int64      `json:"rows_processed"`
	RowsSaved       int64      `json:"rows_saved"`
	LastCompleted   *time.Time `json:"last_completed,omitempty"`
}

type SourceFileRepo interface {
	Discover(dbc dbctx.Context, file *types.SourceFile) error
	Get(dbc dbctx.Context, productID, fileName string) (*types.SourceFile, error)
	ListByProduct(dbc dbctx.Context, productID string) ([]*types.SourceFile, error)
	Plan(dbc dbctx.Context, productID string, maxAttempts int, staleBefore time.Time) ([]*types.SourceFile, error)
	UpdateFields(dbc dbctx.Context, productID, fileName string, updates map[string]interface{}) error
	HashCompleted(dbc dbctx.Context, productID, fileHash string) (bool, error)
	MarkProcessing(dbc dbctx.Context, productID, fileName string) error
	MarkCompleted(dbc dbctx.Context, productID, fileName string, rowsProcessed, rowsSaved int64, batchCount int) error
	MarkError(dbc dbctx.Context, productID, fileName, errorMessage string) error
	AddCommittedBatch(dbc dbctx.Context, productID, fileName string, batchNumber int, rowsSaved int64) error
	AddRowsProcessed(dbc dbctx.Context, productID, fileName string, rows int64) error
	Stats(dbc dbctx.Context) ([]*ProductStats, error)
}

type sourceFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceFileRepo(db *gorm.DB, baseLog *logger.Logger) SourceFileRepo {
	return &sourceFileRepo{
		db:  db,
		log: baseLog.With("repo", "SourceFileRepo"),
	}
}

// Discover records a file the first time it is seen in the catalog. A file
// that is already completed stays completed unless its content hash changed,
// in which case the ledger row resets to pending so the new content gets
// processed.
func (r *sourceFileRepo) Discover(dbc dbctx.Context, file *types.SourceFile) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if file == nil || file.ProductID == "" || file.FileName == "" {
		return nil
	}

	existing, err := r.Get(dbc, file.ProductID, file.FileName)
	if err != nil {
		return err
	}
	if existing == nil {
		file.Status = types.FileStatusPending
		return transaction.WithContext(dbc.Ctx).Create(file).Error
	}

	updates := map[string]interface{}{
		"file_url":   file.FileURL,
		"file_size":  file.FileSize,
		"updated_at": time.Now(),
	}
	if file.FileHash != "" && file.FileHash != existing.FileHash {
		updates["file_hash"] = file.FileHash
		if existing.Status == types.FileStatusCompleted {
			updates["status"] = types.FileStatusPending
			updates["rows_processed"] = 0
			updates["rows_saved"] = 0
			updates["batch_count"] = 0
			updates["last_batch_committed"] = 0
			updates["error_message"] = ""
			updates["processing_completed"] = nil
		}
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ?", file.ProductID, file.FileName).
		Updates(updates).Error
}

func (r *sourceFileRepo) Get(dbc dbctx.Context, productID, fileName string) (*types.SourceFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == "" || fileName == "" {
		return nil, nil
	}
	var file types.SourceFile
	err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ? AND file_name = ?", productID, fileName).
		Limit(1).
		Find(&file).Error
	if err != nil {
		return nil, err
	}
	if file.FileName == "" {
		return nil, nil
	}
	return &file, nil
}

func (r *sourceFileRepo) ListByProduct(dbc dbctx.Context, productID string) ([]*types.SourceFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SourceFile
	if err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Plan selects the files still needing work, in discovery order: pending
// files, errored files with attempts remaining, and processing files whose
// last ledger touch predates staleBefore (a worker died mid-file; the batch
// ledger makes resuming them safe). Completed files are never returned.
func (r *sourceFileRepo) Plan(dbc dbctx.Context, productID string, maxAttempts int, staleBefore time.Time) ([]*types.SourceFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SourceFile
	err := transaction.WithContext(dbc.Ctx).
		Where(`product_id = ? AND (
			status = ?
			OR (status = ? AND attempts < ?)
			OR (status = ? AND updated_at < ?)
		)`, productID,
			types.FileStatusPending,
			types.FileStatusError, maxAttempts,
			types.FileStatusProcessing, staleBefore).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sourceFileRepo) UpdateFields(dbc dbctx.Context, productID, fileName string, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ?", productID, fileName).
		Updates(updates).Error
}

// HashCompleted reports whether any completed file of the product carries
// the given content hash. Used for latest-file detection: identical content
// re-offered under a new name is not reprocessed.
func (r *sourceFileRepo) HashCompleted(dbc dbctx.Context, productID, fileHash string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if fileHash == "" {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_hash = ? AND status = ?", productID, fileHash, types.FileStatusCompleted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkProcessing flips the file into processing and increments its attempts
// counter. A completed file is never downgraded.
func (r *sourceFileRepo) MarkProcessing(dbc dbctx.Context, productID, fileName string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ? AND status <> ?", productID, fileName, types.FileStatusCompleted).
		Updates(map[string]interface{}{
			"status":             types.FileStatusProcessing,
			"attempts":           gorm.Expr("attempts + 1"),
			"error_message":      "",
			"processing_started": now,
			"updated_at":         now,
		}).Error
}

func (r *sourceFileRepo) MarkCompleted(dbc dbctx.Context, productID, fileName string, rowsProcessed, rowsSaved int64, batchCount int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ?", productID, fileName).
		Updates(map[string]interface{}{
			"status":               types.FileStatusCompleted,
			"rows_processed":       rowsProcessed,
			"rows_saved":           rowsSaved,
			"batch_count":          batchCount,
			"error_message":        "",
			"processing_completed": now,
			"updated_at":           now,
		}).Error
}

func (r *sourceFileRepo) MarkError(dbc dbctx.Context, productID, fileName, errorMessage string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(errorMessage) > 1000 {
		errorMessage = errorMessage[:1000]
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ? AND status <> ?", productID, fileName, types.FileStatusCompleted).
		Updates(map[string]interface{}{
			"status":        types.FileStatusError,
			"error_message": errorMessage,
			"updated_at":    time.Now(),
		}).Error
}

// AddCommittedBatch advances the file's commit frontier. Called inside the
// commit engine's transaction so the counters move together with the batch
// flip and the target-table rows.
func (r *sourceFileRepo) AddCommittedBatch(dbc dbctx.Context, productID, fileName string, batchNumber int, rowsSaved int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ?", productID, fileName).
		Updates(map[string]interface{}{
			"rows_saved":           gorm.Expr("rows_saved + ?", rowsSaved),
			"last_batch_committed": batchNumber,
			"batch_count":          gorm.Expr("GREATEST(batch_count, ?)", batchNumber),
			"updated_at":           time.Now(),
		}).Error
}

func (r *sourceFileRepo) AddRowsProcessed(dbc dbctx.Context, productID, fileName string, rows int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if rows == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Where("product_id = ? AND file_name = ?", productID, fileName).
		Updates(map[string]interface{}{
			"rows_processed": gorm.Expr("rows_processed + ?", rows),
			"updated_at":     time.Now(),
		}).Error
}

func (r *sourceFileRepo) Stats(dbc dbctx.Context) ([]*ProductStats, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*ProductStats
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.SourceFile{}).
		Select(`product_id,
			COUNT(*) AS total_files,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed_files,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing_files,
			COUNT(*) FILTER (WHERE status = 'error') AS error_files,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending_files,
			COALESCE(SUM(rows_processed), 0) AS rows_processed,
			COALESCE(SUM(rows_saved), 0) AS rows_saved,
			MAX(processing_completed) AS last_completed`).
		Group("product_id").
		Order("product_id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
