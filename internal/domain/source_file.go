package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusError      = "error"
)

// SourceFile is the file ledger row: one downloadable unit of a product and
// its overall processing lifecycle.
type SourceFile struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProductID          string     `gorm:"column:product_id;not null;uniqueIndex:ux_source_files_product_file;index" json:"product_id"`
	FileName           string     `gorm:"column:file_name;not null;uniqueIndex:ux_source_files_product_file" json:"file_name"`
	FileURL            string     `gorm:"column:file_url" json:"file_url,omitempty"`
	FileSize           int64      `gorm:"column:file_size;not null;default:0" json:"file_size"`
	FileHash           string     `gorm:"column:file_hash;index" json:"file_hash,omitempty"`
	Status             string     `gorm:"column:status;not null;default:pending;index" json:"status"`
	ErrorMessage       string     `gorm:"column:error_message" json:"error_message,omitempty"`
	Attempts           int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	RowsProcessed      int64      `gorm:"column:rows_processed;not null;default:0" json:"rows_processed"`
	RowsSaved          int64      `gorm:"column:rows_saved;not null;default:0" json:"rows_saved"`
	BatchCount         int        `gorm:"column:batch_count;not null;default:0" json:"batch_count"`
	LastBatchCommitted int        `gorm:"column:last_batch_committed;not null;default:0" json:"last_batch_committed"`
	ProcessingStarted  *time.Time `gorm:"column:processing_started" json:"processing_started,omitempty"`
	ProcessingDone     *time.Time `gorm:"column:processing_completed" json:"processing_completed,omitempty"`
	CreatedAt          time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:now()" json:"updated_at"`

	Batches []Batch `gorm:"foreignKey:ProductID,FileName;references:ProductID,FileName;constraint:OnDelete:CASCADE" json:"-"`
}

func (SourceFile) TableName() string { return "source_files" }
