package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BatchOrigin is the number of the first batch of every file. Committed
// batch numbers form a contiguous range starting here.
const BatchOrigin = 1

// Batch is the batch ledger row: one bounded slice of a file's records and
// its created -> parsed -> committed lifecycle. A committed batch is never
// re-processed.
type Batch struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProductID     string         `gorm:"column:product_id;not null;uniqueIndex:ux_batches_product_file_number;index" json:"product_id"`
	FileName      string         `gorm:"column:file_name;not null;uniqueIndex:ux_batches_product_file_number" json:"file_name"`
	BatchNumber   int            `gorm:"column:batch_number;not null;uniqueIndex:ux_batches_product_file_number" json:"batch_number"`
	RowCount      int            `gorm:"column:row_count;not null;default:0" json:"row_count"`
	Parsed        bool           `gorm:"column:parsed;not null;default:false" json:"parsed"`
	Committed     bool           `gorm:"column:committed;not null;default:false;index" json:"committed"`
	StagedContent datatypes.JSON `gorm:"column:staged_content;type:jsonb" json:"-"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Batch) TableName() string { return "batches" }
