package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Product is one registered bulk-data product: a named dataset source with
// its own record schema, update cadence and dynamically created target table.
type Product struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProductID     string         `gorm:"column:product_id;uniqueIndex;not null" json:"product_id"`
	Title         string         `gorm:"column:title" json:"title"`
	Description   string         `gorm:"column:description" json:"description,omitempty"`
	Frequency     string         `gorm:"column:frequency" json:"frequency,omitempty"`
	Formats       datatypes.JSON `gorm:"column:formats;type:jsonb" json:"formats,omitempty"`
	TargetTable   string         `gorm:"column:table_name;not null" json:"table_name"`
	SchemaCreated bool           `gorm:"column:schema_created;not null;default:false" json:"schema_created"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`

	Files []SourceFile `gorm:"foreignKey:ProductID;references:ProductID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Product) TableName() string { return "products" }

// TargetTableName derives the product's target table name deterministically
// from its identifier.
func TargetTableName(productID string) string {
	return "product_" + strings.ToLower(strings.TrimSpace(productID))
}
