package catalog

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

type ProductRepo interface {
	Upsert(dbc dbctx.Context, product *types.Product) error
	GetByProductID(dbc dbctx.Context, productID string) (*types.Product, error)
	ListAll(dbc dbctx.Context) ([]*types.Product, error)
	MarkSchemaCreated(dbc dbctx.Context, productID string) error
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

// Upsert registers a product by its stable identifier. The target table name
// and schema_created flag are never overwritten on conflict: the table name
// is derived once and the flag is owned by the schema registrar.
func (r *productRepo) Upsert(dbc dbctx.Context, product *types.Product) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if product == nil || product.ProductID == "" {
		return nil
	}
	if product.TargetTable == "" {
		product.TargetTable = types.TargetTableName(product.ProductID)
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"title":       product.Title,
				"description": product.Description,
				"frequency":   product.Frequency,
				"formats":     product.Formats,
				"updated_at":  time.Now(),
			}),
		}).
		Create(product).Error
}

func (r *productRepo) GetByProductID(dbc dbctx.Context, productID string) (*types.Product, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == "" {
		return nil, nil
	}
	var product types.Product
	err := transaction.WithContext(dbc.Ctx).
		Where("product_id = ?", productID).
		Limit(1).
		Find(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ProductID == "" {
		return nil, nil
	}
	return &product, nil
}

func (r *productRepo) ListAll(dbc dbctx.Context) ([]*types.Product, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Product
	if err := transaction.WithContext(dbc.Ctx).
		Order("product_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) MarkSchemaCreated(dbc dbctx.Context, productID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if productID == "" {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Product{}).
		Where("product_id = ?", productID).
		Updates(map[string]interface{}{
			"schema_created": true,
			"updated_at":     time.Now(),
		}).Error
}
