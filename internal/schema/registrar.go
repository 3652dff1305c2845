package schema

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

// Registrar materializes per-product target tables from table specs and
// records success on the product registry. Safe to call repeatedly.
type Registrar struct {
	db       *gorm.DB
	products catalog.ProductRepo
	log      *logger.Logger
}

func NewRegistrar(db *gorm.DB, products catalog.ProductRepo, baseLog *logger.Logger) *Registrar {
	return &Registrar{
		db:       db,
		products: products,
		log:      baseLog.With("service", "SchemaRegistrar"),
	}
}

// EnsureTable creates the product's target table if absent and flips the
// product's schema_created flag. The existence check and the creation run in
// one transaction holding an advisory lock keyed by the table name, so
// concurrent workers cannot race check-then-create. Errors are returned, not
// raised past here; the flag stays false and a later call retries.
func (r *Registrar) EnsureTable(ctx context.Context, productID string, kind Kind) error {
	tableName := types.TargetTableName(productID)
	spec := SpecFor(kind)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, tableName).Error; err != nil {
			return fmt.Errorf("acquire table lock: %w", err)
		}

		var exists bool
		if err := tx.Raw(`
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = ?
			)`, tableName).Scan(&exists).Error; err != nil {
			return fmt.Errorf("check table existence: %w", err)
		}
		if exists {
			return nil
		}

		for _, stmt := range spec.DDL(tableName) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create table %s: %w", tableName, err)
			}
		}
		r.log.Info("Created target table", "table", tableName, "kind", string(kind), "product_id", productID)
		return nil
	})
	if err != nil {
		r.log.Error("EnsureTable failed", "error", err, "product_id", productID, "table", tableName)
		return err
	}

	if err := r.products.MarkSchemaCreated(dbctx.Context{Ctx: ctx}, productID); err != nil {
		r.log.Error("EnsureTable failed (flag update)", "error", err, "product_id", productID)
		return err
	}
	return nil
}
