package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/openregistry/tmbulk/internal/domain"
)

// AutoMigrateAll creates the control tables. Per-product target tables are
// not migrated here; the schema registrar owns those.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.Product{},
		&types.SourceFile{},
		&types.Batch{},
	); err != nil {
		return fmt.Errorf("auto migration failed for control tables: %w", err)
	}

	// Ledger rows follow their parents: dropping a product clears its
	// files, dropping a file clears its batches.
	if err := db.Exec(`
		ALTER TABLE "source_files"
		DROP CONSTRAINT IF EXISTS "fk_source_files_product_id";
		ALTER TABLE "source_files"
		ADD CONSTRAINT "fk_source_files_product_id"
		FOREIGN KEY ("product_id")
		REFERENCES "products"("product_id")
		ON DELETE CASCADE;
	`).Error; err != nil {
		return fmt.Errorf("failed to add fk_source_files_product_id: %w", err)
	}
	if err := db.Exec(`
		ALTER TABLE "batches"
		DROP CONSTRAINT IF EXISTS "fk_batches_source_file";
		ALTER TABLE "batches"
		ADD CONSTRAINT "fk_batches_source_file"
		FOREIGN KEY ("product_id", "file_name")
		REFERENCES "source_files"("product_id", "file_name")
		ON DELETE CASCADE;
	`).Error; err != nil {
		return fmt.Errorf("failed to add fk_batches_source_file: %w", err)
	}
	return nil
}
