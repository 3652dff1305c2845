package schema

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	"github.com/openregistry/tmbulk/internal/data/repos/testutil"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
)

func TestRegistrarEnsureTable(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()

	// Target tables are created outside any test transaction, so use a
	// per-run product id and drop the table when done.
	productID := fmt.Sprintf("REGTEST%d", time.Now().UnixNano())
	tableName := types.TargetTableName(productID)
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS " + tableName).Error
		_ = db.Where("product_id = ?", productID).Delete(&types.Product{}).Error
	})

	products := catalog.NewProductRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}
	if err := products.Upsert(dbc, &types.Product{ProductID: productID, Title: "registrar test"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	registrar := NewRegistrar(db, products, testutil.Logger(t))
	if err := registrar.EnsureTable(ctx, productID, KindProceeding); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	var exists bool
	if err := db.Raw(`
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = ?
		)`, tableName).Scan(&exists).Error; err != nil {
		t.Fatalf("existence check: %v", err)
	}
	if !exists {
		t.Fatalf("table %s not created", tableName)
	}

	product, err := products.GetByProductID(dbc, productID)
	if err != nil || product == nil {
		t.Fatalf("GetByProductID: err=%v product=%v", err, product)
	}
	if !product.SchemaCreated {
		t.Fatal("schema_created not flipped")
	}

	// Second call must be a no-op, not a duplicate-table error.
	if err := registrar.EnsureTable(ctx, productID, KindProceeding); err != nil {
		t.Fatalf("EnsureTable (repeat): %v", err)
	}
}
