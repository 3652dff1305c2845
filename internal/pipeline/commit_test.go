package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	"github.com/openregistry/tmbulk/internal/data/repos/testutil"
	"github.com/openregistry/tmbulk/internal/decode"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/schema"
)

// failingBatchRepo injects a failure between the target-table write and the
// ledger flip, which is exactly the window the commit transaction protects.
type failingBatchRepo struct {
	catalog.BatchRepo
	fail bool
}

func (f *failingBatchRepo) MarkCommitted(dbc dbctx.Context, productID, fileName string, batchNumber int) error {
	if f.fail {
		return errors.New("injected ledger failure")
	}
	return f.BatchRepo.MarkCommitted(dbc, productID, fileName, batchNumber)
}

func setupTarget(t *testing.T, db *gorm.DB, kind schema.Kind) (*types.Product, string) {
	t.Helper()
	ctx := context.Background()
	productID := fmt.Sprintf("COMMITTEST%d", time.Now().UnixNano())
	tableName := types.TargetTableName(productID)

	products := catalog.NewProductRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}
	if err := products.Upsert(dbc, &types.Product{ProductID: productID, Title: "commit test"}); err != nil {
		t.Fatalf("Upsert product: %v", err)
	}
	registrar := schema.NewRegistrar(db, products, testutil.Logger(t))
	if err := registrar.EnsureTable(ctx, productID, kind); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS " + tableName).Error
		_ = db.Where("product_id = ?", productID).Delete(&types.Batch{}).Error
		_ = db.Where("product_id = ?", productID).Delete(&types.SourceFile{}).Error
		_ = db.Where("product_id = ?", productID).Delete(&types.Product{}).Error
	})

	product, err := products.GetByProductID(dbc, productID)
	if err != nil || product == nil {
		t.Fatalf("GetByProductID: err=%v product=%v", err, product)
	}
	return product, tableName
}

func countRows(t *testing.T, db *gorm.DB, tableName string) int64 {
	t.Helper()
	var n int64
	if err := db.Table(tableName).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", tableName, err)
	}
	return n
}

func caseFileBatch(number, from, count int) *BatchRows {
	b := &BatchRows{Number: number}
	for i := 0; i < count; i++ {
		b.Rows = append(b.Rows, decode.Record{
			"serial_no":           fmt.Sprintf("%08d", from+i),
			"mark_identification": fmt.Sprintf("MARK %d", from+i),
			"filing_date":         "19950102",
		})
	}
	return b
}

func TestCommitEngineAtomicity(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	log := testutil.Logger(t)

	product, tableName := setupTarget(t, db, schema.KindCaseFile)
	files := catalog.NewSourceFileRepo(db, log)
	batches := catalog.NewBatchRepo(db, log)
	dbc := dbctx.Context{Ctx: ctx}

	file := &types.SourceFile{ProductID: product.ProductID, FileName: "cf.zip", FileHash: "h1"}
	if err := files.Discover(dbc, file); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := batches.RecordCreated(dbc, product.ProductID, "cf.zip", 1, 2); err != nil {
		t.Fatalf("RecordCreated: %v", err)
	}

	engine := NewCommitEngine(db, files, batches, 0, log)
	if err := engine.Commit(ctx, product, schema.KindCaseFile, file, caseFileBatch(1, 1, 2)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if n := countRows(t, db, tableName); n != 2 {
		t.Fatalf("target rows after commit: %d", n)
	}
	got, _ := files.Get(dbc, product.ProductID, "cf.zip")
	if got.RowsSaved != 2 || got.LastBatchCommitted != 1 {
		t.Fatalf("file counters: saved=%d last=%d", got.RowsSaved, got.LastBatchCommitted)
	}
	committed, _ := batches.Get(dbc, product.ProductID, "cf.zip", 1)
	if committed == nil || !committed.Committed {
		t.Fatalf("batch ledger not flipped: %+v", committed)
	}

	// Inject a failure after the upsert: the whole transaction must roll
	// back, leaving no rows behind and the batch uncommitted.
	broken := NewCommitEngine(db, files, &failingBatchRepo{BatchRepo: batches, fail: true}, 0, log)
	if err := broken.Commit(ctx, product, schema.KindCaseFile, file, caseFileBatch(2, 3, 2)); err == nil {
		t.Fatal("Commit should propagate the injected failure")
	}
	if n := countRows(t, db, tableName); n != 2 {
		t.Fatalf("partial commit leaked rows: %d", n)
	}
	got, _ = files.Get(dbc, product.ProductID, "cf.zip")
	if got.RowsSaved != 2 || got.LastBatchCommitted != 1 {
		t.Fatalf("file counters moved without commit: saved=%d last=%d", got.RowsSaved, got.LastBatchCommitted)
	}
}

func TestCommitEngineUpsertByNaturalKey(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	log := testutil.Logger(t)

	product, tableName := setupTarget(t, db, schema.KindCaseFile)
	files := catalog.NewSourceFileRepo(db, log)
	batches := catalog.NewBatchRepo(db, log)
	dbc := dbctx.Context{Ctx: ctx}

	file := &types.SourceFile{ProductID: product.ProductID, FileName: "cf.zip", FileHash: "h1"}
	if err := files.Discover(dbc, file); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	engine := NewCommitEngine(db, files, batches, 0, log)
	if err := engine.Commit(ctx, product, schema.KindCaseFile, file, caseFileBatch(1, 1, 3)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// The same serial numbers arriving again update in place instead of
	// duplicating: re-ingesting overlapping content is idempotent.
	update := caseFileBatch(2, 1, 3)
	update.Rows[0]["mark_identification"] = "UPDATED MARK"
	if err := engine.Commit(ctx, product, schema.KindCaseFile, file, update); err != nil {
		t.Fatalf("Commit (overlap): %v", err)
	}
	if n := countRows(t, db, tableName); n != 3 {
		t.Fatalf("upsert duplicated rows: %d", n)
	}

	var marks []string
	if err := db.Table(tableName).
		Where("serial_no = ?", "00000001").
		Pluck("mark_identification", &marks).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(marks) != 1 || marks[0] != "UPDATED MARK" {
		t.Fatalf("overlapping row not updated: %v", marks)
	}
}

func TestCommitEngineRowTolerance(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	log := testutil.Logger(t)

	product, tableName := setupTarget(t, db, schema.KindCaseFile)
	files := catalog.NewSourceFileRepo(db, log)
	batches := catalog.NewBatchRepo(db, log)
	dbc := dbctx.Context{Ctx: ctx}

	// A constraint the decoder cannot see, so rows are rejected only at
	// commit time.
	if err := db.Exec("ALTER TABLE " + tableName +
		" ADD CONSTRAINT chk_mark_not_bad CHECK (mark_identification <> 'BAD')").Error; err != nil {
		t.Fatalf("add check constraint: %v", err)
	}

	file := &types.SourceFile{ProductID: product.ProductID, FileName: "cf.zip", FileHash: "h1"}
	if err := files.Discover(dbc, file); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := batches.RecordCreated(dbc, product.ProductID, "cf.zip", 1, 3); err != nil {
		t.Fatalf("RecordCreated: %v", err)
	}

	// One rejected row inside the tolerance: the batch commits with the
	// bad row shed, and the transaction survives the failed bulk insert.
	batch := caseFileBatch(1, 1, 3)
	batch.Rows[1]["mark_identification"] = "BAD"

	engine := NewCommitEngine(db, files, batches, 1, log)
	if err := engine.Commit(ctx, product, schema.KindCaseFile, file, batch); err != nil {
		t.Fatalf("Commit within tolerance: %v", err)
	}
	if n := countRows(t, db, tableName); n != 2 {
		t.Fatalf("rows after tolerated reject: %d", n)
	}
	got, _ := files.Get(dbc, product.ProductID, "cf.zip")
	if got.RowsSaved != 2 || got.LastBatchCommitted != 1 {
		t.Fatalf("file counters: saved=%d last=%d", got.RowsSaved, got.LastBatchCommitted)
	}
	committed, _ := batches.Get(dbc, product.ProductID, "cf.zip", 1)
	if committed == nil || !committed.Committed {
		t.Fatalf("batch not committed: %+v", committed)
	}

	// Two rejects against tolerance 1: structural, the whole batch aborts
	// and nothing of it lands.
	over := caseFileBatch(2, 4, 3)
	over.Rows[0]["mark_identification"] = "BAD"
	over.Rows[2]["mark_identification"] = "BAD"
	if err := engine.Commit(ctx, product, schema.KindCaseFile, file, over); err == nil {
		t.Fatal("Commit should abort once rejects exceed the tolerance")
	}
	if n := countRows(t, db, tableName); n != 2 {
		t.Fatalf("aborted batch leaked rows: %d", n)
	}
	got, _ = files.Get(dbc, product.ProductID, "cf.zip")
	if got.RowsSaved != 2 || got.LastBatchCommitted != 1 {
		t.Fatalf("file counters moved on aborted batch: saved=%d last=%d", got.RowsSaved, got.LastBatchCommitted)
	}
}

func TestCommitEngineGenericInsert(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	log := testutil.Logger(t)

	product, tableName := setupTarget(t, db, schema.KindGeneric)
	files := catalog.NewSourceFileRepo(db, log)
	batches := catalog.NewBatchRepo(db, log)
	dbc := dbctx.Context{Ctx: ctx}

	file := &types.SourceFile{ProductID: product.ProductID, FileName: "misc.zip", FileHash: "h2"}
	if err := files.Discover(dbc, file); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	batch := &BatchRows{Number: 1, Rows: []decode.Record{
		{"anything": "goes", "count": "5"},
		{"other": "shape"},
	}}
	engine := NewCommitEngine(db, files, batches, 0, log)
	if err := engine.Commit(ctx, product, schema.KindGeneric, file, batch); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := countRows(t, db, tableName); n != 2 {
		t.Fatalf("generic rows: %d", n)
	}

	var sources []string
	if err := db.Table(tableName).Pluck("data_source", &sources).Error; err != nil {
		t.Fatalf("read data_source: %v", err)
	}
	for _, s := range sources {
		if s != product.ProductID+"/misc.zip" {
			t.Fatalf("data_source: %q", s)
		}
	}
}
