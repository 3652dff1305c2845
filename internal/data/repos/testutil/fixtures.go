package testutil

import (
	"context"
	"testing"

	types "github.com/openregistry/tmbulk/internal/domain"
	"gorm.io/gorm"
)

func SeedProduct(tb testing.TB, ctx context.Context, tx *gorm.DB, productID string) *types.Product {
	tb.Helper()
	p := &types.Product{
		ProductID:   productID,
		Title:       "test product " + productID,
		Frequency:   "ANNUAL",
		TargetTable: types.TargetTableName(productID),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed product: %v", err)
	}
	return p
}

func SeedSourceFile(tb testing.TB, ctx context.Context, tx *gorm.DB, productID, fileName, status string) *types.SourceFile {
	tb.Helper()
	f := &types.SourceFile{
		ProductID: productID,
		FileName:  fileName,
		FileURL:   "https://example.test/" + fileName,
		Status:    status,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed source file: %v", err)
	}
	return f
}

func SeedBatch(tb testing.TB, ctx context.Context, tx *gorm.DB, productID, fileName string, number, rowCount int, committed bool) *types.Batch {
	tb.Helper()
	b := &types.Batch{
		ProductID:   productID,
		FileName:    fileName,
		BatchNumber: number,
		RowCount:    rowCount,
		Parsed:      true,
		Committed:   committed,
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed batch: %v", err)
	}
	return b
}
