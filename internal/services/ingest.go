package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/openregistry/tmbulk/internal/app"
	"github.com/openregistry/tmbulk/internal/clients/uspto"
	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/pipeline"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
	"github.com/openregistry/tmbulk/internal/schema"
)

// IngestService runs one ingestion pass: discover products from the catalog,
// register them and their files in the control tables, ensure target tables
// exist, then hand the outstanding files to the pipeline runner.
type IngestService struct {
	log       *logger.Logger
	cfg       app.Config
	manifest  *app.Manifest
	catalog   uspto.Client
	products  catalog.ProductRepo
	files     catalog.SourceFileRepo
	registrar *schema.Registrar
	runner    *pipeline.Runner
}

func NewIngestService(
	cfg app.Config,
	manifest *app.Manifest,
	catalogClient uspto.Client,
	products catalog.ProductRepo,
	files catalog.SourceFileRepo,
	registrar *schema.Registrar,
	runner *pipeline.Runner,
	baseLog *logger.Logger,
) *IngestService {
	return &IngestService{
		log:       baseLog.With("service", "IngestService"),
		cfg:       cfg,
		manifest:  manifest,
		catalog:   catalogClient,
		products:  products,
		files:     files,
		registrar: registrar,
		runner:    runner,
	}
}

// RunOnce executes a full pass. Registration failures for one product do not
// stop the others; the pass fails only when the catalog itself is
// unreachable or the context is canceled.
func (s *IngestService) RunOnce(ctx context.Context) error {
	runs, err := s.Sync(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		s.log.Info("No products to process")
		return nil
	}
	return s.runner.Run(ctx, runs)
}

// Sync pulls the trademark catalog, applies the manifest filters and brings
// the control tables up to date: product registry rows, target tables and
// newly discovered files.
func (s *IngestService) Sync(ctx context.Context) ([]pipeline.ProductRun, error) {
	listings, err := s.catalog.ListTrademarkProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	var runs []pipeline.ProductRun
	for _, listing := range listings {
		if !s.manifest.Allowed(listing.ProductID) {
			s.log.Debug("Product filtered out by manifest", "product_id", listing.ProductID)
			continue
		}
		kind := s.kindFor(listing.ProductID)

		product, err := s.registerProduct(dbc, listing, kind)
		if err != nil {
			s.log.Error("Product registration failed", "error", err, "product_id", listing.ProductID)
			continue
		}
		if err := s.registrar.EnsureTable(ctx, product.ProductID, kind); err != nil {
			s.log.Error("Target table creation failed", "error", err, "product_id", product.ProductID)
			continue
		}
		if err := s.discoverFiles(dbc, listing); err != nil {
			s.log.Error("File discovery failed", "error", err, "product_id", product.ProductID)
			continue
		}
		runs = append(runs, pipeline.ProductRun{Product: product, Kind: kind})
	}
	s.log.Info("Catalog sync done", "listed", len(listings), "selected", len(runs))
	return runs, nil
}

// kindFor prefers an explicit manifest declaration over identifier-pattern
// dispatch.
func (s *IngestService) kindFor(productID string) schema.Kind {
	if decl := s.manifest.Declared(productID); decl != nil && decl.SchemaKind != "" {
		return schema.ParseKind(decl.SchemaKind)
	}
	return schema.KindForProduct(productID)
}

func (s *IngestService) registerProduct(dbc dbctx.Context, listing uspto.ProductListing, kind schema.Kind) (*types.Product, error) {
	var formats datatypes.JSON
	if len(listing.Formats) > 0 {
		if b, err := json.Marshal(listing.Formats); err == nil {
			formats = datatypes.JSON(b)
		}
	}
	row := &types.Product{
		ProductID:   listing.ProductID,
		Title:       listing.Title,
		Description: listing.Description,
		Frequency:   listing.Frequency,
		Formats:     formats,
		TargetTable: types.TargetTableName(listing.ProductID),
	}
	if err := s.products.Upsert(dbc, row); err != nil {
		return nil, err
	}
	product, err := s.products.GetByProductID(dbc, listing.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product %s missing after upsert", listing.ProductID)
	}
	s.log.Info("Product registered",
		"product_id", product.ProductID,
		"kind", string(kind),
		"table", product.TargetTable,
		"files", len(listing.Files))
	return product, nil
}

func (s *IngestService) discoverFiles(dbc dbctx.Context, listing uspto.ProductListing) error {
	for _, f := range listing.Files {
		row := &types.SourceFile{
			ProductID: listing.ProductID,
			FileName:  f.FileName,
			FileURL:   f.DownloadURL,
			FileSize:  f.FileSize,
		}
		if err := s.files.Discover(dbc, row); err != nil {
			return fmt.Errorf("discover %s: %w", f.FileName, err)
		}
	}
	return nil
}
