package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/openregistry/tmbulk/internal/app"
	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	"github.com/openregistry/tmbulk/internal/decode"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
	"github.com/openregistry/tmbulk/internal/schema"
)

// Fetcher acquires a source file locally and reports its content hash.
// The catalog client's downloader implements this; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, file *types.SourceFile) (path string, hash string, err error)
}

// OpenFunc matches decode.Open; injectable for tests.
type OpenFunc func(path string, kind schema.Kind) (decode.Iterator, error)

// ProductRun pairs a registered product with its resolved schema kind.
type ProductRun struct {
	Product *types.Product
	Kind    schema.Kind
}

// Runner drives the pipeline: a fixed worker pool where each worker owns
// one (product, file) unit end to end. Within a unit, batches move
// created -> parsed -> committed strictly in batch-number order; the stop
// signal is honored between batches, never inside a commit.
type Runner struct {
	cfg     app.Config
	files   catalog.SourceFileRepo
	batches catalog.BatchRepo
	resume  *ResumeCoordinator
	commit  *CommitEngine
	fetcher Fetcher
	open    OpenFunc
	log     *logger.Logger
}

func NewRunner(
	cfg app.Config,
	files catalog.SourceFileRepo,
	batches catalog.BatchRepo,
	resume *ResumeCoordinator,
	commit *CommitEngine,
	fetcher Fetcher,
	baseLog *logger.Logger,
) *Runner {
	return &Runner{
		cfg:     cfg,
		files:   files,
		batches: batches,
		resume:  resume,
		commit:  commit,
		fetcher: fetcher,
		open:    decode.Open,
		log:     baseLog.With("service", "PipelineRunner"),
	}
}

// SetOpenFunc swaps the decoder entrypoint. Tests use this to feed
// synthetic record streams.
func (r *Runner) SetOpenFunc(open OpenFunc) { r.open = open }

// Run plans and processes every product's outstanding files. A file
// failure never escapes as an error: it lands in the ledger and the run
// continues with other files and products. Only context cancellation stops
// the pool.
func (r *Runner) Run(ctx context.Context, runs []ProductRun) error {
	type unit struct {
		run  ProductRun
		file *types.SourceFile
	}
	var units []unit
	for _, run := range runs {
		files, err := r.resume.Plan(ctx, run.Product.ProductID)
		if err != nil {
			r.log.Error("Plan failed", "error", err, "product_id", run.Product.ProductID)
			continue
		}
		for _, f := range files {
			units = append(units, unit{run: run, file: f})
		}
	}
	r.log.Info("Run planned", "units", len(units), "workers", r.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, u := range units {
		u := u
		g.Go(func() error {
			return r.ProcessFile(gctx, u.run.Product, u.run.Kind, u.file)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.resume.Cleanup(ctx)
	return nil
}

// ProcessFile carries one file from its current ledger state to completed
// or error. Returns a non-nil error only on context cancellation; every
// other failure is absorbed into the ledger.
func (r *Runner) ProcessFile(ctx context.Context, product *types.Product, kind schema.Kind, file *types.SourceFile) error {
	log := r.log.With("product_id", product.ProductID, "file", file.FileName)
	dbc := dbctx.Context{Ctx: ctx}

	if err := r.files.MarkProcessing(dbc, product.ProductID, file.FileName); err != nil {
		log.Error("ProcessFile failed (mark processing)", "error", err)
		return nil
	}

	path, hash, err := r.fetcher.Fetch(ctx, file)
	if err != nil {
		log.Error("ProcessFile failed (fetch)", "error", err)
		r.markError(dbc, product.ProductID, file.FileName, "fetch: "+err.Error())
		return ctx.Err()
	}
	if hash != "" && hash != file.FileHash {
		if err := r.files.UpdateFields(dbc, product.ProductID, file.FileName, map[string]interface{}{"file_hash": hash}); err != nil {
			log.Error("ProcessFile failed (record hash)", "error", err)
			r.markError(dbc, product.ProductID, file.FileName, "record hash: "+err.Error())
			return nil
		}
		file.FileHash = hash

		// Latest-file detection after download: identical content already
		// ingested under another name means there is nothing new here.
		seen, err := r.files.HashCompleted(dbc, product.ProductID, hash)
		if err == nil && seen {
			log.Info("Content hash already processed, completing without ingest", "hash", hash)
			_ = r.files.MarkCompleted(dbc, product.ProductID, file.FileName, 0, 0, 0)
			return nil
		}
	}

	resumeFrom, err := r.resume.ResumePoint(ctx, product.ProductID, file.FileName)
	if err != nil {
		log.Error("ProcessFile failed (resume point)", "error", err)
		r.markError(dbc, product.ProductID, file.FileName, "resume point: "+err.Error())
		return nil
	}
	var prefixRows int64
	if resumeFrom > types.BatchOrigin {
		prefixRows, err = r.batches.CommittedRowCount(dbc, product.ProductID, file.FileName)
		if err != nil {
			log.Error("ProcessFile failed (committed row count)", "error", err)
			r.markError(dbc, product.ProductID, file.FileName, "committed row count: "+err.Error())
			return nil
		}
		log.Info("Resuming file", "resume_from_batch", resumeFrom, "rows_already_committed", prefixRows)
	}

	it, err := r.open(path, kind)
	if err != nil {
		log.Error("ProcessFile failed (open decoder)", "error", err)
		r.markError(dbc, product.ProductID, file.FileName, "open: "+err.Error())
		return nil
	}
	defer func() { _ = it.Close() }()

	seg := NewSegmenter(it, r.cfg.BatchSize, resumeFrom, prefixRows, r.cfg.DecodeTolerance)
	lastBatch := resumeFrom - 1

	for {
		// Stop signals are honored here, between batches; a commit
		// transaction once started runs to completion or rollback.
		if err := ctx.Err(); err != nil {
			r.markError(dbc, product.ProductID, file.FileName, "stopped: "+err.Error())
			return err
		}

		batch, err := seg.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("ProcessFile failed (decode)", "error", err, "after_batch", lastBatch)
			r.markError(dbc, product.ProductID, file.FileName, "decode: "+err.Error())
			return nil
		}

		if err := r.applyBatch(ctx, product, kind, file, batch); err != nil {
			log.Error("ProcessFile failed (batch)", "error", err, "batch", batch.Number)
			r.markError(dbc, product.ProductID, file.FileName, err.Error())
			return ctx.Err()
		}
		lastBatch = batch.Number
	}

	fresh, err := r.files.Get(dbc, product.ProductID, file.FileName)
	if err != nil || fresh == nil {
		log.Error("ProcessFile failed (reload ledger)", "error", err)
		return nil
	}
	if err := r.files.MarkCompleted(dbc, product.ProductID, file.FileName, fresh.RowsProcessed, fresh.RowsSaved, lastBatch); err != nil {
		log.Error("ProcessFile failed (mark completed)", "error", err)
		return nil
	}
	log.Info("File completed",
		"batches", lastBatch,
		"rows_processed", fresh.RowsProcessed,
		"rows_saved", fresh.RowsSaved,
		"decode_skipped", seg.Skipped())
	return nil
}

// applyBatch runs one batch through the ledger lifecycle and the commit
// engine.
func (r *Runner) applyBatch(ctx context.Context, product *types.Product, kind schema.Kind, file *types.SourceFile, batch *BatchRows) error {
	dbc := dbctx.Context{Ctx: ctx}

	if err := r.batches.RecordCreated(dbc, product.ProductID, file.FileName, batch.Number, len(batch.Rows)); err != nil {
		return err
	}

	var staged datatypes.JSON
	if r.cfg.StageParsedBatches {
		if b, err := json.Marshal(batch.Rows); err == nil {
			staged = datatypes.JSON(b)
		}
	}
	if err := r.batches.MarkParsed(dbc, product.ProductID, file.FileName, batch.Number, staged); err != nil {
		return err
	}
	if err := r.files.AddRowsProcessed(dbc, product.ProductID, file.FileName, int64(len(batch.Rows))); err != nil {
		return err
	}

	return r.commit.Commit(ctx, product, kind, file, batch)
}

func (r *Runner) markError(dbc dbctx.Context, productID, fileName, msg string) {
	if err := r.files.MarkError(dbc, productID, fileName, msg); err != nil {
		r.log.Error("Failed to record file error", "error", err, "product_id", productID, "file", fileName)
	}
}
