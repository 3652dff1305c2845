package pipeline

import (
	"context"
	"time"

	"github.com/openregistry/tmbulk/internal/app"
	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	types "github.com/openregistry/tmbulk/internal/domain"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

// ResumeCoordinator decides, per file, whether to skip, resume or restart,
// by consulting the file and batch ledgers. It owns no processing itself.
type ResumeCoordinator struct {
	cfg     app.Config
	files   catalog.SourceFileRepo
	batches catalog.BatchRepo
	log     *logger.Logger
}

func NewResumeCoordinator(cfg app.Config, files catalog.SourceFileRepo, batches catalog.BatchRepo, baseLog *logger.Logger) *ResumeCoordinator {
	return &ResumeCoordinator{
		cfg:     cfg,
		files:   files,
		batches: batches,
		log:     baseLog.With("service", "ResumeCoordinator"),
	}
}

// Plan returns the product's files still needing work, in discovery order.
// A pending file whose content hash already belongs to a completed file is
// closed out on the spot: same content re-offered means no new data.
func (c *ResumeCoordinator) Plan(ctx context.Context, productID string) ([]*types.SourceFile, error) {
	dbc := dbctx.Context{Ctx: ctx}
	staleBefore := time.Now().Add(-c.cfg.StaleProcessing)
	candidates, err := c.files.Plan(dbc, productID, c.cfg.MaxFileAttempts, staleBefore)
	if err != nil {
		return nil, err
	}

	out := make([]*types.SourceFile, 0, len(candidates))
	for _, file := range candidates {
		if file.FileHash != "" && file.Status == types.FileStatusPending {
			seen, err := c.files.HashCompleted(dbc, productID, file.FileHash)
			if err != nil {
				return nil, err
			}
			if seen {
				c.log.Info("Skipping file, content hash already processed",
					"product_id", productID, "file", file.FileName, "hash", file.FileHash)
				if err := c.files.MarkCompleted(dbc, productID, file.FileName, 0, 0, 0); err != nil {
					return nil, err
				}
				continue
			}
		}
		out = append(out, file)
	}
	return out, nil
}

// ResumePoint returns the batch number the segmenter should continue from:
// one past the file's committed frontier, or the origin for a fresh file.
// Commits are strictly ordered, so the frontier is contiguous.
func (c *ResumeCoordinator) ResumePoint(ctx context.Context, productID, fileName string) (int, error) {
	highest, err := c.batches.HighestCommitted(dbctx.Context{Ctx: ctx}, productID, fileName)
	if err != nil {
		return 0, err
	}
	if highest == 0 {
		return types.BatchOrigin, nil
	}
	return highest + 1, nil
}

// Cleanup purges batch ledger rows of files completed beyond the retention
// window. Opportunistic: failures are logged, never fatal.
func (c *ResumeCoordinator) Cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-c.cfg.BatchRetention)
	n, err := c.batches.DeleteCompletedBefore(dbctx.Context{Ctx: ctx}, cutoff)
	if err != nil {
		c.log.Warn("Batch retention cleanup failed", "error", err)
		return
	}
	if n > 0 {
		c.log.Info("Purged batch ledger rows past retention", "rows", n, "cutoff", cutoff)
	}
}
