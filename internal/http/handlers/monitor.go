package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openregistry/tmbulk/internal/data/repos/catalog"
	"github.com/openregistry/tmbulk/internal/http/response"
	"github.com/openregistry/tmbulk/internal/platform/dbctx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

// MonitorHandler exposes the read-only ingestion status views: product
// registry with aggregates, and per-product file history.
type MonitorHandler struct {
	products catalog.ProductRepo
	files    catalog.SourceFileRepo
	log      *logger.Logger
}

func NewMonitorHandler(products catalog.ProductRepo, files catalog.SourceFileRepo, baseLog *logger.Logger) *MonitorHandler {
	return &MonitorHandler{
		products: products,
		files:    files,
		log:      baseLog.With("handler", "MonitorHandler"),
	}
}

// ListProducts returns every registered product joined with its file
// aggregates.
func (h *MonitorHandler) ListProducts(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	products, err := h.products.ListAll(dbc)
	if err != nil {
		h.log.Error("ListProducts failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "list_products_failed", err)
		return
	}
	stats, err := h.files.Stats(dbc)
	if err != nil {
		h.log.Error("ListProducts stats failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}

	byProduct := make(map[string]*catalog.ProductStats, len(stats))
	for _, st := range stats {
		byProduct[st.ProductID] = st
	}

	type productView struct {
		ProductID     string                `json:"product_id"`
		Title         string                `json:"title"`
		Frequency     string                `json:"frequency,omitempty"`
		TargetTable   string                `json:"table_name"`
		SchemaCreated bool                  `json:"schema_created"`
		Stats         *catalog.ProductStats `json:"stats,omitempty"`
	}
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, productView{
			ProductID:     p.ProductID,
			Title:         p.Title,
			Frequency:     p.Frequency,
			TargetTable:   p.TargetTable,
			SchemaCreated: p.SchemaCreated,
			Stats:         byProduct[p.ProductID],
		})
	}
	response.RespondOK(c, gin.H{"products": out})
}

// ListProductFiles returns the file ledger of one product in discovery
// order.
func (h *MonitorHandler) ListProductFiles(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("id"))
	if productID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_product_id", errors.New("product id required"))
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	product, err := h.products.GetByProductID(dbc, productID)
	if err != nil {
		h.log.Error("ListProductFiles failed", "error", err, "product_id", productID)
		response.RespondError(c, http.StatusInternalServerError, "get_product_failed", err)
		return
	}
	if product == nil {
		response.RespondError(c, http.StatusNotFound, "product_not_found", errors.New("unknown product "+productID))
		return
	}

	files, err := h.files.ListByProduct(dbc, product.ProductID)
	if err != nil {
		h.log.Error("ListProductFiles failed", "error", err, "product_id", productID)
		response.RespondError(c, http.StatusInternalServerError, "list_files_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"product_id": product.ProductID,
		"files":      files,
	})
}
