package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/openregistry/tmbulk/internal/http/handlers"
	httpMW "github.com/openregistry/tmbulk/internal/http/middleware"
)

type RouterConfig struct {
	HealthHandler  *httpH.HealthHandler
	MonitorHandler *httpH.MonitorHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.MonitorHandler != nil {
			api.GET("/products", cfg.MonitorHandler.ListProducts)
			api.GET("/products/:id/files", cfg.MonitorHandler.ListProductFiles)
		}
	}

	return r
}
