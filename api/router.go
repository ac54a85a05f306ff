package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/urwa/api/handler"
	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/engine"
	"github.com/use-agent/urwa/metrics"
)

// NewRouter creates a configured Gin engine with the scrape entry point
// and the ops/telemetry surface.
//
// Health and metrics sit outside /api/v1 so monitoring probes always work.
func NewRouter(orch *engine.Orchestrator, m *metrics.Metrics, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", handler.Health(startTime))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")

	v1.POST("/scrape", handler.Scrape(orch))

	// Telemetry.
	v1.GET("/circuits", handler.Circuits(orch))
	v1.GET("/stats", handler.Stats(orch))
	v1.GET("/costs", handler.Costs(orch))
	v1.GET("/logs", handler.Logs(orch))
	v1.GET("/evidence", handler.Evidence(orch))

	return r
}
