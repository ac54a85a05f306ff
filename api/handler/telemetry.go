package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/urwa/engine"
)

// Circuits returns the handler for GET /api/v1/circuits.
func Circuits(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"circuits": orch.CircuitStates()})
	}
}

// Stats returns the handler for GET /api/v1/stats?domain=.
func Stats(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stats": orch.StrategyStats(c.Query("domain"))})
	}
}

// Costs returns the handler for GET /api/v1/costs.
func Costs(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.CostUsage())
	}
}

// Logs returns the handler for GET /api/v1/logs?limit=&level=.
func Logs(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 100)
		c.JSON(http.StatusOK, gin.H{"logs": orch.RecentLogs(limit, c.Query("level"))})
	}
}

// Evidence returns the handler for GET /api/v1/evidence?limit=.
func Evidence(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		c.JSON(http.StatusOK, gin.H{"evidence": orch.RecentEvidence(limit)})
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
