package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/urwa/engine"
	"github.com/use-agent/urwa/models"
)

// Scrape returns the handler for POST /api/v1/scrape: a thin JSON
// binding over the orchestrator's single operation.
func Scrape(orch *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResult{
				Status:      models.StatusError,
				FailureKind: models.FailInvalidURL,
			})
			return
		}

		result := orch.Scrape(c.Request.Context(), &req)

		code := http.StatusOK
		if result.Status == models.StatusError {
			code = statusFor(result.FailureKind)
		}
		c.JSON(code, result)
	}
}

// statusFor maps terminal failure kinds to HTTP status codes.
func statusFor(kind models.FailureKind) int {
	switch kind {
	case models.FailInvalidURL:
		return http.StatusBadRequest
	case models.FailComplianceDenied, models.FailBlocked:
		return http.StatusForbidden
	case models.FailCircuitOpen, models.FailCostExceeded:
		return http.StatusServiceUnavailable
	case models.FailCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}
