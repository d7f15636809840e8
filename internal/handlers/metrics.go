package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/metrics"
)

// Metrics serves the Prometheus registry.
// GET /metrics
func Metrics() gin.HandlerFunc {
	return gin.WrapH(metrics.Handler())
}
