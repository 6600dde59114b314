package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/vocabnest/vocabnest/metrics"
)

// Metrics records Prometheus request metrics for every route.
func Metrics() gin.HandlerFunc {
	return metrics.Middleware()
}
