package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const RequestDurationMetric = "gateway.http.request.duration"

type HistogramRecorder interface {
	RecordHistogram(ctx context.Context, name, description, unit string, value float64, attributes map[string]string) error
}

// MetricsMiddleware records the handling time of every routed request.
func MetricsMiddleware(recorder HistogramRecorder, lg *zap.Logger) gin.HandlerFunc {
	if lg == nil {
		lg = zap.L()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		err := recorder.RecordHistogram(context.WithoutCancel(c.Request.Context()), RequestDurationMetric,
			"HTTP request handling time", "ms",
			float64(time.Since(start).Microseconds())/1000,
			map[string]string{
				"method": c.Request.Method,
				"route":  route,
				"status": strconv.Itoa(c.Writer.Status()),
			})
		if err != nil {
			lg.Warn("failed to record request duration", zap.Error(err))
		}
	}
}
