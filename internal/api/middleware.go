package api

import (
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/TheMichaelB/visitsync/internal/events"
)

// requestLogger logs every request after it is handled.
func requestLogger(logger *events.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		method := ctx.Method()
		path := ctx.URL().Path

		next(ctx)

		logger.WithFields(map[string]interface{}{
			"method":      method,
			"path":        path,
			"status":      ctx.Status(),
			"duration":    time.Since(start),
			"remote_addr": ctx.RemoteAddr(),
		}).Debug("HTTP request")
	}
}
