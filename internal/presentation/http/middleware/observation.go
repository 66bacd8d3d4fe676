package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

// Observer times operations.
type Observer interface {
	StartObservation(operation, key string) *performance.Marker
	EndObservation(marker *performance.Marker, err error)
}

// ObservationMiddleware records every matched route as an "http:" operation.
// Server errors mark the observation failed.
func ObservationMiddleware(observer Observer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			c.Next()
			return
		}

		marker := observer.StartObservation("http:"+c.Request.Method+" "+route, "")
		marker.AddMetadata("path", c.Request.URL.Path)
		c.Next()

		var err error
		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			err = fmt.Errorf("status %d", status)
		}
		marker.AddMetadata("status", c.Writer.Status())
		observer.EndObservation(marker, err)
	}
}
