package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/postersafari/postr-engine/observability"
	"github.com/postersafari/postr-engine/pipeline"
)

// Info identifies the engine in responses.
type Info struct {
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	EngineID string `json:"engine_id"`
}

// Health reports the aggregated health of checkers. A component that is
// down makes the response 503.
func Health(info Info, checkers ...observability.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := observability.Check(c.Request.Context(), info.Service, info.Version, checkers...)
		code := http.StatusOK
		if sh.Status == observability.HealthStatusDown {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":     sh.Status,
			"service":    sh.Service,
			"version":    sh.Version,
			"engine_id":  info.EngineID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"components": sh.Components,
		})
	}
}

// retrier is implemented by sources that know when they recover.
type retrier interface {
	RetryAt() time.Time
}

// SourceHealth checks a backlog source. A closed source is down; an open
// but unhealthy one is degraded, since the pump keeps retrying it.
func SourceHealth(name string, src pipeline.Source) observability.HealthChecker {
	return observability.HealthFunc(func(context.Context) observability.Health {
		h := observability.Health{Name: name, Status: observability.HealthStatusUp}
		switch {
		case !src.IsOpen():
			h.Status = observability.HealthStatusDown
			h.Message = "source closed"
		case !src.IsHealthy():
			h.Status = observability.HealthStatusDegraded
			h.Message = "source unavailable"
			if r, ok := src.(retrier); ok {
				h.Details = map[string]string{"retry_at": r.RetryAt().UTC().Format(time.RFC3339)}
			}
		}
		return h
	})
}
