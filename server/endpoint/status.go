package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postersafari/postr-engine/pipeline"
)

// PumpStats is the view of a pump the status endpoint reports.
type PumpStats interface {
	InFlight() int
	Peak() int
	Processed() int
	Failed() int
	ClaimsLost() int
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Info
	InFlight   int                      `json:"in_flight"`
	Peak       int                      `json:"peak_in_flight"`
	Processed  int                      `json:"processed"`
	Failed     int                      `json:"failed"`
	ClaimsLost int                      `json:"claims_lost"`
	Stages     []pipeline.StageProgress `json:"stages"`
}

// Status reports pump counters and the progress of running stages.
func Status(info Info, stats PumpStats, stages []pipeline.Stage) gin.HandlerFunc {
	return func(c *gin.Context) {
		active := pipeline.ActiveStages(stages...)
		if active == nil {
			active = []pipeline.StageProgress{}
		}
		c.JSON(http.StatusOK, StatusResponse{
			Info:       info,
			InFlight:   stats.InFlight(),
			Peak:       stats.Peak(),
			Processed:  stats.Processed(),
			Failed:     stats.Failed(),
			ClaimsLost: stats.ClaimsLost(),
			Stages:     active,
		})
	}
}
