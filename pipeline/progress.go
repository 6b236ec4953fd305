package pipeline

import "github.com/postersafari/postr-engine/logger"

// StageProgress is the progress of one active stage.
type StageProgress struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
}

// ProgressReporter renders stage progress while a run is awaited.
type ProgressReporter interface {
	// Report is called with the active watched stages of a run.
	Report(runID string, stages []StageProgress)
	// Finish is called once the wait for a run returns.
	Finish(runID string)
}

type nopReporter struct{}

func (nopReporter) Report(string, []StageProgress) {}
func (nopReporter) Finish(string)                  {}

// LogReporter writes progress as debug log lines.
type LogReporter struct {
	Log *logger.Logger
}

// Report logs one line per active stage.
func (r LogReporter) Report(runID string, stages []StageProgress) {
	for _, s := range stages {
		r.Log.Debug("progress", logger.Fields(
			logger.FieldRunID, runID, logger.FieldStage, s.Stage, "progress", s.Progress))
	}
}

// Finish does nothing.
func (LogReporter) Finish(string) {}
