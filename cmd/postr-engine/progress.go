package main

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/postersafari/postr-engine/pipeline"
)

const barWidth = 24

// terminalReporter draws one progress bar per running stage of every
// watched run in a live terminal area.
type terminalReporter struct {
	mu   sync.Mutex
	area *pterm.AreaPrinter
	runs map[string][]pipeline.StageProgress
}

var _ pipeline.ProgressReporter = (*terminalReporter)(nil)

func newTerminalReporter() *terminalReporter {
	return &terminalReporter{runs: make(map[string][]pipeline.StageProgress)}
}

func (r *terminalReporter) Report(runID string, stages []pipeline.StageProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.area == nil {
		area, err := pterm.DefaultArea.WithRemoveWhenDone(true).Start()
		if err != nil {
			return
		}
		r.area = area
	}
	r.runs[runID] = stages
	r.area.Update(renderProgress(r.runs))
}

func (r *terminalReporter) Finish(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	if r.area == nil {
		return
	}
	if len(r.runs) > 0 {
		r.area.Update(renderProgress(r.runs))
		return
	}
	_ = r.area.Stop()
	r.area = nil
}

func renderProgress(runs map[string][]pipeline.StageProgress) string {
	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var b strings.Builder
	for _, id := range ids {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		for _, s := range runs[id] {
			fmt.Fprintf(&b, "%s  %-14s %s %3d%%\n", pterm.Gray(short), s.Stage, bar(s.Progress), s.Progress)
		}
	}
	return b.String()
}

func bar(progress int) string {
	n := min(max(progress, 0), 100) * barWidth / 100
	return pterm.FgGreen.Sprint(strings.Repeat("█", n)) + pterm.FgGray.Sprint(strings.Repeat("░", barWidth-n))
}
