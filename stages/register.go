package stages

import (
	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
)

// MergeAppendText is the name of the merge that joins text results.
const MergeAppendText = "append_text"

// Register adds the built-in stages, one stage per configured plugin and
// the append_text merge to reg.
func Register(reg *pipeline.Registry, plugins []config.PluginConfig, log *logger.Logger) error {
	builtin := []struct {
		name, descr string
		f           pipeline.Factory
	}{
		{"regex", "finds dates, times, prices, addresses and links in text frames", NewRegex},
		{"wordsplit", "adds a text frame for every run of words in each frame", NewWordSplit},
		{"delay", "waits, reporting progress; for trying out chains", NewDelay},
	}
	for _, b := range builtin {
		if err := reg.Register(b.name, b.descr, b.f); err != nil {
			return err
		}
	}
	for _, pc := range plugins {
		p := NewPlugin(pc, log)
		if err := reg.Register(p.Name(), "external plugin "+pc.Command, p.Factory()); err != nil {
			return err
		}
	}
	return reg.RegisterMerge(MergeAppendText, document.MergeText)
}
