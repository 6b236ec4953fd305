package process

import (
	"bytes"
	"io"
	"time"

	"github.com/postersafari/postr-engine/config"
)

// Command is one plugin invocation.
type Command struct {
	// Binary is the plugin executable, resolved via PATH when not absolute.
	Binary string
	// Args are passed unchanged on every activation.
	Args []string
	// Dir is the plugin's working directory; empty inherits the engine's.
	Dir string
	// Env entries (key=value) are appended to the engine's environment.
	Env []string
	// Stdin carries the serialized item. May be nil.
	Stdin io.Reader
	// GracePeriod separates SIGTERM from SIGKILL when the activation is
	// canceled. Zero means 5s.
	GracePeriod time.Duration
}

// PluginCommand builds the invocation of a configured plugin that reads
// input from stdin.
func PluginCommand(cfg config.PluginConfig, input []byte) Command {
	return Command{
		Binary: cfg.Command,
		Args:   cfg.Args,
		Dir:    cfg.Dir,
		Env:    cfg.Env,
		Stdin:  bytes.NewReader(input),
	}
}
