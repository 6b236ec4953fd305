package process

import (
	"bytes"
	"time"
)

const stderrTailBytes = 512

// Result holds the output and status of a completed subprocess.
type Result struct {
	Stdout []byte
	Stderr []byte
	// ExitCode is -1 if the process was killed or never started.
	ExitCode int
	Duration time.Duration
}

// StderrTail returns the last bytes of stderr, trimmed, for error messages.
func (r *Result) StderrTail() string {
	if r == nil {
		return ""
	}
	tail := r.Stderr
	if len(tail) > stderrTailBytes {
		tail = tail[len(tail)-stderrTailBytes:]
	}
	return string(bytes.TrimSpace(tail))
}
