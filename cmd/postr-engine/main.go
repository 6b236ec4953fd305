// Command postr-engine analyzes poster images: it claims documents from a
// backlog, runs them through a configurable chain of stages and writes the
// results back.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
