// Package version reports the engine build. Version and Commit are set
// with -ldflags; otherwise they come from the module build info:
//
//	go build -ldflags "-X github.com/postersafari/postr-engine/version.Version=1.4.0" ./cmd/postr-engine
package version
