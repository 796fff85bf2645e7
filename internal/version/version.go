// Package version holds build metadata injected with -ldflags, e.g.
//
//	-X github.com/ramiqadoumi/go-action-flow/internal/version.Version=v0.3.0
package version

import "runtime"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }
