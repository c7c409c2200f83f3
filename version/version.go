package version

import "runtime"

// Build metadata, injected at build time via -ldflags.
var (
	// GitRelease is the release tag (e.g. "v0.3.1").
	GitRelease = "dev"

	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"

	// GitCommitDate is the commit timestamp.
	GitCommitDate = "unknown"

	// GoInfo is the Go toolchain the binary was built with.
	GoInfo = runtime.Version()
)
