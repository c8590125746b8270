// SPDX-License-Identifier: MIT

// Package version exposes build metadata injected at link time.
package version

var (
	// Version is the current application version.
	// Populated by the build system (ldflags); the fallback marks dev builds.
	Version = "v0.3.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
