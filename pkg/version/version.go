// Package version holds build information set at link time.
package version

// Version is overridden with -ldflags "-X github.com/cbodonnell/apsync/pkg/version.Version=...".
var Version = "0.3.0"

// Commit is the git revision the binary was built from.
var Commit = "unknown"
