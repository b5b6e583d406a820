// Package version holds build-time version information for the graphchat
// binary. The variables are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/graphchat-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/graphchat-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/graphchat-go/internal/version.BuildDate=2026-01-01"
//
// Without ldflags the values fall back to readable defaults.
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String returns a one-line description suitable for --version output and
// the User-Agent style "graphchat/<version>" prefix.
func String() string {
	return fmt.Sprintf("graphchat %s (commit %s, built %s)", Version, Commit, BuildDate)
}
