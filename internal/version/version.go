// Package version carries the build metadata stamped into the binary.
package version

import (
	"fmt"
	"strings"
)

// Version is the released version. Overridden at build time:
//
//	go build -ldflags "-X github.com/ghostwriter-im/ghostwriter/internal/version.Version=0.3.0"
var Version = "0.0.0-dev"

// GitCommit, GitBranch, and BuildTime are stamped the same way from
// `git rev-parse HEAD`, `git rev-parse --abbrev-ref HEAD`, and
// `date -u +%Y-%m-%dT%H:%M:%SZ`.
var (
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

func shortCommit() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return ""
	}
	if len(GitCommit) > 8 {
		return GitCommit[:8]
	}
	return GitCommit
}

// String returns the version, suffixed with the short commit hash when
// one was stamped in.
func String() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s-%s", Version, c)
	}
	return Version
}

// StringFull returns every stamped build field for diagnostics output.
func StringFull() string {
	parts := []string{fmt.Sprintf("Version=%s", Version)}
	if c := shortCommit(); c != "" {
		parts = append(parts, fmt.Sprintf("Commit=%s", c))
	}
	if GitBranch != "" && GitBranch != "unknown" {
		parts = append(parts, fmt.Sprintf("Branch=%s", GitBranch))
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, fmt.Sprintf("BuildTime=%s", BuildTime))
	}
	return strings.Join(parts, " ")
}
