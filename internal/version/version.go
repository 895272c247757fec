// Package version reports the build version of conductor.
package version

import "strings"

// Version is set at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/conductor/internal/version.Version=v0.3.0"
var Version = "dev"

// Get returns the current version, with whitespace trimmed.
func Get() string {
	if v := strings.TrimSpace(Version); v != "" {
		return v
	}
	return "dev"
}
