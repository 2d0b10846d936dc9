// Package version provides the build version of the server.
package version

// Version is the service version, set at build time via -ldflags.
var Version = "0.3.1"

// DevVersion is the version suffix used in dev mode.
var DevVersion = Version + "-dev"

// GetCurrentVersion returns the version string for the given mode.
func GetCurrentVersion(mode string) string {
	if mode == "prod" {
		return Version
	}
	return DevVersion
}
