// Package version carries the build version and the client compatibility
// floor. Version is overridden at link time by the release build.
package version

import "golang.org/x/mod/semver"

// Version is the server/CLI build version. Release builds set it with
// -ldflags "-X github.com/tascade/tascade/internal/version.Version=...".
var Version = "v0.4.0"

// MinClient is the oldest client version the server promises to serve.
const MinClient = "v0.3.0"

// ClientCompatible reports whether a client at clientVersion can talk to a
// server at serverVersion, and whether the client should warn that the
// server is behind it. Invalid versions compare as compatible; dev builds
// never warn.
func ClientCompatible(clientVersion, serverVersion string) (ok, serverBehind bool) {
	if !semver.IsValid(clientVersion) || !semver.IsValid(serverVersion) {
		return true, false
	}
	if semver.Compare(clientVersion, MinClient) < 0 {
		return false, false
	}
	return true, semver.Compare(semver.MajorMinor(clientVersion), semver.MajorMinor(serverVersion)) > 0
}
