// Package version holds the build version, overridable with
// -ldflags "-X workbench/pkg/version.Version=...".
package version

// Version is the current release.
var Version = "v0.1.0"
