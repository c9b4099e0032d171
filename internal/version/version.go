// Package version holds the build-time identity reported in tracing
// resource attributes.
package version

// Version is overridden at build time via -ldflags where applicable.
var Version = "dev"
