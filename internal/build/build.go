// Package build holds version metadata stamped in at release time via
// -ldflags.
package build

var (
	Version = "dev"
	AppName = "logductd"
)
