// Package build holds values stamped in at release build time.
package build

// Version of the proxy binary. Overridden via -ldflags in release builds.
var Version = "0.0.0"
