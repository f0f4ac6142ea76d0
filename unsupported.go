//go:build !linux && !windows && !(darwin && !ios)

// This file intentionally declares the wrong package name so that builds for
// targets without a backend fail instead of silently reporting success.
package your_operating_system_is_not_supported_by_antidebug
