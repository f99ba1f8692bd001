package version

import "runtime/debug"

// Build information, overridden at build time via -ldflags "-X".
var (
	// Version is the semantic version of walletchatd
	Version = "v0.1.0"

	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the version string reported by /health and the startup log.
func Info() string {
	return Version
}

// FullInfo returns complete build information. When Commit was not injected
// the VCS revision recorded by the Go toolchain is used instead.
func FullInfo() string {
	commit := Commit
	if commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	return "version=" + Version + " commit=" + commit + " built_at=" + BuiltAt
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
