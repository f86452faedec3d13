// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"runtime/debug"
)

const unknown = "unknown"

// Set at build time:
//
//	-X github.com/parameterIT/experiment-toolkit/pkg/version.Version=v1.2.3
//	-X github.com/parameterIT/experiment-toolkit/pkg/version.Commit=abc1234
//	-X github.com/parameterIT/experiment-toolkit/pkg/version.Date=2024-01-01
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// InitBinaryVersion fills Commit and Date from the embedded VCS build info
// when they were not set by the linker.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == unknown {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == unknown {
				Date = setting.Value
			}
		}
	}
}

// String renders the version line printed by the version command.
func String() string {
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}

	return Version + " (commit: " + short + ", built: " + Date + ")"
}
