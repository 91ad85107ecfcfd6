package main

import (
	"runtime/debug"

	"github.com/marcus/boardsync/cmd"
)

// Version is stamped by release builds with -ldflags "-X main.Version=...".
var Version = "dev"

// buildVersion falls back to module or VCS information when no version was
// stamped: a tagged `go install` reports its tag, a source build reports
// devel+<rev>, with +dirty for uncommitted changes.
func buildVersion(stamped string, info *debug.BuildInfo) string {
	if stamped != "" && stamped != "dev" {
		return stamped
	}
	if info == nil {
		return stamped
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return stamped
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "devel+" + rev
	if settings["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}

func main() {
	info, _ := debug.ReadBuildInfo()
	cmd.SetVersion(buildVersion(Version, info))
	cmd.Execute()
}
