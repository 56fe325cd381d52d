// Package version reports the build identity of the larrix binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags "-X github.com/conneroisu/larrix/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the build identity.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// Get collects the build identity from ldflags, falling back to the VCS
// stamp the Go toolchain embeds.
func Get() Info {
	settings := buildSettings()

	commit := GitCommit
	if commit == "" || commit == "unknown" {
		commit = settings["vcs.revision"]
		if commit == "" {
			commit = "unknown"
		}
	}

	v := Version
	if v == "" || v == "dev" {
		v = "dev"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		} else if len(commit) >= 7 && commit != "unknown" {
			v = "dev-" + commit[:7]
		}
	}

	return Info{
		Version:   v,
		GitCommit: commit,
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Dirty:     settings["vcs.modified"] == "true",
	}
}

// IsRelease reports whether the version is a tagged release.
func (i Info) IsRelease() bool {
	return i.Version != "dev" && !strings.HasPrefix(i.Version, "dev-")
}

// Short is the one-line version.
func (i Info) Short() string {
	s := "larrix " + i.Version
	if i.GitCommit != "unknown" && len(i.GitCommit) >= 7 && !strings.HasSuffix(i.Version, i.GitCommit[:7]) {
		s += " (" + i.GitCommit[:7] + ")"
	}
	if i.Dirty {
		s += " (dirty)"
	}
	return s
}

// Detailed lists every known field, one per line.
func (i Info) Detailed() string {
	lines := []string{"Version: " + i.Version}
	if i.GitCommit != "unknown" {
		lines = append(lines, "Commit: "+i.GitCommit)
	}
	if !i.BuildTime.IsZero() {
		lines = append(lines, "Built: "+i.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines,
		"Go: "+i.GoVersion,
		"Platform: "+i.Platform,
		fmt.Sprintf("Release: %t", i.IsRelease()),
	)
	return strings.Join(lines, "\n")
}

func buildSettings() map[string]string {
	out := make(map[string]string)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			out[s.Key] = s.Value
		}
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
