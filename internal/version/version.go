// Package version reports what binary is running, for the CLI and the API
// client's User-Agent.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const module = "pkt.systems/expertsurvey"

// buildVersion is set via -ldflags "-X pkt.systems/expertsurvey/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Module    string `json:"module"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

// Current returns the version without a dirty marker.
func Current() string {
	return strings.TrimSuffix(Describe().Version, "+dirty")
}

// UserAgent is sent by the API client.
func UserAgent() string {
	return "expertsurvey/" + Current()
}

// Describe reads the build info once and resolves the version: the
// linker-provided value first, then the module version, then a pseudo
// version from VCS stamps.
func Describe() Info {
	out := Info{Module: module, GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	var vcs vcsStamp
	if ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			out.Module = path
		}
		vcs = readVCS(info)
		out.Revision = vcs.revision
		out.Modified = vcs.modified
	}
	switch {
	case strings.TrimSpace(buildVersion) != "":
		out.Version = strings.TrimSpace(buildVersion)
	case ok && info.Main.Version != "" && info.Main.Version != "(devel)":
		out.Version = info.Main.Version
	default:
		out.Version = vcs.pseudo()
	}
	return out
}

type vcsStamp struct {
	revision string
	at       time.Time
	modified bool
}

func readVCS(info *debug.BuildInfo) vcsStamp {
	var out vcsStamp
	if info == nil {
		return out
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			out.revision = s.Value
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				out.at = t.UTC()
			}
		case "vcs.modified":
			out.modified = s.Value == "true"
		}
	}
	return out
}

// pseudo renders v0.0.0-<time>-<rev12>, with +dirty for modified trees.
func (v vcsStamp) pseudo() string {
	if v.revision == "" || v.at.IsZero() {
		return "v0.0.0-unknown"
	}
	rev := v.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	out := "v0.0.0-" + v.at.Format("20060102150405") + "-" + rev
	if v.modified {
		out += "+dirty"
	}
	return out
}
