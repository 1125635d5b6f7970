// Package muavar provides the version number of a mua build.
package muavar

import (
	"runtime/debug"
)

// Version is set at runtime based on the Go module used to build.
var Version = "(devel)"

// UserAgent is the default value for the User-Agent header of composed messages.
func UserAgent() string {
	return "mua/" + Version
}

func init() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = buildInfo.Main.Version
	if Version != "(devel)" {
		return
	}
	var vcsRev, vcsMod string
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRev = setting.Value
		case "vcs.modified":
			vcsMod = setting.Value
		}
	}
	if vcsRev == "" {
		return
	}
	Version = vcsRev
	switch vcsMod {
	case "false":
	case "true":
		Version += "+modifications"
	default:
		Version += "+unknown"
	}
}
