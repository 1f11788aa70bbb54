// Package buildinfo exposes the process's Go toolchain and VCS
// metadata for the /version endpoint.
//
// Grounded on the teacher's pkg/x/runtime/info.go.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Info is the payload served at /version.
type Info struct {
	AppName     string `json:"app_name"`
	GoVersion   string `json:"go_version"`
	GoArch      string `json:"go_arch"`
	Vcs         string `json:"vcs"`
	VcsRevision string `json:"vcs_revision"`
	VcsTime     string `json:"vcs_time"`
	Dirty       bool   `json:"dirty"`
}

// Build is populated at init from runtime/debug.ReadBuildInfo.
var Build Info

func init() {
	Build.GoVersion = runtime.Version()
	Build.GoArch = runtime.GOARCH

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	parts := strings.Split(info.Path, "/")
	Build.AppName = parts[len(parts)-1]

	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs":
			Build.Vcs = kv.Value
		case "vcs.revision":
			if len(kv.Value) >= 8 {
				Build.VcsRevision = kv.Value[:8]
			} else {
				Build.VcsRevision = kv.Value
			}
		case "vcs.time":
			Build.VcsTime = kv.Value
		case "vcs.modified":
			Build.Dirty = kv.Value == "true"
		}
	}
}
