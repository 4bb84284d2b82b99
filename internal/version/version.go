// Package version holds build metadata for tvplay.
//
// The variables are set at link time:
//
//	go build -ldflags "-X github.com/jmylchreest/tvplay/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/tvplay/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/tvplay/internal/version.Branch=$(git rev-parse --abbrev-ref HEAD) \
//	                   -X github.com/jmylchreest/tvplay/internal/version.TreeState=clean \
//	                   -X github.com/jmylchreest/tvplay/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables.
var (
	// Version is a SemVer string. Snapshots look like "1.2.3-SNAPSHOT.abc1234".
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Branch is the git branch the binary was built from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty".
	TreeState = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "tvplay"

const shortSHALen = 8

// Info is the structured form of the build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
	TreeState string `json:"tree_state"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build metadata.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortSHA(),
		Branch:    Branch,
		TreeState: TreeState,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func shortSHA() string {
	if Commit == "unknown" || len(Commit) < shortSHALen {
		return ""
	}
	return Commit[:shortSHALen]
}

// commitRef is the short SHA with a "*" suffix for dirty trees.
func commitRef() string {
	sha := shortSHA()
	if sha != "" && TreeState == "dirty" {
		sha += "*"
	}
	return sha
}

// String returns the long human-readable version line.
func String() string {
	info := GetInfo()
	ref := commitRef()
	if ref == "" {
		return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
	}

	details := []string{"commit: " + ref}
	if Branch != "unknown" && Branch != "" {
		details = append(details, "branch: "+Branch)
	}
	details = append(details, "built: "+info.Date, info.GoVersion, info.Platform)
	return fmt.Sprintf("%s version %s (%s)", ApplicationName, info.Version, strings.Join(details, ", "))
}

// Short returns the version for cobra's --version output, which already
// prints the application name.
func Short() string {
	if ref := commitRef(); ref != "" {
		return fmt.Sprintf("%s (%s)", Version, ref)
	}
	return Version
}

// JSON returns the build metadata as indented JSON.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserAgent returns a User-Agent string for outgoing HTTP requests.
func UserAgent() string {
	return ApplicationName + "/" + Version
}

// IsSnapshot reports whether this is a development or snapshot build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
