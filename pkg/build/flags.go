// SPDX-License-Identifier: MIT
//
// Package build reports the name, version, commit and build time linked into
// the binary with -ldflags, for example:
//
//	go build -ldflags "-X beatlight/pkg/build.buildVersion=0.3.0 -X beatlight/pkg/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Development builds carry none of them and report the defaults.
package build

import (
	"fmt"
	"strings"
)

// Info is the build metadata of the running binary.
type Info struct {
	Name    string
	Version string
	Commit  string
	Time    string
}

// String renders Info the way --version prints it.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Package-level variables populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var info = defaults()

func defaults() Info {
	return Info{
		Name:    "beatlight",
		Version: "dev",
		Commit:  "unknown",
		Time:    "unknown",
	}
}

// Initialize copies the ldflags values into the build info. Values that were not
// set keep their defaults; the returned error names them.
func Initialize() error {
	info = defaults()

	var missing []string
	for _, f := range []struct {
		name  string
		value string
		dst   *string
	}{
		{"buildName", buildName, &info.Name},
		{"buildVersion", buildVersion, &info.Version},
		{"buildCommit", buildCommit, &info.Commit},
		{"buildTime", buildTime, &info.Time},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
			continue
		}
		*f.dst = f.value
	}

	if len(missing) > 0 {
		return fmt.Errorf("build flags not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the build information. Call Initialize first.
func Get() Info {
	return info
}
