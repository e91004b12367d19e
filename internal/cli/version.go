// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// BuildInfo holds version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Commit    string `json:"commit"`
	BuildTime string `json:"built"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if len(setting.Value) >= 7 {
					info.Commit = setting.Value[:7]
				} else {
					info.Commit = setting.Value
				}
			case "vcs.time":
				info.BuildTime = setting.Value
			}
		}
	}

	return info
}

func newVersionCmd(a *app, version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo(version)

			switch {
			case short:
				fmt.Fprintln(a.stdout, info.Version)
			case a.ro.JSONOut:
				return writeJSON(a.stdout, info)
			default:
				fmt.Fprintf(a.stdout, "kkrdata %s\n", info.Version)
				fmt.Fprintf(a.stdout, "  Go:       %s\n", info.GoVersion)
				fmt.Fprintf(a.stdout, "  OS/Arch:  %s/%s\n", info.OS, info.Arch)
				fmt.Fprintf(a.stdout, "  Commit:   %s\n", info.Commit)
				fmt.Fprintf(a.stdout, "  Built:    %s\n", info.BuildTime)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}
