// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go"`
	Platform  string `json:"platform"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	BuildTime string `json:"built"`
	Endpoint  string `json:"endpoint"`
	UserAgent string `json:"userAgent"`
}

// GetBuildInfo collects version data, reading VCS stamps from the binary
// when the build recorded them.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Commit:    "unknown",
		BuildTime: "unknown",
		Endpoint:  ghfolder.DefaultEndpoint,
		UserAgent: ghfolder.UserAgent,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, kv := range bi.Settings {
		switch kv.Key {
		case "vcs.revision":
			info.Commit = shortRev(kv.Value)
		case "vcs.time":
			info.BuildTime = kv.Value
		case "vcs.modified":
			info.Modified = kv.Value == "true"
		}
	}
	return info
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func (b BuildInfo) writeText(w io.Writer) {
	commit := b.Commit
	if b.Modified {
		commit += " (modified)"
	}
	fmt.Fprintf(w, "ghfolder %s\n", b.Version)
	for _, row := range [][2]string{
		{"Go", b.GoVersion},
		{"Platform", b.Platform},
		{"Commit", commit},
		{"Built", b.BuildTime},
		{"API", b.Endpoint + " (" + b.UserAgent + ")"},
	} {
		fmt.Fprintf(w, "  %-9s %s\n", row[0]+":", row[1])
	}
}

func newVersionCmd(ro *RootOpts, version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version, build and API details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo(version)
			out := cmd.OutOrStdout()
			switch {
			case short:
				fmt.Fprintln(out, info.Version)
			case ro.JSONOut:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				info.writeText(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	return cmd
}
