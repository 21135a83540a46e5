package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// Set through -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Go      string `json:"go"`
}

// currentBuild fills in what ldflags left unset from the module build info,
// which is present for `go install` builds.
func currentBuild() buildInfo {
	b := buildInfo{
		Version: strings.TrimSpace(version),
		Go:      runtime.Version(),
	}
	if c := strings.TrimSpace(commit); c != "" && c != "none" {
		b.Commit = c
	}
	if d := strings.TrimSpace(date); d != "" && d != "unknown" {
		b.Date = d
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if (b.Version == "" || b.Version == "dev") && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = s.Value
			}
		}
	}
	return b
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build details",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := currentBuild()
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			_, _ = fmt.Fprintf(out, "wabot %s\n", b.Version)
			if b.Commit != "" {
				_, _ = fmt.Fprintf(out, "commit: %s\n", b.Commit)
			}
			if b.Date != "" {
				_, _ = fmt.Fprintf(out, "date: %s\n", b.Date)
			}
			_, _ = fmt.Fprintf(out, "go: %s\n", b.Go)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print build details as JSON.")
	return cmd
}
