package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/cli/internal/output"
)

// VersionOutput represents JSON output format
type VersionOutput struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

// buildVersion fills the ldflags values from the embedded build info when
// they were not injected.
func buildVersion() VersionOutput {
	out := VersionOutput{
		Version: Version,
		Commit:  Commit,
		Date:    BuildDate,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	if out.Version == "dev" && info.Main.Version != "" {
		out.Version = info.Main.Version
	}
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.Date == "unknown" {
				out.Date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty {
		out.Commit += "-dirty"
	}
	return out
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show vbackend version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := buildVersion()
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), out)
		}
		v := out.Version
		if len(v) > 0 && v[0] != 'v' && v != "dev" && v != "(devel)" {
			v = "v" + v
		}
		fmt.Fprintf(cmd.OutOrStdout(), "vbackend %s (%s, %s)\n", v, out.Commit, out.Date)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", out.Go, out.OS, out.Arch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
