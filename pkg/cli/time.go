package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/cli/internal/output"
	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/store"
)

var timeCmd = &cobra.Command{
	Use:   "time",
	Short: "Inspect and shift a workspace's clock",
	Long: `Inspect and shift a workspace's clock.

Each workspace reads time through its own clock: real time plus an offset,
optionally running faster or slower than real time.
Records written while the clock is shifted carry the shifted timestamps.

Examples:
  vbackend time status
  vbackend time offset -- -24h
  vbackend time advance 90m
  vbackend time set 2030-01-01T00:00:00Z
  vbackend time scale 60
  vbackend time reset`,
}

var timeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workspace clock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newClient().Time(cmd.Context(), workspaceID)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), st)
	},
}

var timeOffsetCmd = &cobra.Command{
	Use:   "offset <duration>",
	Short: "Set the clock offset from real time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDurationArg(args[0])
		if err != nil {
			return err
		}
		st, err := newClient().SetOffset(cmd.Context(), workspaceID, d)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), st)
	},
}

var timeAdvanceCmd = &cobra.Command{
	Use:   "advance <duration>",
	Short: "Move the clock by a duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := parseDurationArg(args[0])
		if err != nil {
			return err
		}
		st, err := newClient().Advance(cmd.Context(), workspaceID, d)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), st)
	},
}

var timeSetCmd = &cobra.Command{
	Use:   "set <RFC3339 time>",
	Short: "Shift the clock so that now reads the given time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return &store.ValidationError{Field: "time", Message: fmt.Sprintf("invalid RFC3339 time %q", args[0])}
		}
		st, err := newClient().SetTime(cmd.Context(), workspaceID, t)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), st)
	},
}

var timeScaleCmd = &cobra.Command{
	Use:   "scale <factor>",
	Short: "Run the clock faster or slower than real time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return &store.ValidationError{Field: "scale", Message: fmt.Sprintf("invalid scale factor %q", args[0])}
		}
		st, err := newClient().SetScale(cmd.Context(), workspaceID, f)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), st)
	},
}

var timeResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return the clock to real time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newClient().ResetTime(cmd.Context(), workspaceID)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), st)
	},
}

func parseDurationArg(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &store.ValidationError{Field: "duration", Message: fmt.Sprintf("invalid duration %q", s)}
	}
	return d, nil
}

func printClock(w io.Writer, st *clock.Status) error {
	if jsonOutput {
		return output.JSON(w, st)
	}
	fmt.Fprintf(w, "Workspace: %s\n", st.Workspace)
	fmt.Fprintf(w, "State:     %s\n", st.State)
	fmt.Fprintf(w, "Offset:    %s\n", st.Offset)
	if st.Scale != 1 {
		fmt.Fprintf(w, "Scale:     %gx\n", st.Scale)
	}
	fmt.Fprintf(w, "Now:       %s\n", output.Time(st.Now))
	fmt.Fprintf(w, "Real time: %s\n", output.Time(st.RealTime))
	return nil
}

func init() {
	timeCmd.AddCommand(timeStatusCmd, timeOffsetCmd, timeAdvanceCmd, timeSetCmd, timeScaleCmd, timeResetCmd)
	rootCmd.AddCommand(timeCmd)
}
