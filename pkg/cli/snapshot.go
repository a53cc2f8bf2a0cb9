package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/admin"
	"github.com/getmockd/vbackend/pkg/cli/internal/output"
	"github.com/getmockd/vbackend/pkg/snapshot"
)

var (
	snapshotDescription  string
	snapshotWithClock    bool
	snapshotRestoreClock bool
	snapshotAgainst      string
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Save and restore workspace state",
	Long: `Save and restore workspace state.

A snapshot is a named, immutable copy of every entity in a workspace.
Loading one replaces the workspace's state atomically; writers wait
until the restore is complete.

Examples:
  vbackend snapshot save baseline --description "after seeding"
  vbackend snapshot list
  vbackend snapshot load baseline
  vbackend snapshot save frozen --with-clock
  vbackend snapshot load frozen --restore-clock
  vbackend snapshot validate baseline
  vbackend snapshot diff baseline
  vbackend snapshot diff baseline --against frozen
  vbackend snapshot delete baseline`,
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save the workspace under a new name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient().SaveSnapshot(cmd.Context(), workspaceID, admin.SaveSnapshotRequest{
			Name:         args[0],
			Description:  snapshotDescription,
			IncludeClock: snapshotWithClock,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), d)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved snapshot %s (%d entities)\n", d.Name, d.TotalEntities)
		return nil
	},
}

var snapshotLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Replace the workspace's state with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().LoadSnapshot(cmd.Context(), workspaceID, args[0], snapshotRestoreClock)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return output.JSON(out, res)
		}
		fmt.Fprintf(out, "Loaded snapshot %s into %s (%d entities)\n", args[0], workspaceID, res.Restored)
		if snapshotRestoreClock {
			fmt.Fprintf(out, "Clock: %s (now %s)\n", res.Clock.State, output.Time(res.Clock.Now))
		}
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().ListSnapshots(cmd.Context(), workspaceID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return output.JSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintf(out, "No snapshots in workspace %s\n", workspaceID)
			return nil
		}
		tw := output.Table(out)
		fmt.Fprintln(tw, "NAME\tENTITIES\tSIZE\tCREATED\tDESCRIPTION")
		for _, d := range list {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", d.Name, d.TotalEntities, d.SizeBytes, output.Time(d.CreatedAt), d.Description)
		}
		return tw.Flush()
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show snapshot metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient().GetSnapshot(cmd.Context(), workspaceID, args[0])
		if err != nil {
			return err
		}
		return printDescriptor(cmd.OutOrStdout(), d)
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteSnapshot(cmd.Context(), workspaceID, args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), map[string]any{"deleted": true, "name": args[0]})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %s\n", args[0])
		return nil
	},
}

var snapshotValidateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Check a snapshot's stored state against its checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newClient().ValidateSnapshot(cmd.Context(), workspaceID, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := output.JSON(out, v); err != nil {
				return err
			}
		} else if v.Valid {
			fmt.Fprintf(out, "Snapshot %s is valid (checksum %s)\n", v.Name, v.Checksum)
		}
		if !v.Valid {
			return fmt.Errorf("snapshot %s is invalid: %s", v.Name, v.Problem)
		}
		return nil
	},
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <name>",
	Short: "Compare a snapshot with the live state or another snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient().DiffSnapshot(cmd.Context(), workspaceID, args[0], snapshotAgainst)
		if err != nil {
			return err
		}
		return printDiff(cmd.OutOrStdout(), d)
	},
}

func printDiff(w io.Writer, d *snapshot.Diff) error {
	if jsonOutput {
		return output.JSON(w, d)
	}
	fmt.Fprintf(w, "%s -> %s: %d added, %d removed, %d changed, %d unchanged\n",
		d.Left, d.Right, d.Added, d.Removed, d.Changed, d.Unchanged)
	if len(d.Changes) == 0 {
		return nil
	}
	tw := output.Table(w)
	fmt.Fprintln(tw, "\nCHANGE\tKEY\tFIELDS")
	for _, c := range d.Changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Kind, c.Key, strings.Join(c.Fields, ","))
	}
	return tw.Flush()
}

func printDescriptor(w io.Writer, d *snapshot.Descriptor) error {
	if jsonOutput {
		return output.JSON(w, d)
	}
	fmt.Fprintf(w, "Snapshot:  %s\n", d.Name)
	fmt.Fprintf(w, "ID:        %s\n", d.ID)
	fmt.Fprintf(w, "Workspace: %s\n", d.Workspace)
	if d.Description != "" {
		fmt.Fprintf(w, "About:     %s\n", d.Description)
	}
	fmt.Fprintf(w, "Created:   %s\n", output.Time(d.CreatedAt))
	fmt.Fprintf(w, "Entities:  %d\n", d.TotalEntities)
	fmt.Fprintf(w, "Size:      %d bytes\n", d.SizeBytes)
	fmt.Fprintf(w, "Checksum:  %s\n", d.Checksum)
	if d.Clock != nil {
		fmt.Fprintf(w, "Clock:     %s, offset %s\n", d.Clock.State, d.Clock.Offset)
		if d.Clock.Scale != 0 {
			fmt.Fprintf(w, "Scale:     %g\n", d.Clock.Scale)
		}
	}
	if len(d.EntityCounts) == 0 {
		return nil
	}
	types := make([]string, 0, len(d.EntityCounts))
	for t := range d.EntityCounts {
		types = append(types, t)
	}
	sort.Strings(types)
	tw := output.Table(w)
	fmt.Fprintln(tw, "\nTYPE\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%d\n", t, d.EntityCounts[t])
	}
	return tw.Flush()
}

func init() {
	snapshotSaveCmd.Flags().StringVarP(&snapshotDescription, "description", "d", "", "Free-form description")
	snapshotSaveCmd.Flags().BoolVar(&snapshotWithClock, "with-clock", false, "Record the workspace clock offset")
	snapshotLoadCmd.Flags().BoolVar(&snapshotRestoreClock, "restore-clock", false, "Restore the recorded clock offset")
	snapshotDiffCmd.Flags().StringVar(&snapshotAgainst, "against", "", "Snapshot to compare with instead of the live state")

	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotLoadCmd, snapshotListCmd, snapshotShowCmd, snapshotDeleteCmd, snapshotValidateCmd, snapshotDiffCmd)
	rootCmd.AddCommand(snapshotCmd)
}
