package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/cli/internal/output"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage workspaces",
	Long: `Manage workspaces.

A workspace is an isolated entity store with its own clock and snapshots.

Examples:
  vbackend workspace list
  vbackend workspace create staging
  vbackend workspace show staging
  vbackend workspace delete staging`,
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().ListWorkspaces(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return output.JSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No workspaces")
			return nil
		}
		tw := output.Table(out)
		fmt.Fprintln(tw, "ID\tENTITIES\tCLOCK\tCREATED")
		for _, ws := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ws.ID, ws.Entities, ws.Clock.State, output.Time(ws.CreatedAt))
		}
		return tw.Flush()
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newClient().CreateWorkspace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created workspace %s\n", info.ID)
		return nil
	},
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a workspace (defaults to --workspace)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := workspaceID
		if len(args) == 1 {
			id = args[0]
		}
		client := newClient()
		info, err := client.GetWorkspace(cmd.Context(), id)
		if err != nil {
			return err
		}
		stats, err := client.Stats(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return output.JSON(out, map[string]any{"workspace": info, "protocols": stats.Protocols})
		}

		fmt.Fprintf(out, "Workspace: %s\n", info.ID)
		fmt.Fprintf(out, "Backend:   %s\n", info.Backend)
		fmt.Fprintf(out, "Created:   %s\n", output.Time(info.CreatedAt))
		fmt.Fprintf(out, "Clock:     %s (now %s)\n", info.Clock.State, output.Time(info.Clock.Now))
		fmt.Fprintf(out, "Entities:  %d\n", info.Entities)
		if len(info.Types) > 0 {
			types := make([]string, 0, len(info.Types))
			for t := range info.Types {
				types = append(types, t)
			}
			sort.Strings(types)
			tw := output.Table(out)
			fmt.Fprintln(tw, "\nTYPE\tCOUNT")
			for _, t := range types {
				fmt.Fprintf(tw, "%s\t%d\n", t, info.Types[t])
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
		if len(stats.Protocols) > 0 {
			tw := output.Table(out)
			fmt.Fprintln(tw, "\nPROTOCOL\tREADS\tWRITES")
			for p, s := range stats.Protocols {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", p, s.Reads, s.Writes)
			}
			return tw.Flush()
		}
		return nil
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a workspace with its records, clock and snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteWorkspace(cmd.Context(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), map[string]any{"deleted": true, "id": args[0]})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted workspace %s\n", args[0])
		return nil
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceListCmd, workspaceCreateCmd, workspaceShowCmd, workspaceDeleteCmd)
	rootCmd.AddCommand(workspaceCmd)
}
