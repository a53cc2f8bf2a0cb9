package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/cli/internal/output"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
)

var (
	entityProtocol string
	entityData     string
	entityFile     string
	entityOffset   int
	entityLimit    int
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Read and write entities",
	Long: `Read and write entities in a workspace.

Writes are tagged with the protocol they arrive over (--protocol, default
REST), and a record remembers every protocol that has touched it. Reads are
only tagged when --protocol is given.

Examples:
  vbackend entity list
  vbackend entity list user --limit 10
  vbackend entity put user 1 --data '{"name":"Ada"}' --protocol grpc
  vbackend entity put user 1 --file user.json
  vbackend entity get user 1
  vbackend entity delete user 1`,
}

var entityListCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List entities, optionally of one type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		protocol, err := parseProtocolFlag()
		if err != nil {
			return err
		}
		opts := ListOptions{Protocol: protocol, Offset: entityOffset, Limit: entityLimit}
		if len(args) == 1 {
			opts.Type = args[0]
		}
		list, err := newClient().ListEntities(cmd.Context(), workspaceID, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return output.JSON(out, list)
		}
		if list.Total == 0 {
			fmt.Fprintf(out, "No entities in workspace %s\n", workspaceID)
			return nil
		}
		tw := output.Table(out)
		fmt.Fprintln(tw, "TYPE\tID\tVERSION\tPROTOCOLS\tUPDATED")
		for _, rec := range list.Entities {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", rec.Type, rec.ID, rec.Version, rec.SeenIn, output.Time(rec.UpdatedAt))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(list.Entities) < list.Total {
			fmt.Fprintf(out, "\nShowing %d of %d\n", len(list.Entities), list.Total)
		}
		return nil
	},
}

var entityGetCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "Show one entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		protocol, err := parseProtocolFlag()
		if err != nil {
			return err
		}
		rec, err := newClient().GetEntity(cmd.Context(), workspaceID, protocol, args[0], args[1])
		if err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

var entityPutCmd = &cobra.Command{
	Use:   "put <type> <id>",
	Short: "Create or replace an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		protocol, err := parseProtocolFlag()
		if err != nil {
			return err
		}
		data, err := readEntityData(cmd.InOrStdin())
		if err != nil {
			return err
		}
		rec, err := newClient().PutEntity(cmd.Context(), workspaceID, protocol, args[0], args[1], data)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), rec)
		}
		verb := "Updated"
		if rec.Version == 1 {
			verb = "Created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s (version %d)\n", verb, rec.Type, rec.ID, rec.Version)
		return nil
	},
}

var entityDeleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		protocol, err := parseProtocolFlag()
		if err != nil {
			return err
		}
		if err := newClient().DeleteEntity(cmd.Context(), workspaceID, protocol, args[0], args[1]); err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), map[string]any{"deleted": true, "entityType": args[0], "entityId": args[1]})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

func parseProtocolFlag() (entity.Protocol, error) {
	if entityProtocol == "" {
		return "", nil
	}
	return entity.ParseProtocol(entityProtocol)
}

// readEntityData returns the document from --data, --file, or stdin when
// --file is "-".
func readEntityData(stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case entityData != "" && entityFile != "":
		return nil, errors.New("use either --data or --file, not both")
	case entityData != "":
		raw = []byte(entityData)
	case entityFile == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case entityFile != "":
		b, err := os.ReadFile(entityFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entityFile, err)
		}
		raw = b
	default:
		return nil, errors.New("entity data required: use --data or --file")
	}
	if !json.Valid(raw) {
		return nil, &store.ValidationError{Field: "data", Message: "entity data is not valid JSON"}
	}
	return raw, nil
}

func printRecord(w io.Writer, rec *entity.Record) error {
	if jsonOutput {
		return output.JSON(w, rec)
	}
	fmt.Fprintf(w, "Entity:    %s/%s\n", rec.Type, rec.ID)
	fmt.Fprintf(w, "Version:   %d\n", rec.Version)
	fmt.Fprintf(w, "Protocols: %s\n", rec.SeenIn)
	fmt.Fprintf(w, "Created:   %s\n", output.Time(rec.CreatedAt))
	fmt.Fprintf(w, "Updated:   %s\n", output.Time(rec.UpdatedAt))
	fmt.Fprintln(w, "Data:")
	return output.JSON(w, rec.Data)
}

func init() {
	entityCmd.PersistentFlags().StringVarP(&entityProtocol, "protocol", "p", "", "Protocol the operation arrives over (writes default to REST, untagged reads otherwise)")
	entityListCmd.Flags().IntVar(&entityOffset, "offset", 0, "Skip this many entities")
	entityListCmd.Flags().IntVar(&entityLimit, "limit", 0, "Show at most this many entities")
	entityPutCmd.Flags().StringVarP(&entityData, "data", "d", "", "Entity document as a JSON object")
	entityPutCmd.Flags().StringVarP(&entityFile, "file", "f", "", "Read the document from a file (- for stdin)")

	entityCmd.AddCommand(entityListCmd, entityGetCmd, entityPutCmd, entityDeleteCmd)
	rootCmd.AddCommand(entityCmd)
}
