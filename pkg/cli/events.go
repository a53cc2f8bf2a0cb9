package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/cli/internal/output"
	"github.com/getmockd/vbackend/pkg/consistency"
)

var eventsType string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream committed changes in a workspace",
	Long: `Stream committed changes in a workspace until interrupted.

Every create, update, delete and snapshot restore is printed as it commits,
with the protocol that made it.

Examples:
  vbackend events
  vbackend events --type user --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return streamEvents(ctx, newClient(), workspaceID, eventsType, cmd.OutOrStdout())
	},
}

// streamEvents prints the workspace's change feed to w until ctx ends or
// the server closes the feed.
func streamEvents(ctx context.Context, client *AdminClient, ws, entityType string, w io.Writer) error {
	url := client.EventsURL(ws, entityType)
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return parseError(resp)
		}
		return &APIError{Code: CodeConnection, Message: fmt.Sprintf("cannot open event stream at %s: %v", url, err)}
	}
	defer conn.CloseNow()

	for {
		var ev consistency.ChangeEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			switch {
			case ctx.Err() != nil:
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				return nil
			case websocket.CloseStatus(err) == websocket.StatusTryAgainLater:
				return errors.New("event stream closed by server: client fell behind")
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := printEvent(w, ev); err != nil {
			return err
		}
	}
}

func printEvent(w io.Writer, ev consistency.ChangeEvent) error {
	if jsonOutput {
		return output.JSON(w, ev)
	}
	if ev.Operation == consistency.OpRestore {
		_, err := fmt.Fprintf(w, "%s  %-7s %d records\n", output.Time(ev.Timestamp), ev.Operation, ev.Count)
		return err
	}
	_, err := fmt.Fprintf(w, "%s  %-7s %s/%s v%d via %s\n",
		output.Time(ev.Timestamp), ev.Operation, ev.Key.Type, ev.Key.ID, ev.Version, ev.Protocol)
	return err
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "Only show changes to this entity type")
	rootCmd.AddCommand(eventsCmd)
}
