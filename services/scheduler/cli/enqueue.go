package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler/handler"
)

var enqueueReq scheduler.ActionRequest

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <platform> <destination>",
	Short: "Submit an action to a running scheduler",
	Long: `Submit an action to a running scheduler over its REST API.

Content is generated at execution time unless --content is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&serverURL, "server", "http://localhost:8080", "scheduler base URL")
	f.StringVar((*string)(&enqueueReq.Kind), "kind", string(domain.KindComment), "comment | direct_message")
	f.StringVar(&enqueueReq.Style, "style", "", "content style passed to the generator")
	f.StringVar(&enqueueReq.Content, "content", "", "pre-written content; skips generation")
	f.IntVar(&enqueueReq.MaxAttempts, "max-attempts", 0, "attempt budget (default from server config)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	req := enqueueReq
	req.Platform = args[0]
	req.Destination = args[1]

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	var resp handler.SubmitActionResponse
	if err := apiPost(ctx, serverURL, "/api/v1/actions", req, http.StatusAccepted, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (scheduled for %s)\n",
		resp.TaskID, resp.Status, resp.ScheduledFor.Local().Format(time.RFC3339))
	return nil
}
