package cli

import (
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"example.com/kinexsync/internal/apiclient"
	"example.com/kinexsync/internal/syncengine"
)

// DrainResult is the output of the drain command.
type DrainResult struct {
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	PendingCount int    `json:"pending_count"`
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one sync pass against the backend and wait for it",
		Long: `Run one sync pass against the backend and wait for it.

Items still inside their backoff window are skipped. The command exits with
status 1 when the pass ends in error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := opts.formatter(cmd)

			stores, err := opts.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			logger := log.New(io.Discard, "", 0)
			if opts.Verbose {
				logger = log.New(cmd.ErrOrStderr(), "[syncctl] ", log.LstdFlags)
			}

			client, err := apiclient.New(opts.Config.APIBaseURL, stores.Tokens,
				apiclient.WithHTTPClient(&http.Client{Timeout: opts.Config.RequestTimeout}),
				apiclient.WithLogger(logger))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid api base url", err)
			}

			engine := syncengine.New(stores.Queue, client,
				syncengine.WithBaseDelay(opts.Config.SyncBaseDelay),
				syncengine.WithLogger(logger))
			defer engine.Close()

			engine.Subscribe(func(s syncengine.Snapshot) {
				out.VerboseLog("status %s, %d pending", s.Status, s.PendingCount)
			})
			engine.ProcessQueue()
			engine.Wait()

			snap := engine.Snapshot()
			result := DrainResult{
				State:        string(snap.Status.State),
				Message:      snap.Status.Message,
				PendingCount: snap.PendingCount,
			}
			if err := out.Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "%s, %d item(s) pending\n", snap.Status, snap.PendingCount)
			}); err != nil {
				return err
			}
			if snap.Status.State == syncengine.StateError {
				return NewExitError(ExitFailure, snap.Status.Message)
			}
			return nil
		},
	}
}
