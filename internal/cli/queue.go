package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/syncengine"
)

// QueueSummary is the output of the status command.
type QueueSummary struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Waiting int `json:"waiting"` // pending items whose backoff has not elapsed
}

// ItemView is one row of the list command.
type ItemView struct {
	ID            string     `json:"id"`
	EntityType    string     `json:"entity_type"`
	Operation     string     `json:"operation"`
	EntityID      string     `json:"entity_id"`
	CreatedAt     time.Time  `json:"created_at"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// CountResult reports how many items a maintenance command touched.
type CountResult struct {
	Count int `json:"count"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarise queue contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := opts.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			summary, err := summarise(ctx, stores.Queue, time.Now())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read queue", err)
			}
			return opts.formatter(cmd).Success(summary, func(w io.Writer) {
				fmt.Fprintf(w, "total:   %d\npending: %d (waiting on backoff: %d)\nfailed:  %d\n",
					summary.Total, summary.Pending, summary.Waiting, summary.Failed)
			})
		},
	}
}

func summarise(ctx context.Context, store domain.QueueStore, now time.Time) (QueueSummary, error) {
	items, err := store.FetchAll(ctx)
	if err != nil {
		return QueueSummary{}, err
	}
	summary := QueueSummary{Total: len(items)}
	for _, item := range items {
		switch {
		case item.IsFailed():
			summary.Failed++
		case item.IsReady(now):
			summary.Pending++
		default:
			summary.Pending++
			summary.Waiting++
		}
	}
	return summary, nil
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued mutations in FIFO order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := opts.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			items, err := stores.Queue.FetchAll(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read queue", err)
			}

			views := make([]ItemView, 0, len(items))
			for _, item := range items {
				if failedOnly && !item.IsFailed() {
					continue
				}
				views = append(views, ItemView{
					ID:            item.ID,
					EntityType:    string(item.EntityKind),
					Operation:     string(item.Operation),
					EntityID:      item.EntityID,
					CreatedAt:     item.CreatedAt,
					RetryCount:    item.RetryCount,
					LastError:     item.LastError,
					NextAttemptAt: item.NextAttemptAt,
				})
			}

			return opts.formatter(cmd).Success(views, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENTITY\tOP\tENTITY ID\tRETRIES\tLAST ERROR")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
						v.ID, v.EntityType, v.Operation, v.EntityID, v.RetryCount, domain.MaxRetries, v.LastError)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only show items that exhausted their retries")
	return cmd
}

// NewRetryFailedCommand creates the retry-failed command.
func NewRetryFailedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Reset retries on failed items so the agent attempts them again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := opts.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			n, err := syncengine.ResetFailed(ctx, stores.Queue)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to reset items", err)
			}
			return opts.formatter(cmd).Success(CountResult{Count: n}, func(w io.Writer) {
				fmt.Fprintf(w, "reset %d failed item(s)\n", n)
			})
		},
	}
}

// NewClearFailedCommand creates the clear-failed command.
func NewClearFailedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete items that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := opts.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			n, err := stores.Queue.ClearFailed(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to clear items", err)
			}
			return opts.formatter(cmd).Success(CountResult{Count: n}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d failed item(s)\n", n)
			})
		},
	}
}

// NewClearAllCommand creates the clear-all command.
func NewClearAllCommand(opts *RootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear-all",
		Short: "Delete every queued mutation, pending or failed",
		Long: `Delete every queued mutation, pending or failed.

Unsynced changes are lost. Use it when the account on this device signs out.
Stop the sync agent first so it does not re-save an item it is sending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return NewExitError(ExitCommandError, "clear-all discards unsynced changes; pass --yes to confirm")
			}
			ctx := cmd.Context()
			stores, err := opts.openStores(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			n, err := stores.Queue.ClearAll(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to clear queue", err)
			}
			return opts.formatter(cmd).Success(CountResult{Count: n}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d item(s)\n", n)
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm that unsynced changes may be discarded")
	return cmd
}
