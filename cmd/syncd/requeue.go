package main

import (
	"github.com/goliatone/go-atlassian-sync/adapters/gocommand"
	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"

	"github.com/goliatone/go-command"
	"github.com/spf13/cobra"
)

func newRequeueCommand(opts *rootOptions) *cobra.Command {
	var (
		actor  string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "requeue <tenant-id> <event-id>",
		Short: "Move a dead-lettered event back to PENDING",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, opts.loggerProvider(), runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			release, err := rt.subscribeCommandBus()
			if err != nil {
				return err
			}
			defer release()

			collector := command.NewResult[core.SyncEvent]()
			ctx := command.ContextWithResult(cmd.Context(), collector)
			if err := gocommand.Dispatch(ctx, synccommand.RequeueEventMessage{Request: core.RequeueRequest{
				TenantID: args[0],
				EventID:  args[1],
				Actor:    actor,
				Reason:   reason,
			}}); err != nil {
				return err
			}
			event, _ := collector.Load()
			return writeJSON(cmd, map[string]any{
				"id":          event.ID,
				"tenant_id":   event.TenantID,
				"status":      event.Status,
				"retry_count": event.RetryCount,
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", envOr("USER", "operator"), "operator recorded in the audit log")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	return cmd
}
