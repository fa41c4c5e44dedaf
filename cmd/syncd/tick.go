package main

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-atlassian-sync/adapters/gocommand"
	synccommand "github.com/goliatone/go-atlassian-sync/command"
	"github.com/goliatone/go-atlassian-sync/core"

	"github.com/goliatone/go-command"
	"github.com/spf13/cobra"
)

func newTickCommand(opts *rootOptions) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler pass and print its stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			cfg.Scheduler.Disabled = false
			rt, err := openRuntime(cmd.Context(), cfg, opts.loggerProvider(), runtimeOptions{
				migrate:   migrateFirst,
				scheduler: true,
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.dispatchTick(cmd.Context(), "cli")
			if err != nil {
				return err
			}
			return writeJSON(cmd, tickStatsView(stats))
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply migrations before ticking")
	return cmd
}

func (rt *runtime) dispatchTick(ctx context.Context, reason string) (core.TickStats, error) {
	release, err := rt.subscribeCommandBus()
	if err != nil {
		return core.TickStats{}, err
	}
	defer release()

	collector := command.NewResult[core.TickStats]()
	if err := gocommand.Dispatch(command.ContextWithResult(ctx, collector), synccommand.RunSchedulerTickMessage{Reason: reason}); err != nil {
		return core.TickStats{}, err
	}
	stats, _ := collector.Load()
	return stats, nil
}

func tickStatsView(stats core.TickStats) map[string]int {
	return map[string]int{
		"reclaimed":     stats.Reclaimed,
		"leased":        stats.Leased,
		"completed":     stats.Completed,
		"retried":       stats.Retried,
		"dead_lettered": stats.DeadLettered,
		"lease_lost":    stats.LeaseLost,
	}
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
