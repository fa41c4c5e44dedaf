package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-atlassian-sync/adapters/gojob"
	"github.com/goliatone/go-atlassian-sync/core"
	"github.com/goliatone/go-atlassian-sync/httpapi"
	"github.com/goliatone/go-atlassian-sync/inbound"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook API and the retry scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, opts.loggerProvider(), runtimeOptions{
				migrate:   migrateFirst,
				scheduler: true,
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply migrations before serving")
	return cmd
}

func (rt *runtime) buildServer() (*httpapi.Server, error) {
	serviceCfg := rt.service.Config()

	dispatcher := inbound.NewDispatcher(rt.service, rt.webhookVerifier(), inbound.NewInMemoryClaimStore())
	if serviceCfg.Ingest.DedupeTTL > 0 {
		dispatcher.KeyTTL = serviceCfg.Ingest.DedupeTTL
	}
	if len(rt.cfg.Webhooks.Sources) > 0 {
		if err := dispatcher.AllowSources(rt.cfg.Webhooks.Sources...); err != nil {
			return nil, err
		}
	}

	deps := httpapi.Dependencies{
		Webhooks:     dispatcher,
		Recovery:     rt.service,
		Events:       rt.service,
		Logger:       rt.loggers.HTTP,
		MaxBodyBytes: serviceCfg.Ingest.MaxPayloadBytes,
		ServiceName:  serviceCfg.ServiceName,
	}
	if rt.scheduler != nil {
		deps.Scheduler = rt.scheduler
	}
	if rt.publisher != nil {
		deps.Health = rt.publisher
	}
	return httpapi.NewServer(rt.cfg.HTTP.Address, deps)
}

func (rt *runtime) webhookVerifier() inbound.Verifier {
	secret := rt.cfg.Webhooks.Secret
	if secret == "" && len(rt.cfg.Webhooks.Secrets) == 0 {
		return nil
	}
	verifier := inbound.NewHMACVerifier(secret)
	if len(rt.cfg.Webhooks.Secrets) > 0 {
		verifier.Secrets = rt.cfg.Webhooks.Secrets
	}
	return verifier
}

func (rt *runtime) serve(ctx context.Context) error {
	server, err := rt.buildServer()
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(server.Start)
	group.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})
	if rt.scheduler != nil {
		group.Go(func() error {
			return rt.runTickSchedule(ctx)
		})
	} else {
		rt.loggers.Sync.Warn("scheduler disabled on this node; only ingesting webhooks")
	}

	if err := group.Wait(); err != nil {
		rt.loggers.Sync.Error("sync daemon stopped with error", "error", err)
		return err
	}
	rt.loggers.Sync.Info("sync daemon shut down gracefully")
	return nil
}

// runTickSchedule drives scheduler ticks from gocron through the go-job
// runner. A tick never overlaps the previous one.
func (rt *runtime) runTickSchedule(ctx context.Context) error {
	interval := rt.service.Config().Scheduler.TickInterval
	if interval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive to serve")
	}
	runner := gojob.NewRunner(rt.scheduler, rt.service, gojob.DefaultRetryPolicy(), rt.loggers.Scheduler)
	owner := rt.scheduler.Owner()

	cron, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := runner.Execute(ctx, gojob.SchedulerTickMessage(owner, time.Now())); err != nil {
				rt.loggers.Scheduler.Error("scheduler tick failed", "owner", owner, "error", core.MapError(err).Message)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("sync.scheduler.tick"),
	)
	if err != nil {
		return err
	}

	rt.loggers.Scheduler.Info("starting sync scheduler", "owner", owner, "interval", interval.String())
	cron.Start()
	<-ctx.Done()
	return cron.Shutdown()
}
