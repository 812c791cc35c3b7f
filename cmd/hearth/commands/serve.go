package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hearth/internal/adapter"
	"hearth/internal/audit"
	"hearth/internal/domain"
	"hearth/internal/handler"
	"hearth/internal/hub"
	"hearth/internal/logging"
	"hearth/internal/replicate"
	"hearth/internal/service"
	"hearth/internal/supervisor"
	"hearth/internal/watcher"
)

func serveCmd() *cobra.Command {
	var localHost string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the replication schedule and the alert probes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, localHost)
		},
	}
	cmd.Flags().StringVar(&localHost, "host", "", "inventory ID of this machine for live audits (default: match the hostname)")
	return cmd
}

func serve(ctx context.Context, localHost string) error {
	log := logging.Component("serve")

	bus := service.NewEventBus()
	svc, err := service.NewInventoryService(cfg.Inventory, bus)
	if err != nil {
		return err
	}
	inv := svc.Inventory()
	profile := cfg.ProbeProfile()
	svc.SetLiveOptions(audit.LiveOptions{
		LocalHost: localHost,
		Ports: adapter.NewVerifierAdapter(inv, adapter.VerifierConfig{
			PortTimeout:   profile.ProbeTimeout,
			MaxConcurrent: profile.MaxConcurrent,
		}),
	})

	repo, err := openRepo()
	if err != nil {
		return err
	}
	defer repo.Close()

	engine := newAlertEngine(ctx, repo, bus)
	replicator := newReplicator(inv, false, replicate.Deps{Store: repo, Alerts: engine, Events: bus})

	events := hub.New(bus)
	h := handler.New(svc, handler.Deps{Runs: repo, Replicator: replicator, Alerts: repo}).
		WithRouterOptions(handler.RouterOptions{
			CORSOrigins:      cfg.Server.CORSOrigins,
			TriggerPerMinute: cfg.Server.TriggerPerMinute,
		})
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(events),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPI(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	tree.AddAPI(events)

	if cfg.Inventory != "" {
		tree.AddJob(watcher.New(cfg.Inventory, func() {
			if err := svc.Reload(); err != nil {
				log.Error().Err(err).Msg("inventory reload failed, keeping the previous one")
			}
		}))
	}

	if cfg.Replication.Enabled {
		scheduler, err := newReplicationScheduler(inv, replicator)
		if err != nil {
			return err
		}
		tree.AddJob(scheduler)
	}

	if cfg.Alerts.Enabled {
		registry, err := newProbeRegistry(inv, engine, newDialer())
		if err != nil {
			return err
		}
		tree.AddJob(registry)
	}

	log.Info().Str("addr", cfg.Server.Addr).Str("config", cfg.Summary()).Msg("hearth serving")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("hearth stopped")
	return nil
}

func newReplicationScheduler(inv *domain.Inventory, r *replicate.Replicator) (*replicate.Scheduler, error) {
	at := cfg.Replication.Schedule
	if at == "" && inv.Replication != nil {
		at = inv.Replication.Schedule
	}
	if at == "" {
		return nil, fmt.Errorf("replication is enabled but has no schedule")
	}
	return replicate.NewScheduler(at, func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	})
}
