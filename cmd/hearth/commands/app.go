package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hearth/internal/adapter"
	"hearth/internal/alert"
	"hearth/internal/command"
	"hearth/internal/domain"
	"hearth/internal/loader"
	"hearth/internal/logging"
	"hearth/internal/notify"
	"hearth/internal/remote"
	"hearth/internal/replicate"
	"hearth/internal/repository/sqlite"
	"hearth/internal/service"
)

func loadInventory() (*domain.Inventory, error) {
	return loader.LoadFile(cfg.Inventory)
}

func openRepo() (*sqlite.Repository, error) {
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", cfg.Database.Path, err)
	}
	return repo, nil
}

func newDialer() *remote.Dialer {
	return newDialerAs(cfg.SSH.User, cfg.SSH.Password)
}

// newDialerAs uses the configured keys and host key policy with another login.
func newDialerAs(user, password string) *remote.Dialer {
	return remote.NewDialer(remote.Credentials{
		User:                  user,
		Password:              password,
		KeyFiles:              cfg.SSH.KeyFiles,
		KnownHosts:            cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
	}, remote.Options{
		Port:           cfg.SSH.Port,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		CommandTimeout: cfg.SSH.CommandTimeout,
	})
}

// newNotifier returns the Telegram bot behind the breaker and limiter, or
// a notifier that only logs when no bot is configured.
func newNotifier() notify.Notifier {
	tg := cfg.Alerts.Telegram
	if !tg.Enabled() {
		logging.Info().Msg("no Telegram bot configured, alerts are logged only")
		return notify.NewLogNotifier()
	}
	return notify.NewResilient(notify.NewTelegram(tg.BaseURL, tg.BotToken, tg.ChatID), tg.RatePerMinute)
}

func newAlertEngine(ctx context.Context, store alert.Store, events service.Publisher) *alert.Engine {
	engine := alert.NewEngine(newNotifier(), store, events, cfg.Alerts.Cooldown)
	if err := engine.Restore(ctx); err != nil {
		logging.Warn().Err(err).Msg("could not restore active alerts")
	}
	return engine
}

func replicationOptions(inv *domain.Inventory, dryRun bool) replicate.Options {
	r := cfg.Replication
	return replicate.OptionsFromInventory(replicate.Options{
		RsyncPath:      r.RsyncPath,
		Source:         r.Source,
		SourcePath:     r.SourcePath,
		DestPath:       r.DestPath,
		BandwidthLimit: r.BandwidthLimit,
		ExtraArgs:      r.ExtraArgs,
		DryRun:         dryRun,
	}, inv)
}

func newReplicator(inv *domain.Inventory, dryRun bool, deps replicate.Deps) *replicate.Replicator {
	runner := command.NewExec(logging.Component("rsync"))
	return replicate.New(replicationOptions(inv, dryRun), cfg.Replication.Timeout, runner, deps)
}

// newProbeRegistry registers every enabled probe with the intervals of
// the configured posture. Observations go to engine unless it is nil.
func newProbeRegistry(inv *domain.Inventory, engine *alert.Engine, dialer *remote.Dialer) (*adapter.Registry, error) {
	profile := cfg.ProbeProfile()
	var observe adapter.ObserveFunc
	if engine != nil {
		observe = func(ctx context.Context, _ string, obs []domain.Observation) error {
			return engine.Observe(ctx, obs)
		}
	}
	registry := adapter.NewRegistry(observe)

	register := func(a adapter.Adapter, every time.Duration) error {
		return registry.Register(a, adapter.AdapterConfig{Enabled: true, PollInterval: every})
	}

	if len(cfg.Alerts.WANTargets) > 0 {
		if err := register(adapter.NewWANAdapter(cfg.Alerts.WANTargets, profile.ProbeTimeout), profile.WANInterval); err != nil {
			return nil, err
		}
	}
	if cfg.Alerts.ServiceProbes {
		verifier := adapter.NewVerifierAdapter(inv, adapter.VerifierConfig{
			PortTimeout:   profile.ProbeTimeout,
			MaxConcurrent: profile.MaxConcurrent,
		})
		if err := register(verifier, profile.ServiceInterval); err != nil {
			return nil, err
		}
	}

	smartHosts, err := probeHosts(inv, cfg.Alerts.SMARTHosts, adapter.DefaultSMARTHosts)
	if err != nil {
		return nil, err
	}
	if len(smartHosts) > 0 {
		smart := adapter.NewSSHProbeAdapter(adapter.SMARTCheck(), smartHosts, dialer, profile.MaxConcurrent)
		if err := register(smart, profile.SMARTInterval); err != nil {
			return nil, err
		}
	}

	containerHosts, err := probeHosts(inv, cfg.Alerts.ContainerHosts, adapter.DefaultContainerHosts)
	if err != nil {
		return nil, err
	}
	if len(containerHosts) > 0 {
		containers := adapter.NewSSHProbeAdapter(adapter.ContainersCheck(inv), containerHosts, dialer, profile.MaxConcurrent)
		if err := register(containers, profile.ContainerInterval); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// probeHosts resolves configured host IDs, or falls back to the inventory
// default when none are configured.
func probeHosts(inv *domain.Inventory, ids []string, fallback func(*domain.Inventory) []domain.Host) ([]domain.Host, error) {
	if len(ids) == 0 {
		return fallback(inv), nil
	}
	hosts, unknown := adapter.HostsByID(inv, ids)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("probe hosts not in the inventory: %s", strings.Join(unknown, ", "))
	}
	return hosts, nil
}
