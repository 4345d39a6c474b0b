package main

import (
	"context"
	"fmt"

	"github.com/opd-ai/headlink/address"
	"github.com/opd-ai/headlink/config"
	"github.com/opd-ai/headlink/crypto"
	"github.com/opd-ai/headlink/fabric"
	"github.com/opd-ai/headlink/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

// newApp wires the daemon. Stop hooks run in reverse construction order: the
// server drains first, then sessions exit, then the address scope closes.
func newApp(cfg config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			newRegistry,
			newKeyHolder,
			newScope,
			newTransportMetrics,
			newPortPool,
			newArchive,
			newService,
			newServer,
		),
		fx.Invoke(func(*server) {}),
	}
	return fx.New(append(opts, extra...)...)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newKeyHolder(cfg config.Config) (*crypto.KeyHolder, error) {
	keys := crypto.NewKeyHolder()
	key := cfg.DefaultKey
	if err := keys.Set(func() string { return key }); err != nil {
		return nil, err
	}
	return keys, nil
}

func newScope(lc fx.Lifecycle, cfg config.Config, reg *prometheus.Registry) (*address.Scope, error) {
	allocated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "headlink",
		Subsystem: "address",
		Name:      "allocated_total",
		Help:      "Addresses allocated by the shared provider.",
	})
	reg.MustRegister(allocated)

	provider, err := address.NewProvider[uint64](
		address.WithRandomization(cfg.Address.Randomize),
		address.WithAllocationCounter(allocated),
	)
	if err != nil {
		return nil, fmt.Errorf("address provider: %w", err)
	}
	scope := address.NewScope(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return scope.Close()
		},
	})
	return scope, nil
}

func newTransportMetrics(reg *prometheus.Registry) *transport.Metrics {
	return transport.NewMetrics(reg)
}

func newPortPool(cfg config.Config) (*fabric.PortPool, error) {
	return fabric.NewPortPool(cfg.UDP.PortRangeStart, cfg.UDP.PortRangeEnd, "127.0.0.1")
}

// newArchive returns nil when no archive directory is configured.
func newArchive(cfg config.Config, keys *crypto.KeyHolder) (*crypto.SecretArchive, error) {
	if cfg.ArchiveDir == "" {
		return nil, nil
	}
	helper, err := keys.Helper()
	if err != nil {
		return nil, fmt.Errorf("archive key: %w", err)
	}
	return crypto.NewSecretArchive(cfg.ArchiveDir, helper)
}

func newService(
	lc fx.Lifecycle,
	cfg config.Config,
	scope *address.Scope,
	ports *fabric.PortPool,
	archive *crypto.SecretArchive,
	reg *prometheus.Registry,
	tm *transport.Metrics,
) (*fabric.Service, error) {
	policy := transport.DefaultRestartPolicy()
	policy.InitialDelay = cfg.UDP.RestartDelay.Duration
	policy.MaxDelay = cfg.UDP.MaxRestartDelay.Duration
	policy.MaxRestarts = cfg.UDP.MaxRestarts

	opts := []fabric.Option{
		fabric.WithMetrics(fabric.NewMetrics(reg)),
		fabric.WithGatherer(reg),
		fabric.WithChannelOptions(
			transport.WithRestartPolicy(policy),
			transport.WithChannelMetrics(tm),
		),
		fabric.WithInbox(func(from address.Address[uint64], text string) {
			logrus.WithFields(logrus.Fields{
				"function": "inbox",
				"address":  from.String(),
				"size":     len(text),
			}).Info("Datagram from head")
		}),
	}
	if archive != nil {
		opts = append(opts, fabric.WithArchive(archive))
	}

	svc, err := fabric.NewService(scope, ports, opts...)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return svc.Close()
		},
	})
	return svc, nil
}

// server owns the connection provider, which binds on start.
type server struct {
	provider *transport.ConnectionProvider
}

// Port returns the bound TCP port, or 0 before start.
func (s *server) Port() int {
	if s.provider == nil {
		return 0
	}
	return s.provider.Port()
}

func newServer(lc fx.Lifecycle, cfg config.Config, svc *fabric.Service, tm *transport.Metrics) *server {
	s := &server{}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			provider, err := transport.NewConnectionProvider(cfg.Port, svc,
				transport.WithIdleTimeout(cfg.Server.IdleTimeout.Duration),
				transport.WithServerMetrics(tm),
			)
			if err != nil {
				return err
			}
			s.provider = provider
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if s.provider == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout.Duration)
			defer cancel()
			return s.provider.Shutdown(ctx)
		},
	})
	return s
}
