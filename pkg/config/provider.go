package config

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// Provider serves the current configuration snapshot and refreshes it on
// SIGHUP or a periodic timer without restarting the process.
//
// Snapshot() returns an immutable *Config. Callers take exactly one snapshot
// at request entry and hold it for the request's lifetime, so a mid-flight
// reload never retargets an in-flight request. A failed reload keeps the
// previous snapshot and logs a warning.
type Provider struct {
	configDir      string
	reloadInterval time.Duration
	current        atomic.Pointer[Config]
	logger         *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProvider loads the initial configuration and returns a provider ready
// to Start. A reloadInterval of 0 disables periodic reloads (SIGHUP still works).
func NewProvider(ctx context.Context, configDir string, reloadInterval time.Duration) (*Provider, error) {
	cfg, err := Initialize(ctx, configDir)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		configDir:      configDir,
		reloadInterval: reloadInterval,
		logger:         slog.With("component", "config.provider"),
	}
	p.current.Store(cfg)
	return p, nil
}

// Snapshot returns the current configuration snapshot (never nil after NewProvider).
func (p *Provider) Snapshot() *Config {
	return p.current.Load()
}

// Start launches the reload loop. Idempotent.
func (p *Provider) Start(ctx context.Context) {
	if p.cancel != nil {
		return // already started
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx)

	p.logger.Info("Configuration provider started",
		"reload_interval", p.reloadInterval.String())
}

// Stop terminates the reload loop and waits for it to exit.
func (p *Provider) Stop() {
	if p.cancel == nil {
		return // not started
	}

	p.cancel()
	<-p.done
	p.cancel = nil

	p.logger.Info("Configuration provider stopped")
}

// Reload re-initializes configuration from disk and swaps the snapshot on
// success. On failure the previous snapshot stays published.
func (p *Provider) Reload(ctx context.Context) error {
	cfg, err := Initialize(ctx, p.configDir)
	if err != nil {
		return err
	}
	p.current.Store(cfg)
	return nil
}

func (p *Provider) loop(ctx context.Context) {
	defer close(p.done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// A zero interval leaves tick nil, which blocks forever in the select.
	var tick <-chan time.Time
	if p.reloadInterval > 0 {
		ticker := time.NewTicker(p.reloadInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			p.reloadAndLog(ctx, "sighup")
		case <-tick:
			p.reloadAndLog(ctx, "periodic")
		}
	}
}

func (p *Provider) reloadAndLog(ctx context.Context, trigger string) {
	if err := p.Reload(ctx); err != nil {
		p.logger.Warn("Configuration reload failed, keeping current snapshot",
			"trigger", trigger,
			"error", err)
		return
	}

	stats := p.Snapshot().Stats()
	p.logger.Info("Configuration reloaded",
		"trigger", trigger,
		"mcp_servers", stats.MCPServers,
		"roles", stats.Roles,
		"users", stats.Users)
}
