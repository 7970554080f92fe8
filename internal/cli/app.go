package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/neoclaw-ai/vulnagent/internal/agent"
	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/cvestore"
	"github.com/neoclaw-ai/vulnagent/internal/cvetools"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/provider"
	"github.com/neoclaw-ai/vulnagent/internal/session"
	"github.com/neoclaw-ai/vulnagent/internal/telemetry"
	"github.com/neoclaw-ai/vulnagent/internal/toolhost"
	"github.com/neoclaw-ai/vulnagent/internal/tools"
)

const telemetryShutdownTimeout = 5 * time.Second

type appOptions struct {
	// withModel builds the model gateway and agent.
	withModel bool
	profile   string
	retain    bool
	// transcriptPath enables session transcripts when set.
	transcriptPath string
}

// app holds the collaborators one command runs against.
type app struct {
	cfg        *config.Config
	store      *cvestore.Store
	registry   *tools.Registry
	host       *toolhost.Host
	model      provider.Provider
	agent      *agent.Agent
	transcript *session.Transcript

	shutdownTelemetry telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.profile != "" {
		if err := config.ValidateBehaviorProfile(opts.profile); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg, registry: tools.NewRegistry()}
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, err
	}
	a.shutdownTelemetry = shutdown

	var hostOpts []toolhost.Option
	if spec, ok := cfg.Providers[config.BundledProviderName]; ok && spec.Enabled && spec.Transport == config.TransportInProcess {
		store, err := openStore(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		server := cvetools.NewServer(store, cvetools.Options{Version: Version})
		hostOpts = append(hostOpts, toolhost.WithInProcessServer(config.BundledProviderName, server))
	}

	a.host = toolhost.New(a.registry, cfg.Providers, hostOpts...)
	if err := a.host.Connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if !opts.withModel {
		return a, nil
	}

	llm := cfg.ActiveLLM()
	model, err := providerFactory(llm)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.model = model

	agentOpts := agent.Options{
		Session:       sessionConfig(cfg, opts.profile),
		RetainHistory: opts.retain,
	}
	if opts.transcriptPath != "" {
		a.transcript = session.NewTranscript(opts.transcriptPath)
		agentOpts.Transcript = a.transcript
	}
	a.agent = agent.New(agent.NewModelGateway(model, llm.MaxTokens), a.registry, agentOpts)
	logging.Logger().Info(
		"agent ready",
		"provider", llm.Provider,
		"model", llm.Model,
		"profile", agentOpts.Session.BehaviorProfile,
		"tools", len(a.registry.Descriptors()),
	)
	return a, nil
}

// Close releases providers, the record store and telemetry exporters.
func (a *app) Close() error {
	var errs []error
	if a.host != nil {
		errs = append(errs, a.host.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}

func sessionConfig(cfg *config.Config, profile string) agent.SessionConfig {
	if profile == "" {
		profile = cfg.Agent.BehaviorProfile
	}
	return agent.SessionConfig{
		BehaviorProfile: profile,
		MaxIterations:   cfg.Agent.MaxIterations,
		PerCallTimeout:  cfg.Agent.PerCallTimeout,
		RetryBackoff:    cfg.Agent.ModelRetryBackoff,
	}
}

func openStore(cfg *config.Config) (*cvestore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create record store directory: %w", err)
	}
	return cvestore.Open(cvestore.Options{Path: cfg.Store.Path, PoolSize: cfg.Store.PoolSize})
}
