package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationReport carries non-fatal startup findings.
type ValidationReport struct {
	Warnings []string
}

// ValidateStartup validates startup configuration and returns warning messages.
func ValidateStartup(cfg *Config) (*ValidationReport, error) {
	report := &ValidationReport{}
	if err := cfg.Validate(); err != nil {
		return report, err
	}

	if len(cfg.EnabledProviders()) == 0 {
		report.Warnings = append(report.Warnings, "no tool providers are enabled; the model can only answer from its own knowledge")
	}
	if p, ok := cfg.Providers[BundledProviderName]; ok && p.Enabled && p.Transport == TransportInProcess {
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("record store %s does not exist yet; run `vulnagent provider import` to load records", cfg.Store.Path))
		}
	}
	if cfg.Agent.MaxIterations > 20 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("agent.max_iterations is %d; long tool chains increase latency and cost", cfg.Agent.MaxIterations))
	}
	for _, name := range sortedKeys(cfg.Providers) {
		p := cfg.Providers[name]
		if p.Enabled && p.Transport == TransportHTTP && strings.HasPrefix(p.Endpoint, "http://") && !isLoopbackURL(p.Endpoint) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("providers.%s uses plain http to a non-local endpoint", name))
		}
	}
	return report, nil
}

func isLoopbackURL(raw string) bool {
	rest := strings.TrimPrefix(raw, "http://")
	return strings.HasPrefix(rest, "localhost") || strings.HasPrefix(rest, "127.0.0.1") || strings.HasPrefix(rest, "[::1]")
}
