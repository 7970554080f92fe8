package cli

import (
	"github.com/neoclaw-ai/vulnagent/internal/config"
	"github.com/neoclaw-ai/vulnagent/internal/logging"
)

// loadStartupConfig loads and validates configuration for commands that talk
// to the model, logging non-fatal findings.
func loadStartupConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	report, err := config.ValidateStartup(cfg)
	if err != nil {
		return nil, err
	}
	warnStartupConditions(report)
	return cfg, nil
}

// Emit startup warnings derived from non-fatal config conditions.
func warnStartupConditions(report *config.ValidationReport) {
	if report == nil {
		return
	}
	for _, warning := range report.Warnings {
		logging.Logger().Warn(warning)
	}
}
