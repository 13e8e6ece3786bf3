package cli

import (
	"fmt"
	"log/slog"

	"github.com/tkingovr/iochain/internal/audit"
	"github.com/tkingovr/iochain/internal/codec"
	"github.com/tkingovr/iochain/internal/config"
	"github.com/tkingovr/iochain/internal/filter"
	"github.com/tkingovr/iochain/internal/policy"
	"github.com/tkingovr/iochain/internal/transport"
)

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// pipeline is what a config turns into: the filter factories, the policy
// engine behind policy filters and the template entries.
type pipeline struct {
	filters *filter.Registry
	engine  policy.Engine
	entries []filter.Entry
}

func buildPipeline(cfg *config.Config, store audit.Store, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{filters: filter.NewRegistry()}

	if cfg.Policy != nil {
		engine, err := policy.NewEngine(cfg.Policy, cfg.Dir())
		if err != nil {
			return nil, fmt.Errorf("creating policy engine: %w", err)
		}
		p.engine = engine
	}

	deps := filter.Deps{Engine: p.engine, Store: store, Logger: logger}
	if err := filter.RegisterBuiltins(p.filters, deps); err != nil {
		return nil, err
	}
	if err := codec.Register(p.filters); err != nil {
		return nil, err
	}

	entries, err := p.filters.Build(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("building chain: %w", err)
	}
	p.entries = entries
	return p, nil
}

func application(name string) filter.Endpoint {
	if name == config.ApplicationDiscard {
		return transport.Discard
	}
	return transport.Echo
}
