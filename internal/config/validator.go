package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Duplicate provider names
//   - Required fields
//   - Sane engine tunables
func Validate(cfg *Config) error {
	var errs []string

	if len(cfg.Providers) == 0 {
		errs = append(errs, "providers: at least one provider is required")
	}
	names := make(map[string]int) // name → first index
	for i, p := range cfg.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: name is required", i))
			continue
		}
		if prev, ok := names[p.Name]; ok {
			errs = append(errs, fmt.Sprintf("duplicate provider %q (providers[%d] and providers[%d])", p.Name, prev, i))
		} else {
			names[p.Name] = i
		}
	}

	if cfg.Engine.Lanes < 0 {
		errs = append(errs, "engine.lanes must not be negative")
	}
	if cfg.Engine.LaneDepth < 0 {
		errs = append(errs, "engine.lane_depth must not be negative")
	}
	if cfg.Engine.MaxAttempts < 1 {
		errs = append(errs, "engine.max_attempts must be at least 1")
	}
	if cfg.Engine.RetryMaxMs < cfg.Engine.RetryBaseMs {
		errs = append(errs, "engine.retry_max_ms must be >= engine.retry_base_ms")
	}
	if !cfg.Store.InMemory && cfg.Store.Path == "" {
		errs = append(errs, "store.path is required unless store.in_memory is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
