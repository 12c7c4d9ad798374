// Package config handles loading and validating nightscan configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading the observation plan, inline or from a separate file
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Relay and broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The configuration is loaded once before the controller starts and is
// read-only afterwards. Values that change during a night (last calibration
// time, discovered addresses) live in scheduler.RunState.
//
// Usage:
//
//	cfg, err := config.Load("configs/nightscan.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.ID, len(cfg.Plan))
package config
