// Package config handles loading and validating cdicache configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (CDICACHE_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cache.SpecDirs)
package config
