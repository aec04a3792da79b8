// Package config handles loading and validating owbridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with OWBRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The MQTT password and InfluxDB token should be set via environment variables
//   - String() on the credential sections redacts secrets for logging
//   - The config file should have restricted permissions (0600)
//
// The file is read at startup and again on SIGHUP. A reload that fails
// validation leaves the running settings untouched.
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.OneWire.MountPath)
package config
