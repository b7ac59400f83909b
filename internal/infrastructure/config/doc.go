// Package config handles loading and validating meterlog configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields, meter definitions and timezones
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/meterlog.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range cfg.Meters {
//	    fmt.Println(m.ID, m.Address, m.Channels)
//	}
package config
