// Package config handles loading and validating Biolock Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Device API keys, the JWT secret and broker credentials should come
//     from the environment (BIOLOCK_DEVICE_KEYS, BIOLOCK_JWT_SECRET, ...)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Slots.MaxSlot)
package config
