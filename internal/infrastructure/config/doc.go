// Package config handles loading and validating Gray Logic Voice configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and cross references (topic -> backend)
//   - Default value handling
//
// Security Considerations:
//   - Backend tokens, the inference API key and the JWT secret should be set
//     via environment variables (GRAYLOGIC_BACKEND_<ID>_TOKEN,
//     GRAYLOGIC_INFERENCE_API_KEY, GRAYLOGIC_JWT_SECRET)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, b := range cfg.Backends {
//	    fmt.Println(b.ID, b.Type)
//	}
package config
