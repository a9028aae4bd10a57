// Package config loads and validates Relay Bridge configuration.
//
// Configuration comes from a YAML file with environment variable overrides
// (RELAYBRIDGE_* prefix). Defaults are applied first, then the file, then
// the environment, so a minimal config file only needs the values that
// differ from defaults plus the JWT secret.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
