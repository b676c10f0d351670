// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files, environment variables (prefixed with
// WARMBOX_) and an optional .env file. It covers transport settings, the
// container engine backend, warm pool sizing, execution time limits and the
// per-runtime entry conventions.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Pool size: %d\n", cfg.Pool.Size)
package config
