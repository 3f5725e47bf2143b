// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It supports configuration for the HTTP and
// MCP transports, logging, the isolation backend, and session lifecycle
// parameters such as the reaper age threshold.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("HTTP address: %s\n", cfg.Server.HTTPAddr)
package config
