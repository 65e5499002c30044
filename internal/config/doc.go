// Package config provides configuration management for the procflow server.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use: an
// in-memory event bus, no snapshot storage and agent steps disabled.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
