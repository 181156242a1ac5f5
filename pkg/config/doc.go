// Package config loads, validates and holds the gateway configuration.
//
// Configuration comes from a YAML file with CONCLAVE_* environment
// overrides applied on top:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("conclave.yaml")
//
// Variables follow CONCLAVE_SECTION_FIELD, for example
// CONCLAVE_SERVER_LISTEN_ADDRESS or CONCLAVE_ADMISSION_USER_REQUESTS.
// A malformed value fails the load instead of being ignored.
//
// # Precedence
//
// Later sources override earlier ones:
//
//  1. Built-in defaults (NewDefault)
//  2. The YAML file
//  3. Environment variables
//
// # Validation
//
// Validate collects every problem into a ValidationError so an operator
// sees all of them at once:
//
//	configuration validation failed with 2 errors:
//	  - store.backend: must be memory, sqlite or redis, got "etcd"
//	  - auth: configure auth.jwt.secret or at least one auth.api_keys entry
//
// # Global Access
//
// Initialize stores the loaded configuration for GetConfig. Components
// receive their section explicitly; the global exists for the CLI.
package config
