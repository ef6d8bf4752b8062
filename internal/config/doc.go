// Package config loads, normalizes, and validates taskbeat configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TASKBEAT_API_TOKEN and TASKBEAT_REDIS_URL. The Config type centralizes the
// queue name, claim quotas, beat sources and task defaults the daemon and CLI
// need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
