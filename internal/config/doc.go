// Package config loads, validates and hot-reloads the YAML configuration:
// server settings, detector and health tuning, alert rules and notification
// channels. Secrets never live in the file; channel URLs, tokens and the
// audit DSN are named environment variables resolved at load time.
package config
