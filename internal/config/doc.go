// Package config loads and validates the pulsefeed server configuration.
//
// The main config file is YAML parsed into Config; missing fields are
// filled with defaults before validation. Secrets (API keys, the
// database DSN) are never stored in the file itself — the file names
// the environment variable that holds them (the *_env pattern).
//
// Domain keyword sets live in a separate YAML file so operators can
// tune trigger keywords and thresholds without touching server
// settings. Registry holds the current sets and WatchDomains reloads
// them on file change; a failed reload keeps the previous sets active.
package config
