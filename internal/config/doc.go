// ABOUTME: Package doc for agencyd configuration
// ABOUTME: Documents the YAML shape, env expansion, and defaulting rules

// Package config loads and validates agencyd configuration from YAML.
//
// Files support ${VAR_NAME} environment expansion over the raw document and
// human-readable duration strings ("2s", "500ms") for the timing fields.
// Every field has a sensible default, so an empty file (or Default()) yields
// a runnable configuration: HTTP on :8745, SQLite at ./agencyd.db, a
// 128-session cache, and the stock agency policy of 4 concurrent seats with
// 2 retries.
package config
