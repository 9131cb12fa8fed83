// Package config loads, normalizes, and validates audiobatch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AUDIOBATCH_STORE_ACCESS_KEY. The Config type centralizes every knob the
// daemon and CLI need, so storage credentials, pipeline providers, and
// directory layout are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical provider names, and clear validation errors.
package config
