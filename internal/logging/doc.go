// Package logging wires log/slog with the handlers and standardized field keys
// used across the daemon: a JSON handler for machine ingestion and a compact
// console handler for interactive use.
package logging
