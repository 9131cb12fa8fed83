// Package services provides the shared error taxonomy, retry bookkeeping, and
// context annotations used across the ingestion gateway, query API, and
// processing pipeline.
package services
