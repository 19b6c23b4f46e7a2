// Package history persists every sample the watcher takes and answers
// bounded newest-first queries per entity. Three backends are provided:
// in-memory, PostgreSQL and S3-compatible object storage.
package history
