// Package metadata implements the local key/value store used by the CLI,
// backed by SQLite (modernc.org/sqlite) with goose-managed schema.
package metadata
