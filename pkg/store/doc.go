// Package store holds the mail and user collections used by accountdesk.
// The mail collection doubles as the outbound queue drained by the dispatch
// worker. Backends: an in-memory store for development and tests, and a
// PostgreSQL store built on pgx.
package store
