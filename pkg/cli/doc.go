// Package cli defines the accountdesk command tree: serve runs the HTTP API
// together with the mail dispatch scheduler, dispatch runs one dispatch
// cycle, migrate applies the database schema and version prints build info.
package cli
