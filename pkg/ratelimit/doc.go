// Package ratelimit provides token-bucket rate limiting middleware for the
// account endpoints: per client IP for anonymous requests and per user for
// requests carrying a session.
package ratelimit
