// Package account serves the account JSON API: registration, password and
// Google sign-in, email verification and password reset. Every mail it
// triggers is written to the mail store and delivered later by the dispatch
// worker.
package account
