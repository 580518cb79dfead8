// Package identity implements account sign-up and sign-in: password hashing,
// signed session, verification and password reset tokens, and Google ID token
// sign-in. Verification and reset links are delivered by queuing mail records
// through the mail outbox.
package identity
