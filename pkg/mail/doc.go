// Package mail provides the outbound email side of accountdesk: an SMTP
// sender built on gomail, the verification, welcome and password reset
// templates, and the outbox that writes mail records for later dispatch.
package mail
