// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Account events ===
	EventAccountRegistered   EventType = "account.registered"
	EventAccountLogin        EventType = "account.login"
	EventAccountLoginFailed  EventType = "account.login_failed"
	EventAccountGoogleLogin  EventType = "account.google_login"
	EventEmailVerifySent     EventType = "email.verification_sent"
	EventEmailVerified       EventType = "email.verified"
	EventPasswordResetAsked  EventType = "password.reset_requested"
	EventPasswordResetDone   EventType = "password.reset"
	EventPasswordResetFailed EventType = "password.reset_failed"

	// === Mail dispatch events ===
	EventDispatchCycle       EventType = "mail.dispatch_cycle"
	EventDispatchCycleFailed EventType = "mail.dispatch_cycle_failed"

	// === System events ===
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is what was affected by the event
	Target Target `json:"target"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`
}

// Actor represents who triggered an audit event
type Actor struct {
	// User is the email address, or "system" for the dispatch worker
	User string `json:"user"`

	UID string `json:"uid,omitempty"`

	// Provider is the sign-in method (password, google)
	Provider string `json:"provider,omitempty"`

	SourceIP  string `json:"sourceIP,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Target represents what was affected by an audit event
type Target struct {
	// Kind is "user" or "mail"
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventDispatchCycleFailed:
		return SeverityCritical
	case EventAccountLoginFailed, EventPasswordResetFailed:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
