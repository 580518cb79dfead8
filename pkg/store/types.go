package store

import (
	"strings"
	"time"
)

// MessageBody carries two renderings of the same mail content.
type MessageBody struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// MailRecord is one outbound email plus its delivery state. Sent flips from
// false to true exactly once; SentAt is assigned by the store when it does.
type MailRecord struct {
	ID        string      `json:"id"`
	To        string      `json:"to"`
	Subject   string      `json:"subject"`
	Message   MessageBody `json:"message"`
	Sent      bool        `json:"sent"`
	SentAt    *time.Time  `json:"sentAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Validate checks the fields every producer must supply.
func (m MailRecord) Validate() error {
	var missing []string
	if strings.TrimSpace(m.To) == "" {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(m.Subject) == "" {
		missing = append(missing, "subject")
	}
	if m.Message.Text == "" {
		missing = append(missing, "message.text")
	}
	if m.Message.HTML == "" {
		missing = append(missing, "message.html")
	}
	if len(missing) > 0 {
		return &InvalidRecordError{Fields: missing}
	}
	return nil
}

// Sign-in providers recorded on a user.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

const DefaultRole = "user"

// UserRecord is an account as stored in the user collection.
type UserRecord struct {
	UID           string    `json:"uid"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	PhotoURL      string    `json:"photoURL,omitempty"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	Provider      string    `json:"provider"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	LastLogin     time.Time `json:"lastLogin"`
}

// Name joins first and last name the way the user collection displays it.
func (u UserRecord) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
