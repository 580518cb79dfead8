package identity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/store"
)

// TokensFrom builds the token issuer from the auth section.
func TokensFrom(auth config.Auth) (*Tokens, error) {
	session, err := config.ParseDuration("auth.sessionTTL", auth.SessionTTL, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	verification, err := config.ParseDuration("auth.verificationTTL", auth.VerificationTTL, 48*time.Hour)
	if err != nil {
		return nil, err
	}
	reset, err := config.ParseDuration("auth.passwordResetTTL", auth.PasswordResetTTL, time.Hour)
	if err != nil {
		return nil, err
	}
	return NewTokens(auth.TokenSecret, auth.Issuer, TokenTTLs{
		Session:       session,
		Verification:  verification,
		PasswordReset: reset,
	})
}

// NewFromConfig builds a Provider. Google sign-in is enabled only when a
// client id is configured; a failed issuer discovery disables it with a warning.
func NewFromConfig(ctx context.Context, cfg config.Config, users store.UserStore, outbox *mail.Outbox, log *zap.SugaredLogger) (*Provider, error) {
	tokens, err := TokensFrom(cfg.Auth)
	if err != nil {
		return nil, err
	}
	var google GoogleVerifier
	if cfg.Auth.GoogleClientID != "" {
		google, err = NewGoogleVerifier(ctx, cfg.Auth.GoogleIssuer, cfg.Auth.GoogleClientID)
		if err != nil {
			log.Warnw("Google sign-in disabled", "issuer", cfg.Auth.GoogleIssuer, "error", err)
			google = nil
		}
	}
	return NewProvider(users, outbox, tokens, google, OptionsFrom(cfg), log), nil
}
