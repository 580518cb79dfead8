package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// GoogleIdentity holds the claims read from a verified Google ID token.
type GoogleIdentity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

type GoogleVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (GoogleIdentity, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewGoogleVerifier discovers the issuer's signing keys and checks ID tokens
// against clientID.
func NewGoogleVerifier(ctx context.Context, issuer, clientID string) (GoogleVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", issuer, err)
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewGoogleVerifierWithKeySet skips discovery and verifies against keySet.
func NewGoogleVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet) GoogleVerifier {
	return &oidcVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID})}
}

func (v *oidcVerifier) Verify(ctx context.Context, rawIDToken string) (GoogleIdentity, error) {
	tok, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var id GoogleIdentity
	if err := tok.Claims(&id); err != nil {
		return GoogleIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if id.Email == "" {
		return GoogleIdentity{}, fmt.Errorf("%w: token carries no email", ErrInvalidToken)
	}
	return id, nil
}
