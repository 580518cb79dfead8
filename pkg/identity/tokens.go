package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/accountdesk/accountdesk/pkg/store"
)

const DefaultIssuer = "accountdesk"

type Purpose string

const (
	PurposeSession       Purpose = "session"
	PurposeVerifyEmail   Purpose = "verify-email"
	PurposeResetPassword Purpose = "reset-password"
)

// Claims are carried by every token this package issues.
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
	Email   string  `json:"email"`
	// Stamp ties a reset token to the password hash it was issued for.
	Stamp string `json:"stamp,omitempty"`
}

// Tokens issues and checks HS256 tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    map[Purpose]time.Duration
	now    func() time.Time
}

type TokenTTLs struct {
	Session       time.Duration
	Verification  time.Duration
	PasswordReset time.Duration
}

func NewTokens(secret, issuer string, ttls TokenTTLs) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl: map[Purpose]time.Duration{
			PurposeSession:       ttls.Session,
			PurposeVerifyEmail:   ttls.Verification,
			PurposeResetPassword: ttls.PasswordReset,
		},
		now: time.Now,
	}, nil
}

// TTL returns how long tokens of purpose stay valid.
func (t *Tokens) TTL(purpose Purpose) time.Duration {
	return t.ttl[purpose]
}

func (t *Tokens) Issue(purpose Purpose, user store.UserRecord) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl[purpose])),
		},
		Purpose: purpose,
		Email:   user.Email,
	}
	if purpose == PurposeResetPassword {
		claims.Stamp = passwordStamp(user.PasswordHash)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, nil
}

// Parse verifies signature, expiry, issuer and purpose. Expiry is checked by
// the jwt parser against the wall clock.
func (t *Tokens) Parse(raw string, purpose Purpose) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.VerifyIssuer(t.issuer, true) {
		return Claims{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: token has no expiry", ErrInvalidToken)
	}
	if claims.Purpose != purpose {
		return Claims{}, fmt.Errorf("%w: token purpose %q, want %q", ErrInvalidToken, claims.Purpose, purpose)
	}
	return claims, nil
}

func passwordStamp(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}
