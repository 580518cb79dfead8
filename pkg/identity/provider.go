package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/store"
)

// Link paths appended to the front end base URL.
const (
	VerifyEmailPath   = "/api/account/verify-email/confirm"
	PasswordResetPath = "/password-reset/confirm"
)

type Options struct {
	BaseURL           string
	BrandingName      string
	MinPasswordLength int
}

// OptionsFrom reads provider options from the file config.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		BaseURL:           cfg.Frontend.BaseURL,
		BrandingName:      cfg.Frontend.BrandingName,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
	}
}

type SignUpRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	Password  string
}

type Provider struct {
	users  store.UserStore
	outbox *mail.Outbox
	tokens *Tokens
	google GoogleVerifier
	opts   Options
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewProvider wires the provider. google may be nil, in which case Google
// sign-in returns ErrGoogleDisabled.
func NewProvider(users store.UserStore, outbox *mail.Outbox, tokens *Tokens, google GoogleVerifier, opts Options, log *zap.SugaredLogger) *Provider {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 6
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Provider{
		users:  users,
		outbox: outbox,
		tokens: tokens,
		google: google,
		opts:   opts,
		log:    log.Named("identity"),
		now:    time.Now,
	}
}

func (p *Provider) SignUp(ctx context.Context, req SignUpRequest) (store.UserRecord, error) {
	if len(req.Password) < p.opts.MinPasswordLength {
		return store.UserRecord{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("hash password: %w", err)
	}
	now := p.now().UTC()
	user := store.UserRecord{
		UID:          uuid.NewString(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        store.NormalizeEmail(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Role:         store.DefaultRole,
		Provider:     store.ProviderPassword,
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := p.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.UserRecord{}, ErrEmailTaken
		}
		return store.UserRecord{}, fmt.Errorf("create user: %w", err)
	}
	p.log.Infow("User registered", "uid", user.UID, "email", user.Email)
	return user, nil
}

// SignIn checks email and password. When the credentials are right but the
// address is unverified it returns the user together with ErrEmailNotVerified
// and no session token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (store.UserRecord, string, error) {
	user, err := p.userByEmail(ctx, email)
	if err != nil {
		return store.UserRecord{}, "", err
	}
	if user.PasswordHash == "" {
		return store.UserRecord{}, "", ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.UserRecord{}, "", ErrWrongPassword
	}
	if !user.EmailVerified {
		return user, "", ErrEmailNotVerified
	}
	return p.startSession(ctx, user)
}

// SignInWithGoogle verifies a Google ID token and creates the user on first
// sign-in. isNew reports whether a user record was created.
func (p *Provider) SignInWithGoogle(ctx context.Context, idToken string) (store.UserRecord, bool, string, error) {
	if p.google == nil {
		return store.UserRecord{}, false, "", ErrGoogleDisabled
	}
	id, err := p.google.Verify(ctx, idToken)
	if err != nil {
		return store.UserRecord{}, false, "", err
	}

	user, err := p.userByEmail(ctx, id.Email)
	isNew := false
	switch {
	case errors.Is(err, ErrUserNotFound):
		now := p.now().UTC()
		user = store.UserRecord{
			UID:           uuid.NewString(),
			FirstName:     id.GivenName,
			LastName:      id.FamilyName,
			Email:         store.NormalizeEmail(id.Email),
			PhotoURL:      id.Picture,
			Role:          store.DefaultRole,
			Provider:      store.ProviderGoogle,
			EmailVerified: id.EmailVerified,
			CreatedAt:     now,
			LastLogin:     now,
		}
		if err := p.users.CreateUser(ctx, user); err != nil {
			return store.UserRecord{}, false, "", fmt.Errorf("create user: %w", err)
		}
		isNew = true
		p.log.Infow("User registered with Google", "uid", user.UID, "email", user.Email)
	case err != nil:
		return store.UserRecord{}, false, "", err
	case id.EmailVerified && !user.EmailVerified:
		user.EmailVerified = true
		if err := p.users.UpdateUser(ctx, user); err != nil {
			return store.UserRecord{}, false, "", fmt.Errorf("update user: %w", err)
		}
	}

	if !user.EmailVerified {
		return user, isNew, "", ErrEmailNotVerified
	}
	user, token, err := p.startSession(ctx, user)
	return user, isNew, token, err
}

// SendEmailVerification queues a mail carrying a verification link for user.
func (p *Provider) SendEmailVerification(ctx context.Context, user store.UserRecord) (store.MailRecord, error) {
	token, err := p.tokens.Issue(PurposeVerifyEmail, user)
	if err != nil {
		return store.MailRecord{}, err
	}
	content, err := mail.RenderVerification(mail.VerificationMailParams{
		Name:         user.Name(),
		Email:        user.Email,
		Link:         p.link(VerifyEmailPath, token),
		ExpiresIn:    HumanDuration(p.tokens.TTL(PurposeVerifyEmail)),
		BrandingName: p.opts.BrandingName,
	})
	if err != nil {
		return store.MailRecord{}, fmt.Errorf("render verification mail: %w", err)
	}
	return p.outbox.Enqueue(ctx, "verification", user.Email, content)
}

// ConfirmEmail marks the token's user verified. Confirming twice is not an error.
func (p *Provider) ConfirmEmail(ctx context.Context, token string) (store.UserRecord, error) {
	claims, err := p.tokens.Parse(token, PurposeVerifyEmail)
	if err != nil {
		return store.UserRecord{}, err
	}
	user, err := p.userByID(ctx, claims.Subject)
	if err != nil {
		return store.UserRecord{}, err
	}
	if store.NormalizeEmail(claims.Email) != user.Email {
		return store.UserRecord{}, fmt.Errorf("%w: email changed since the token was issued", ErrInvalidToken)
	}
	if user.EmailVerified {
		return user, nil
	}
	user.EmailVerified = true
	if err := p.users.UpdateUser(ctx, user); err != nil {
		return store.UserRecord{}, fmt.Errorf("update user: %w", err)
	}
	p.log.Infow("Email verified", "uid", user.UID, "email", user.Email)
	return user, nil
}

// SendPasswordReset queues a reset link for the account registered under email.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) (store.MailRecord, error) {
	user, err := p.userByEmail(ctx, email)
	if err != nil {
		return store.MailRecord{}, err
	}
	token, err := p.tokens.Issue(PurposeResetPassword, user)
	if err != nil {
		return store.MailRecord{}, err
	}
	content, err := mail.RenderPasswordReset(mail.PasswordResetMailParams{
		Name:         user.Name(),
		Email:        user.Email,
		Link:         p.link(PasswordResetPath, token),
		ExpiresIn:    HumanDuration(p.tokens.TTL(PurposeResetPassword)),
		BrandingName: p.opts.BrandingName,
	})
	if err != nil {
		return store.MailRecord{}, fmt.Errorf("render password reset mail: %w", err)
	}
	return p.outbox.Enqueue(ctx, "password_reset", user.Email, content)
}

// ResetPassword sets a new password. A token stops working once the password
// it was issued for has changed.
func (p *Provider) ResetPassword(ctx context.Context, token, newPassword string) (store.UserRecord, error) {
	claims, err := p.tokens.Parse(token, PurposeResetPassword)
	if err != nil {
		return store.UserRecord{}, err
	}
	if len(newPassword) < p.opts.MinPasswordLength {
		return store.UserRecord{}, ErrWeakPassword
	}
	user, err := p.userByID(ctx, claims.Subject)
	if err != nil {
		return store.UserRecord{}, err
	}
	if claims.Stamp != passwordStamp(user.PasswordHash) {
		return store.UserRecord{}, fmt.Errorf("%w: token already used", ErrInvalidToken)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	// Following the mailed link proves the address.
	user.EmailVerified = true
	if err := p.users.UpdateUser(ctx, user); err != nil {
		return store.UserRecord{}, fmt.Errorf("update user: %w", err)
	}
	p.log.Infow("Password reset", "uid", user.UID)
	return user, nil
}

func (p *Provider) ParseSession(token string) (Claims, error) {
	return p.tokens.Parse(token, PurposeSession)
}

// User loads a user by id.
func (p *Provider) User(ctx context.Context, uid string) (store.UserRecord, error) {
	return p.userByID(ctx, uid)
}

func (p *Provider) startSession(ctx context.Context, user store.UserRecord) (store.UserRecord, string, error) {
	user.LastLogin = p.now().UTC()
	if err := p.users.UpdateUser(ctx, user); err != nil {
		return store.UserRecord{}, "", fmt.Errorf("update last login: %w", err)
	}
	token, err := p.tokens.Issue(PurposeSession, user)
	if err != nil {
		return store.UserRecord{}, "", err
	}
	return user, token, nil
}

func (p *Provider) userByEmail(ctx context.Context, email string) (store.UserRecord, error) {
	user, err := p.users.GetUserByEmail(ctx, store.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return store.UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (p *Provider) userByID(ctx context.Context, uid string) (store.UserRecord, error) {
	user, err := p.users.GetUser(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return store.UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (p *Provider) link(path, token string) string {
	return p.opts.BaseURL + path + "?token=" + url.QueryEscape(token)
}

// HumanDuration renders whole hours or minutes, e.g. "48 hours" or "1 hour".
func HumanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
