package account

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/apiresponses"
	"github.com/accountdesk/accountdesk/pkg/audit"
	"github.com/accountdesk/accountdesk/pkg/identity"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/ratelimit"
	"github.com/accountdesk/accountdesk/pkg/store"
	"github.com/accountdesk/accountdesk/pkg/system"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const baseURL = "https://app.example.com"

type fakeGoogle struct {
	id  identity.GoogleIdentity
	err error
}

func (f *fakeGoogle) Verify(context.Context, string) (identity.GoogleIdentity, error) {
	return f.id, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Write(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *recordingSink) Close() error { return nil }
func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	router *gin.Engine
	mem    *store.Memory
	sink   *recordingSink
	audit  *audit.Manager
}

func newFixture(t *testing.T, google identity.GoogleVerifier, limiter gin.HandlerFunc) *fixture {
	t.Helper()
	return newFixtureWithOptions(t, google, Options{Limiter: limiter})
}

func newFixtureWithOptions(t *testing.T, google identity.GoogleVerifier, opts Options) *fixture {
	t.Helper()
	log := system.NewTestLogger()
	mem := store.NewMemory()
	outbox := mail.NewOutbox(mem, log)
	tokens, err := identity.NewTokens("test-secret", "", identity.TokenTTLs{
		Session:       time.Hour,
		Verification:  48 * time.Hour,
		PasswordReset: time.Hour,
	})
	require.NoError(t, err)
	provider := identity.NewProvider(mem, outbox, tokens, google, identity.Options{BaseURL: baseURL, BrandingName: "Example App"}, log)

	sink := &recordingSink{}
	manager := audit.NewManager(sink, audit.DefaultManagerConfig(), zap.NewNop())
	t.Cleanup(func() { _ = manager.Close() })

	opts.BaseURL = baseURL
	opts.BrandingName = "Example App"
	opts.Audit = manager
	ctrl := NewController(provider, outbox, opts, log)

	router := gin.New()
	group := router.Group("api").Group(ctrl.BasePath(), ctrl.Handlers()...)
	require.NoError(t, ctrl.Register(group))

	return &fixture{router: router, mem: mem, sink: sink, audit: manager}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) register(t *testing.T, email, password string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/account/register", map[string]string{
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"email":           email,
		"password":        password,
		"confirmPassword": password,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// lastLink returns the path and query of the link in the newest mail record.
func (f *fixture) lastLink(t *testing.T) *url.URL {
	t.Helper()
	mails := f.mem.ListMail()
	require.NotEmpty(t, mails)
	text := mails[len(mails)-1].Message.Text
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, baseURL) {
			u, err := url.Parse(strings.TrimSpace(line))
			require.NoError(t, err)
			return u
		}
	}
	t.Fatalf("no link in mail: %s", text)
	return nil
}

func (f *fixture) confirmEmail(t *testing.T) {
	t.Helper()
	link := f.lastLink(t)
	w := f.do(t, http.MethodGet, link.RequestURI(), nil, map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apiresponses.APIError {
	t.Helper()
	var e apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/api/account/register", map[string]string{
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"email":           "Ada@Example.com",
		"phone":           "+44 20 7946 0000",
		"password":        "secret1",
		"confirmPassword": "secret1",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp registerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, msgRegistered, resp.Message)
	assert.Equal(t, "ada@example.com", resp.User.Email)
	assert.False(t, resp.User.EmailVerified)
	assert.Equal(t, store.ProviderPassword, resp.User.Provider)

	mails := f.mem.ListMail()
	require.Len(t, mails, 1)
	assert.Equal(t, "ada@example.com", mails[0].To)
	assert.Equal(t, mail.SubjectVerification, mails[0].Subject)
	assert.False(t, mails[0].Sent)
	assert.Contains(t, mails[0].Message.Text, baseURL+identity.VerifyEmailPath)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name        string
		body        map[string]string
		wantCode    int
		wantErr     string
		wantDetails string
	}{
		{
			name:        "missing first name",
			body:        map[string]string{"lastName": "L", "email": "a@example.com", "password": "secret1", "confirmPassword": "secret1"},
			wantCode:    http.StatusBadRequest,
			wantErr:     apiresponses.CodeValidation,
			wantDetails: "firstName: required",
		},
		{
			name:        "invalid email",
			body:        map[string]string{"firstName": "A", "lastName": "L", "email": "not-an-email", "password": "secret1", "confirmPassword": "secret1"},
			wantCode:    http.StatusBadRequest,
			wantErr:     apiresponses.CodeValidation,
			wantDetails: "email: email",
		},
		{
			name:        "password mismatch",
			body:        map[string]string{"firstName": "A", "lastName": "L", "email": "a@example.com", "password": "secret1", "confirmPassword": "secret2"},
			wantCode:    http.StatusBadRequest,
			wantErr:     apiresponses.CodeValidation,
			wantDetails: "confirmPassword",
		},
		{
			name:     "short password",
			body:     map[string]string{"firstName": "A", "lastName": "L", "email": "a@example.com", "password": "abc", "confirmPassword": "abc"},
			wantCode: http.StatusBadRequest,
			wantErr:  apiresponses.CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			w := f.do(t, http.MethodPost, "/api/account/register", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			e := decodeError(t, w)
			assert.Equal(t, tt.wantErr, e.Code)
			if tt.wantDetails != "" {
				assert.Equal(t, tt.wantDetails, e.Details)
			}
			assert.Empty(t, f.mem.ListMail())
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.register(t, "ada@example.com", "secret1")

	w := f.do(t, http.MethodPost, "/api/account/register", map[string]string{
		"firstName": "Ada", "lastName": "L", "email": "ADA@example.com", "password": "secret1", "confirmPassword": "secret1",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apiresponses.CodeEmailTaken, decodeError(t, w).Code)
	assert.Len(t, f.mem.ListMail(), 1)
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.register(t, "ada@example.com", "secret1")

	login := func(email, password string) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPost, "/api/account/login", map[string]string{"email": email, "password": password}, nil)
	}

	w := login("ada@example.com", "secret1")
	require.Equal(t, http.StatusForbidden, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, apiresponses.CodeEmailNotVerified, e.Code)
	assert.Equal(t, VerifyEmailRoute, e.Details)

	f.confirmEmail(t)

	w = login("ada@example.com", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apiresponses.CodeInvalidCreds, decodeError(t, w).Code)

	w = login("nobody@example.com", "secret1")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apiresponses.CodeUserNotFound, decodeError(t, w).Code)

	w = login("ada@example.com", "secret1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.NotEmpty(t, session.Token)
	assert.True(t, session.User.EmailVerified)

	w = f.do(t, http.MethodGet, "/api/account/me", nil, map[string]string{"Authorization": "Bearer " + session.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, session.User.UID, me.UID)
	assert.Equal(t, "Ada", me.FirstName)
}

func TestMeRequiresSession(t *testing.T) {
	f := newFixture(t, nil, nil)

	for name, header := range map[string]map[string]string{
		"no header":   nil,
		"not bearer":  {"Authorization": "Basic abc"},
		"bad token":   {"Authorization": "Bearer not-a-token"},
		"empty token": {"Authorization": "Bearer "},
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/account/me", nil, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestConfirmEmailRedirects(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.register(t, "ada@example.com", "secret1")
	link := f.lastLink(t)

	w := f.do(t, http.MethodGet, link.RequestURI(), nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, baseURL+"/login?verified=true", w.Header().Get("Location"))

	user, err := f.mem.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	// Following the link again is harmless.
	w = f.do(t, http.MethodGet, link.RequestURI(), nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, baseURL+"/login?verified=true", w.Header().Get("Location"))

	w = f.do(t, http.MethodGet, "/api/account/verify-email/confirm?token=garbage", nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, baseURL+"/verify-email?error=invalid_token", w.Header().Get("Location"))

	w = f.do(t, http.MethodGet, "/api/account/verify-email/confirm?token=garbage", nil, map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apiresponses.CodeInvalidToken, decodeError(t, w).Code)
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.register(t, "ada@example.com", "secret1")

	resend := func(password string) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPost, "/api/account/verify-email", map[string]string{"email": "ada@example.com", "password": password}, nil)
	}

	w := resend("secret1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), msgVerificationSent)
	assert.Len(t, f.mem.ListMail(), 2)

	w = resend("wrong-password")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, msgInvalidCredentials, decodeError(t, w).Error)

	f.confirmEmail(t)
	w = resend("secret1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), msgAlreadyVerified)
	assert.Len(t, f.mem.ListMail(), 2)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.register(t, "ada@example.com", "secret1")

	w := f.do(t, http.MethodPost, "/api/account/password-reset", map[string]string{"email": "nobody@example.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), msgResetSent)
	assert.Len(t, f.mem.ListMail(), 1, "unknown address must not queue a mail")

	w = f.do(t, http.MethodPost, "/api/account/password-reset", map[string]string{"email": "Ada@example.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), msgResetSent)
	mails := f.mem.ListMail()
	require.Len(t, mails, 2)
	assert.Equal(t, mail.SubjectPasswordReset, mails[1].Subject)

	token := f.lastLink(t).Query().Get("token")
	require.NotEmpty(t, token)

	confirm := func(password, confirmPassword string) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPost, "/api/account/password-reset/confirm", map[string]string{
			"token": token, "password": password, "confirmPassword": confirmPassword,
		}, nil)
	}

	w = confirm("newsecret", "different")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = confirm("newsecret", "newsecret")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = confirm("another1", "another1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apiresponses.CodeInvalidToken, decodeError(t, w).Code)

	w = f.do(t, http.MethodPost, "/api/account/login", map[string]string{"email": "ada@example.com", "password": "newsecret"}, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPasswordResetInvalidEmail(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.do(t, http.MethodPost, "/api/account/password-reset", map[string]string{"email": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid email format.", decodeError(t, w).Error)
}

func TestGoogleSignIn(t *testing.T) {
	google := &fakeGoogle{id: identity.GoogleIdentity{
		Subject:       "1234",
		Email:         "grace@example.com",
		EmailVerified: true,
		GivenName:     "Grace",
		FamilyName:    "Hopper",
	}}
	f := newFixture(t, google, nil)

	signIn := func() sessionResponse {
		w := f.do(t, http.MethodPost, "/api/account/google", map[string]string{"idToken": "id-token"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp sessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	first := signIn()
	assert.True(t, first.NewUser)
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, store.ProviderGoogle, first.User.Provider)

	mails := f.mem.ListMail()
	require.Len(t, mails, 1)
	assert.Equal(t, mail.SubjectWelcome, mails[0].Subject)
	assert.Equal(t, "grace@example.com", mails[0].To)
	assert.Contains(t, mails[0].Message.Text, "Google")

	second := signIn()
	assert.False(t, second.NewUser)
	assert.Equal(t, first.User.UID, second.User.UID)
	assert.Len(t, f.mem.ListMail(), 1)
}

func TestGoogleSignInErrors(t *testing.T) {
	t.Run("unverified email", func(t *testing.T) {
		f := newFixture(t, &fakeGoogle{id: identity.GoogleIdentity{Email: "x@example.com"}}, nil)
		w := f.do(t, http.MethodPost, "/api/account/google", map[string]string{"idToken": "t"}, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, apiresponses.CodeEmailNotVerified, decodeError(t, w).Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		f := newFixture(t, &fakeGoogle{err: identity.ErrInvalidToken}, nil)
		w := f.do(t, http.MethodPost, "/api/account/google", map[string]string{"idToken": "t"}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, msgGoogleFailed, decodeError(t, w).Error)
		assert.Empty(t, f.mem.ListMail())
	})

	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		w := f.do(t, http.MethodPost, "/api/account/google", map[string]string{"idToken": "t"}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		w := f.do(t, http.MethodPost, "/api/account/google", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	rl := ratelimit.New(ratelimit.Config{Rate: 0.001, Burst: 1})
	defer rl.Stop()
	f := newFixture(t, nil, rl.Middleware())

	body := map[string]string{"email": "nobody@example.com"}
	w := f.do(t, http.MethodPost, "/api/account/password-reset", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/account/password-reset", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apiresponses.CodeRateLimited, decodeError(t, w).Code)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.register(t, "ada@example.com", "secret1")
	f.confirmEmail(t)
	w := f.do(t, http.MethodPost, "/api/account/login", map[string]string{"email": "ada@example.com", "password": "bad-password"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	require.NoError(t, f.audit.Close())
	assert.Equal(t, []audit.EventType{
		audit.EventAccountRegistered,
		audit.EventEmailVerifySent,
		audit.EventEmailVerified,
		audit.EventAccountLoginFailed,
	}, f.sink.types())
}

func TestSessionRateLimit(t *testing.T) {
	anonymous := ratelimit.Config{Rate: 100, Burst: 100}
	rl := ratelimit.NewAuthenticated(ratelimit.AuthenticatedConfig{
		Unauthenticated: anonymous,
		Authenticated:   ratelimit.Config{Rate: 0.001, Burst: 1},
	})
	defer rl.Stop()
	f := newFixtureWithOptions(t, nil, Options{SessionLimiter: rl.Middleware()})
	f.register(t, "ada@example.com", "secret1")
	f.confirmEmail(t)

	w := f.do(t, http.MethodPost, "/api/account/login", map[string]string{"email": "ada@example.com", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var session sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	auth := map[string]string{"Authorization": "Bearer " + session.Token}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/account/me", nil, auth).Code)
	w = f.do(t, http.MethodGet, "/api/account/me", nil, auth)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, rl.UserLen())
	assert.Equal(t, 0, rl.IPLen())
}
