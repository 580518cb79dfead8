package account

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/apiresponses"
	"github.com/accountdesk/accountdesk/pkg/audit"
	"github.com/accountdesk/accountdesk/pkg/identity"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/metrics"
	"github.com/accountdesk/accountdesk/pkg/store"
	"github.com/accountdesk/accountdesk/pkg/system"
)

// Messages shown by the front end.
const (
	msgRegistered         = "Account created successfully! Please check your email for verification."
	msgVerificationSent   = "Verification email sent. Please check your inbox."
	msgAlreadyVerified    = "Email already verified."
	msgResetSent          = "Password reset email sent. Please check your inbox."
	msgPasswordChanged    = "Password updated. You can now sign in."
	msgEmailVerified      = "Email verified. You can now sign in."
	msgVerifyFirst        = "Please verify your email first."
	msgNoUser             = "No user found with this email."
	msgWrongPassword      = "Incorrect password."
	msgInvalidCredentials = "Account doesn't exist or credentials are invalid."
	msgPasswordMismatch   = "Passwords do not match."
	msgGoogleFailed       = "Google sign-in failed. Please try again."
	msgInvalidLink        = "The link is invalid or has expired."
)

// VerifyEmailRoute is where the front end asks the user to verify.
const VerifyEmailRoute = "/verify-email"

// Controller serves /api/account.
type Controller struct {
	provider       *identity.Provider
	outbox         *mail.Outbox
	audit          *audit.Manager
	limiter        gin.HandlerFunc
	sessionLimiter gin.HandlerFunc
	baseURL        string
	branding       string
	log            *zap.SugaredLogger
}

type Options struct {
	// BaseURL of the front end, used for redirects after email confirmation.
	BaseURL      string
	BrandingName string
	// Limiter guards every account route. Nil disables rate limiting.
	Limiter gin.HandlerFunc
	// SessionLimiter runs after the session middleware on signed-in routes.
	SessionLimiter gin.HandlerFunc
	// Audit may be nil.
	Audit *audit.Manager
}

func NewController(provider *identity.Provider, outbox *mail.Outbox, opts Options, log *zap.SugaredLogger) *Controller {
	return &Controller{
		provider:       provider,
		outbox:         outbox,
		audit:          opts.Audit,
		limiter:        opts.Limiter,
		sessionLimiter: opts.SessionLimiter,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		branding:       opts.BrandingName,
		log:            log.Named("account"),
	}
}

func (ac *Controller) BasePath() string {
	return "account"
}

func (ac *Controller) Handlers() []gin.HandlerFunc {
	if ac.limiter == nil {
		return nil
	}
	return []gin.HandlerFunc{ac.limiter}
}

func (ac *Controller) Register(rg *gin.RouterGroup) error {
	rg.POST("/register", ac.handleRegister)
	rg.POST("/login", ac.handleLogin)
	rg.POST("/google", ac.handleGoogle)
	rg.POST("/password-reset", ac.handlePasswordReset)
	rg.POST("/password-reset/confirm", ac.handlePasswordResetConfirm)
	rg.POST("/verify-email", ac.handleResendVerification)
	rg.GET("/verify-email/confirm", ac.handleConfirmEmail)
	signedIn := []gin.HandlerFunc{ac.SessionMiddleware()}
	if ac.sessionLimiter != nil {
		signedIn = append(signedIn, ac.sessionLimiter)
	}
	rg.GET("/me", append(signedIn, ac.handleMe)...)
	return nil
}

// SessionMiddleware requires a bearer session token and stores the user id
// and email under "uid" and "email".
func (ac *Controller) SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			apiresponses.RespondUnauthorizedWithMessage(c, "missing session token")
			c.Abort()
			return
		}
		claims, err := ac.provider.ParseSession(strings.TrimSpace(raw))
		if err != nil {
			system.GetReqLogger(c, ac.log).Debugw("Rejected session token", "error", err)
			apiresponses.RespondUnauthorizedWithMessage(c, "invalid session token")
			c.Abort()
			return
		}
		c.Set("uid", claims.Subject)
		c.Set("email", claims.Email)
		c.Next()
	}
}

func (ac *Controller) handleRegister(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondValidation(c, "invalid registration form", err)
		return
	}
	if req.Password != req.ConfirmPassword {
		apiresponses.RespondBadRequestWithDetails(c, apiresponses.CodeValidation, msgPasswordMismatch, "confirmPassword")
		return
	}

	user, err := ac.provider.SignUp(c.Request.Context(), identity.SignUpRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
		Password:  req.Password,
	})
	if err != nil {
		ac.count("register", "error")
		ac.respondIdentityError(c, "register account", err)
		return
	}
	ac.count("register", "ok")
	ac.emit(c, audit.EventAccountRegistered, user, nil)

	// The account exists from here on. A failed mail write is logged and
	// the user can ask for a new link from the verify page.
	if rec, err := ac.provider.SendEmailVerification(c.Request.Context(), user); err != nil {
		log.Errorw("Failed to queue verification email", "uid", user.UID, "error", err)
	} else {
		ac.emit(c, audit.EventEmailVerifySent, user, map[string]interface{}{"mailId": rec.ID})
	}

	apiresponses.RespondCreated(c, registerResponse{Message: msgRegistered, User: profileOf(user)})
}

func (ac *Controller) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondValidation(c, "invalid login form", err)
		return
	}

	user, token, err := ac.provider.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		ac.count("login", "error")
		failed := user
		if failed.Email == "" {
			failed.Email = store.NormalizeEmail(req.Email)
		}
		ac.emit(c, audit.EventAccountLoginFailed, failed, map[string]interface{}{"reason": err.Error()})
		ac.respondIdentityError(c, "sign in", err)
		return
	}
	ac.count("login", "ok")
	ac.emit(c, audit.EventAccountLogin, user, nil)
	apiresponses.RespondOK(c, sessionResponse{Token: token, User: profileOf(user)})
}

func (ac *Controller) handleGoogle(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	var req googleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondValidation(c, "missing idToken", err)
		return
	}

	user, isNew, token, err := ac.provider.SignInWithGoogle(c.Request.Context(), req.IDToken)
	if isNew {
		ac.sendWelcome(c, user)
	}
	if err != nil {
		ac.count("google_login", "error")
		switch {
		case errors.Is(err, identity.ErrEmailNotVerified), errors.Is(err, identity.ErrGoogleDisabled):
			ac.respondIdentityError(c, "sign in with Google", err)
		case errors.Is(err, identity.ErrInvalidToken):
			log.Infow("Rejected Google ID token", "error", err)
			apiresponses.RespondError(c, http.StatusUnauthorized, apiresponses.CodeInvalidToken, msgGoogleFailed)
		default:
			apiresponses.RespondInternalError(c, "sign in with Google", err, log)
		}
		return
	}
	ac.count("google_login", "ok")
	ac.emit(c, audit.EventAccountGoogleLogin, user, map[string]interface{}{"newUser": isNew})
	apiresponses.RespondOK(c, sessionResponse{Token: token, User: profileOf(user), NewUser: isNew})
}

func (ac *Controller) sendWelcome(c *gin.Context, user store.UserRecord) {
	log := system.GetReqLogger(c, ac.log)
	ac.emit(c, audit.EventAccountRegistered, user, nil)
	content, err := mail.RenderWelcome(mail.WelcomeMailParams{
		Name:         user.Name(),
		Email:        user.Email,
		BrandingName: ac.branding,
	})
	if err != nil {
		log.Errorw("Failed to render welcome email", "uid", user.UID, "error", err)
		return
	}
	if _, err := ac.outbox.Enqueue(c.Request.Context(), "welcome", user.Email, content); err != nil {
		log.Errorw("Failed to queue welcome email", "uid", user.UID, "error", err)
	}
}

func (ac *Controller) handlePasswordReset(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondValidation(c, "Invalid email format.", err)
		return
	}

	rec, err := ac.provider.SendPasswordReset(c.Request.Context(), req.Email)
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		// Same answer as for a known address.
		log.Debugw("Password reset requested for unknown email")
	case err != nil:
		ac.count("password_reset_request", "error")
		apiresponses.RespondInternalError(c, "send password reset email", err, log)
		return
	default:
		ac.emit(c, audit.EventPasswordResetAsked, store.UserRecord{Email: rec.To}, map[string]interface{}{"mailId": rec.ID})
	}
	ac.count("password_reset_request", "ok")
	apiresponses.RespondMessage(c, msgResetSent)
}

func (ac *Controller) handlePasswordResetConfirm(c *gin.Context) {
	var req passwordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondValidation(c, "invalid password reset form", err)
		return
	}
	if req.Password != req.ConfirmPassword {
		apiresponses.RespondBadRequestWithDetails(c, apiresponses.CodeValidation, msgPasswordMismatch, "confirmPassword")
		return
	}

	user, err := ac.provider.ResetPassword(c.Request.Context(), req.Token, req.Password)
	if err != nil {
		ac.count("password_reset", "error")
		ac.emit(c, audit.EventPasswordResetFailed, user, map[string]interface{}{"reason": err.Error()})
		ac.respondIdentityError(c, "reset password", err)
		return
	}
	ac.count("password_reset", "ok")
	ac.emit(c, audit.EventPasswordResetDone, user, nil)
	c.JSON(http.StatusOK, apiresponses.Message{Message: msgPasswordChanged, Redirect: "/login"})
}

// handleResendVerification signs the user in with email and password and
// queues a fresh verification link when the address is still unverified.
func (ac *Controller) handleResendVerification(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondValidation(c, "Invalid email format.", err)
		return
	}

	user, _, err := ac.provider.SignIn(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		apiresponses.RespondMessage(c, msgAlreadyVerified)
		return
	case errors.Is(err, identity.ErrEmailNotVerified):
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, identity.ErrWrongPassword):
		apiresponses.RespondError(c, http.StatusUnauthorized, apiresponses.CodeInvalidCreds, msgInvalidCredentials)
		return
	default:
		apiresponses.RespondInternalError(c, "check credentials", err, log)
		return
	}

	rec, err := ac.provider.SendEmailVerification(c.Request.Context(), user)
	if err != nil {
		ac.count("verification_resend", "error")
		apiresponses.RespondInternalError(c, "send verification email", err, log)
		return
	}
	ac.count("verification_resend", "ok")
	ac.emit(c, audit.EventEmailVerifySent, user, map[string]interface{}{"mailId": rec.ID})
	apiresponses.RespondMessage(c, msgVerificationSent)
}

// handleConfirmEmail is the target of the mailed link. Browsers are
// redirected to the login page; API clients asking for JSON get a body.
func (ac *Controller) handleConfirmEmail(c *gin.Context) {
	wantsJSON := strings.Contains(c.GetHeader("Accept"), "application/json")

	user, err := ac.provider.ConfirmEmail(c.Request.Context(), c.Query("token"))
	if err != nil {
		ac.count("email_verify", "error")
		if wantsJSON {
			ac.respondIdentityError(c, "verify email", err)
			return
		}
		if !errors.Is(err, identity.ErrInvalidToken) && !errors.Is(err, identity.ErrUserNotFound) {
			system.GetReqLogger(c, ac.log).Errorw("Failed to verify email", "error", err)
		}
		c.Redirect(http.StatusFound, ac.baseURL+VerifyEmailRoute+"?error=invalid_token")
		return
	}
	ac.count("email_verify", "ok")
	ac.emit(c, audit.EventEmailVerified, user, nil)
	if wantsJSON {
		c.JSON(http.StatusOK, apiresponses.Message{Message: msgEmailVerified, Redirect: "/login"})
		return
	}
	c.Redirect(http.StatusFound, ac.baseURL+"/login?verified=true")
}

func (ac *Controller) handleMe(c *gin.Context) {
	log := system.EnrichReqLoggerWithSession(c, system.GetReqLogger(c, ac.log))

	user, err := ac.provider.User(c.Request.Context(), c.GetString("uid"))
	if errors.Is(err, identity.ErrUserNotFound) {
		apiresponses.RespondError(c, http.StatusNotFound, apiresponses.CodeUserNotFound, msgNoUser)
		return
	}
	if err != nil {
		apiresponses.RespondInternalError(c, "load user", err, log)
		return
	}
	apiresponses.RespondOK(c, profileOf(user))
}

// respondIdentityError maps identity errors to HTTP responses.
func (ac *Controller) respondIdentityError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		apiresponses.RespondConflict(c, apiresponses.CodeEmailTaken, "Email is already registered.")
	case errors.Is(err, identity.ErrWeakPassword):
		apiresponses.RespondBadRequestWithDetails(c, apiresponses.CodeValidation, err.Error(), "password")
	case errors.Is(err, identity.ErrUserNotFound):
		apiresponses.RespondError(c, http.StatusNotFound, apiresponses.CodeUserNotFound, msgNoUser)
	case errors.Is(err, identity.ErrWrongPassword):
		apiresponses.RespondError(c, http.StatusUnauthorized, apiresponses.CodeInvalidCreds, msgWrongPassword)
	case errors.Is(err, identity.ErrEmailNotVerified):
		c.JSON(http.StatusForbidden, apiresponses.APIError{
			Error:   msgVerifyFirst,
			Code:    apiresponses.CodeEmailNotVerified,
			Details: VerifyEmailRoute,
		})
	case errors.Is(err, identity.ErrInvalidToken):
		apiresponses.RespondBadRequestWithDetails(c, apiresponses.CodeInvalidToken, msgInvalidLink, err.Error())
	case errors.Is(err, identity.ErrGoogleDisabled):
		apiresponses.RespondServiceUnavailable(c, "Google sign-in")
	default:
		apiresponses.RespondInternalError(c, operation, err, system.GetReqLogger(c, ac.log))
	}
}

func (ac *Controller) count(event, result string) {
	metrics.AccountEvents.WithLabelValues(event, result).Inc()
}

func (ac *Controller) emit(c *gin.Context, eventType audit.EventType, user store.UserRecord, details map[string]interface{}) {
	if ac.audit == nil {
		return
	}
	ac.audit.AccountEvent(c.Request.Context(), eventType, audit.Actor{
		User:      user.Email,
		UID:       user.UID,
		Provider:  user.Provider,
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}, details)
}
