package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/middleware"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"github.com/huangang/gatehouse/backend/pkg/response"
)

const (
	msgInvalidCredentials  = "Invalid username or password."
	msgCredentialsRequired = "Username and password are required."
	msgLoginDisabled       = "Login with a username and password is disabled."
	msgUnavailable         = "Sign-in is temporarily unavailable. Please try again."
)

type AuthHandler struct {
	auth             *services.AuthService
	sessions         *services.SessionService
	settings         *services.SystemConfigService
	twoFactor        *services.TwoFactorService
	remoteUserHeader string
}

func NewAuthHandler(
	auth *services.AuthService,
	sessions *services.SessionService,
	settings *services.SystemConfigService,
	twoFactor *services.TwoFactorService,
	remoteUserHeader string,
) *AuthHandler {
	return &AuthHandler{
		auth:             auth,
		sessions:         sessions,
		settings:         settings,
		twoFactor:        twoFactor,
		remoteUserHeader: remoteUserHeader,
	}
}

func (h *AuthHandler) baseRequest(c *gin.Context) *services.LoginRequest {
	return &services.LoginRequest{
		Origin:        c.ClientIP(),
		TrustedHeader: c.GetHeader(h.remoteUserHeader),
		UserAgent:     c.Request.UserAgent(),
	}
}

// ShowLogin serves the login page data. A request already vouched for by the
// proxy header is signed in straight away.
// GET /login
func (h *AuthHandler) ShowLogin(c *gin.Context) {
	if middleware.GetClaims(c) != nil {
		c.Redirect(http.StatusFound, middleware.PopReturnTo(c))
		return
	}

	res, err := h.auth.LoginFromHeader(c.Request.Context(), h.baseRequest(c))
	if err == nil {
		h.signedIn(c, res)
		return
	}
	if !errors.Is(err, services.ErrNotAuthenticated) {
		logger.Error().Err(err).Msg("[Auth] Remote user login failed")
	}

	settings, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		response.ServerError(c, "failed to load settings")
		return
	}

	data := gin.H{
		"site_name":           settings.SiteName,
		"ldap_enabled":        settings.LDAPEnabled,
		"remote_user_enabled": settings.RemoteUserEnabled,
		"flash":               middleware.PopFlash(c),
	}
	if settings.LoginCommonDisabled {
		response.Error(c, response.NewForbidden(msgLoginDisabled).WithData(data))
		return
	}
	response.Success(c, data)
}

// checkbox accepts "on", "1" or "true" from a form and a bool from JSON.
type checkbox bool

func (b *checkbox) UnmarshalParam(v string) error {
	*b = checkbox(isTruthy(v))
	return nil
}

func (b *checkbox) UnmarshalJSON(data []byte) error {
	*b = checkbox(isTruthy(strings.Trim(string(data), `"`)))
	return nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}

type loginForm struct {
	Username string   `form:"username" json:"username"`
	Password string   `form:"password" json:"password"`
	Remember checkbox `form:"remember" json:"remember"`
}

// Login authenticates a submitted username and password.
// POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		h.loginFailed(c, response.NewBadRequest(msgCredentialsRequired))
		return
	}
	req := h.baseRequest(c)
	req.Username = form.Username
	req.Password = form.Password
	req.Remember = bool(form.Remember)

	res, err := h.auth.Authenticate(c.Request.Context(), req)
	if err != nil {
		var locked *services.LockedOutError
		switch {
		case errors.As(err, &locked):
			h.loginFailed(c, response.NewTooManyRequests(
				fmt.Sprintf("Too many login attempts. Please try again in %d minutes.", locked.Minutes()),
				int(locked.RetryAfter.Seconds())+1))
		case errors.Is(err, services.ErrLoginDisabled):
			h.loginFailed(c, response.NewForbidden(msgLoginDisabled))
		case errors.Is(err, services.ErrCredentialsRequired):
			h.loginFailed(c, response.NewBadRequest(msgCredentialsRequired))
		case errors.Is(err, services.ErrInvalidCredentials):
			h.loginFailed(c, response.NewUnauthorized(msgInvalidCredentials))
		default:
			logger.Error().Err(err).Str("username", req.Username).Msg("[Auth] Login failed")
			h.loginFailed(c, response.NewServiceUnavailable(msgUnavailable))
		}
		return
	}

	h.signedIn(c, res)
}

// signedIn sets the session cookie and sends the user on: to the second
// factor when one is required, otherwise back where they came from.
func (h *AuthHandler) signedIn(c *gin.Context, res *services.LoginResult) {
	middleware.SetSessionCookie(c, h.sessions, res.Session)

	target := ""
	if h.twoFactor.Required(res.Settings, res.User) {
		target = "/two-factor"
		if !res.User.HasTwoFactorDevice() {
			target = "/two-factor-enroll"
		}
	} else {
		target = middleware.PopReturnTo(c)
	}

	if middleware.WantsJSON(c) {
		response.Success(c, gin.H{"redirect": target, "user": res.User})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *AuthHandler) loginFailed(c *gin.Context, err *response.AppError) {
	if err.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	if middleware.WantsJSON(c) {
		response.Error(c, err)
		return
	}
	middleware.SetFlash(c, err.Message, h.sessions.Secure())
	c.Redirect(http.StatusFound, "/login")
}

// Logout ends the session.
// GET/POST /logout
func (h *AuthHandler) Logout(c *gin.Context) {
	target, err := h.auth.Logout(c.Request.Context(), middleware.GetClaims(c), h.baseRequest(c))
	if err != nil {
		logger.Error().Err(err).Msg("[Auth] Logout settings lookup failed")
		target = "/login"
	}
	middleware.ClearSessionCookie(c, h.sessions)

	if middleware.WantsJSON(c) {
		response.Success(c, gin.H{"redirect": target})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Me returns the signed-in user.
// GET /api/me
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		response.Unauthorized(c, "authentication required")
		return
	}
	response.Success(c, gin.H{
		"user":               user,
		"full_name":          user.FullName(),
		"two_factor_enabled": user.HasTwoFactorDevice(),
	})
}
