package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/huangang/gatehouse/backend/internal/utils"
	"github.com/huangang/gatehouse/backend/pkg/logger"
	"github.com/huangang/gatehouse/backend/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextClaims   = "session_claims"
	ContextUser     = "user"
)

// SessionRequired admits requests carrying a valid session cookie for an
// active user. Browsers are sent to /login and brought back afterwards.
func SessionRequired(sessions *services.SessionService, users *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(sessions.CookieName())
		claims, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			if token != "" {
				ClearSessionCookie(c, sessions)
			}
			denySession(c, sessions, "authentication required")
			return
		}

		user, err := users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil || !user.CanAuthenticate() {
			logger.Debug().Uint("user_id", claims.UserID).Msg("[Session] user gone or deactivated")
			ClearSessionCookie(c, sessions)
			denySession(c, sessions, "authentication required")
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUsername, user.Username)
		c.Set(ContextClaims, claims)
		c.Set(ContextUser, user)

		c.Next()
	}
}

// OptionalSession loads the session when one is present but never blocks.
func OptionalSession(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(sessions.CookieName()); err == nil {
			if claims, err := sessions.Validate(c.Request.Context(), token); err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextUsername, claims.Username)
				c.Set(ContextClaims, claims)
			}
		}
		c.Next()
	}
}

func denySession(c *gin.Context, sessions *services.SessionService, msg string) {
	if WantsJSON(c) {
		response.Abort(c, response.NewUnauthorized(msg))
		return
	}
	if c.Request.Method == http.MethodGet {
		SetReturnTo(c, c.Request.URL.RequestURI(), sessions.Secure())
	}
	c.Redirect(http.StatusFound, "/login")
	c.Abort()
}

// TwoFactorRequired must run after SessionRequired. It holds back sessions
// that have not passed the second factor when settings demand one.
func TwoFactorRequired(settings *services.SystemConfigService, twoFactor *services.TwoFactorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		user := GetUser(c)
		if claims == nil || user == nil {
			response.Abort(c, response.NewUnauthorized("authentication required"))
			return
		}

		snapshot, err := settings.Snapshot(c.Request.Context())
		if err != nil {
			logger.Errorf("[TwoFactor] Failed to load settings: %v", err)
			response.Abort(c, response.NewServerError("failed to load settings"))
			return
		}

		if claims.TwoFactorVerified || !twoFactor.Required(snapshot, user) {
			c.Next()
			return
		}

		target := "/two-factor"
		if !user.HasTwoFactorDevice() {
			target = "/two-factor-enroll"
		}
		if WantsJSON(c) {
			response.Abort(c, response.NewForbidden("two-factor verification required").WithData(gin.H{"redirect": target}))
			return
		}
		c.Redirect(http.StatusFound, target)
		c.Abort()
	}
}

// WantsJSON reports whether the client expects JSON instead of a redirect.
func WantsJSON(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/") ||
		strings.Contains(c.GetHeader("Accept"), "application/json")
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetUsername gets the current username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		return username.(string)
	}
	return ""
}

func GetClaims(c *gin.Context) *utils.Claims {
	if v, exists := c.Get(ContextClaims); exists {
		return v.(*utils.Claims)
	}
	return nil
}

func GetUser(c *gin.Context) *models.User {
	if v, exists := c.Get(ContextUser); exists {
		return v.(*models.User)
	}
	return nil
}
