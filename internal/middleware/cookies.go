package middleware

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/services"
)

const (
	FlashCookie    = "flash"
	ReturnToCookie = "return_to"

	shortCookieAge = 300
)

func setCookie(c *gin.Context, name, value string, maxAge int, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", secure, true)
}

func SetSessionCookie(c *gin.Context, sessions *services.SessionService, s *services.Session) {
	setCookie(c, sessions.CookieName(), s.Token, s.MaxAge(), sessions.Secure())
}

func ClearSessionCookie(c *gin.Context, sessions *services.SessionService) {
	setCookie(c, sessions.CookieName(), "", -1, sessions.Secure())
}

// SetFlash leaves a one-shot message for the next page.
func SetFlash(c *gin.Context, msg string, secure bool) {
	setCookie(c, FlashCookie, url.QueryEscape(msg), shortCookieAge, secure)
}

// PopFlash returns and clears the pending flash message.
func PopFlash(c *gin.Context) string {
	raw, err := c.Cookie(FlashCookie)
	if err != nil || raw == "" {
		return ""
	}
	setCookie(c, FlashCookie, "", -1, false)
	msg, err := url.QueryUnescape(raw)
	if err != nil {
		return ""
	}
	return msg
}

func SetReturnTo(c *gin.Context, path string, secure bool) {
	setCookie(c, ReturnToCookie, url.QueryEscape(path), shortCookieAge, secure)
}

// PopReturnTo returns the remembered path, or "/" when none was stored or it
// points off-site.
func PopReturnTo(c *gin.Context) string {
	raw, err := c.Cookie(ReturnToCookie)
	if err != nil || raw == "" {
		return "/"
	}
	setCookie(c, ReturnToCookie, "", -1, false)
	path, err := url.QueryUnescape(raw)
	if err != nil {
		return "/"
	}
	return services.SafeReturnPath(path)
}
