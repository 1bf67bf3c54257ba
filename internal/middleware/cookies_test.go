package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestFlash_RoundTrip(t *testing.T) {
	router := gin.New()
	router.GET("/set", func(c *gin.Context) {
		SetFlash(c, "Too many login attempts, retry in 3 minutes", false)
		c.Status(http.StatusNoContent)
	})
	router.GET("/get", func(c *gin.Context) {
		c.String(http.StatusOK, PopFlash(c))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/set", nil)
	router.ServeHTTP(w, req)
	flash := findCookie(w, FlashCookie)
	if flash == nil {
		t.Fatal("flash cookie not set")
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/get", nil)
	req.AddCookie(flash)
	router.ServeHTTP(w, req)

	if w.Body.String() != "Too many login attempts, retry in 3 minutes" {
		t.Errorf("PopFlash() = %q", w.Body.String())
	}
	if c := findCookie(w, FlashCookie); c == nil || c.MaxAge >= 0 {
		t.Error("flash should be cleared after reading")
	}
}

func TestPopReturnTo(t *testing.T) {
	tests := []struct {
		name     string
		cookie   string
		expected string
	}{
		{"none", "", "/"},
		{"relative", "/hardware/12", "/hardware/12"},
		{"offsite", "https://evil.example.com/", "/"},
		{"protocol relative", "//evil.example.com", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request, _ = http.NewRequest("GET", "/", nil)
			if tt.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: ReturnToCookie, Value: url.QueryEscape(tt.cookie)})
			}

			if got := PopReturnTo(c); got != tt.expected {
				t.Errorf("PopReturnTo() = %q, expected %q", got, tt.expected)
			}
		})
	}
}
