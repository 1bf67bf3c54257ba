package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/middleware"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/huangang/gatehouse/backend/internal/testutil"
	"gorm.io/gorm"
)

const testCookie = "gatehouse_session"

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	db        *gorm.DB
	users     *services.UserService
	sessions  *services.SessionService
	twoFactor *services.TwoFactorService
	events    *services.AuthEventService
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)

	users := services.NewUserService(db)
	settings := services.NewSystemConfigService(db)
	sessions := services.NewSessionService(config.SessionConfig{
		Secret:       "test-secret-for-handler-testing",
		CookieName:   testCookie,
		ExpireHours:  1,
		RememberDays: 7,
	}, services.NewMemoryAttemptStore())
	twoFactor := services.NewTwoFactorService(users, config.TwoFactorConfig{Issuer: "Gatehouse", Skew: 1})
	events := services.NewAuthEventService(db)
	throttle := services.NewThrottle(services.NewMemoryAttemptStore(), 3, 15*time.Minute)
	sources := services.DefaultSources(users, services.NewLDAPService(config.LDAPConfig{}))
	auth := services.NewAuthService(settings, users, sources, throttle, sessions, events)

	authHandler := NewAuthHandler(auth, sessions, settings, twoFactor, "X-Remote-User")
	tfHandler := NewTwoFactorHandler(twoFactor, sessions, settings, events)
	eventHandler := NewAuthEventHandler(events)

	r := gin.New()
	r.GET("/login", middleware.OptionalSession(sessions), authHandler.ShowLogin)
	r.POST("/login", authHandler.Login)
	r.GET("/logout", middleware.OptionalSession(sessions), authHandler.Logout)
	r.POST("/logout", middleware.OptionalSession(sessions), authHandler.Logout)

	tf := r.Group("/", middleware.SessionRequired(sessions, users))
	tf.GET("/two-factor-enroll", tfHandler.Enroll)
	tf.GET("/two-factor", tfHandler.Prompt)
	tf.POST("/two-factor", tfHandler.Verify)

	api := r.Group("/api", middleware.SessionRequired(sessions, users), middleware.TwoFactorRequired(settings, twoFactor))
	api.GET("/me", authHandler.Me)
	api.GET("/auth-events", eventHandler.List)

	return &fixture{
		db:        db,
		users:     users,
		sessions:  sessions,
		twoFactor: twoFactor,
		events:    events,
		router:    r,
	}
}

type request struct {
	method  string
	path    string
	form    url.Values
	json    string
	headers map[string]string
	cookies []*http.Cookie
}

func (f *fixture) do(r request) *httptest.ResponseRecorder {
	var body *strings.Reader
	switch {
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
	case r.json != "":
		body = strings.NewReader(r.json)
	default:
		body = strings.NewReader("")
	}

	req, _ := http.NewRequest(r.method, r.path, body)
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if r.json != "" {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) postLogin(username, password string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return f.do(request{
		method:  "POST",
		path:    "/login",
		form:    url.Values{"username": {username}, "password": {password}},
		cookies: cookies,
	})
}

// signIn logs in through the form and returns the session cookie.
func (f *fixture) signIn(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	w := f.postLogin(username, password)
	if w.Code != http.StatusFound {
		t.Fatalf("login: expected status %d, got %d", http.StatusFound, w.Code)
	}
	c := findCookie(w, testCookie)
	if c == nil || c.Value == "" {
		t.Fatal("login: session cookie not set")
	}
	return c
}

func (f *fixture) eventNames(t *testing.T) []string {
	t.Helper()
	var rows []models.AuthEvent
	if err := f.db.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Event)
	}
	return names
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func flashOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	c := findCookie(w, middleware.FlashCookie)
	if c == nil {
		return ""
	}
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		t.Fatalf("flash cookie: %v", err)
	}
	return msg
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
