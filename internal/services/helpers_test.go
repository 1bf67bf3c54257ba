package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/testutil"
	"gorm.io/gorm"
)

type fakeBinder struct {
	attrs *DirectoryAttributes
	err   error
	calls int
}

func (f *fakeBinder) Bind(_ context.Context, _ LDAPSettings, username, _ string) (*DirectoryAttributes, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.attrs != nil {
		return f.attrs, nil
	}
	return &DirectoryAttributes{Username: username}, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []*models.AuthEvent
}

func (r *recordedEvents) Record(_ context.Context, e *models.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type authFixture struct {
	db       *gorm.DB
	auth     *AuthService
	users    *UserService
	binder   *fakeBinder
	store    *MemoryAttemptStore
	throttle *Throttle
	clock    *fakeClock
	events   *recordedEvents
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	clock := newFakeClock()

	store := NewMemoryAttemptStore()
	store.now = clock.Now

	users := NewUserService(db)
	binder := &fakeBinder{}
	throttle := NewThrottle(store, 3, 15*time.Minute)
	events := &recordedEvents{}
	sessions := NewSessionService(config.SessionConfig{
		Secret:       "test-secret",
		CookieName:   "gatehouse_session",
		ExpireHours:  12,
		RememberDays: 30,
	}, NewMemoryAttemptStore())

	auth := NewAuthService(NewSystemConfigService(db), users, DefaultSources(users, binder), throttle, sessions, events)
	auth.now = clock.Now

	return &authFixture{
		db:       db,
		auth:     auth,
		users:    users,
		binder:   binder,
		store:    store,
		throttle: throttle,
		clock:    clock,
		events:   events,
	}
}

func (f *authFixture) login(username, password string) (*LoginResult, error) {
	return f.auth.Authenticate(context.Background(), &LoginRequest{
		Username: username,
		Password: password,
		Origin:   "10.0.0.1",
	})
}
