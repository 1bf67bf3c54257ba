package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/utils"
)

// Session is a signed session cookie value and what it asserts.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  utils.Identity
}

// MaxAge is the cookie lifetime in seconds.
func (s *Session) MaxAge() int {
	return int(time.Until(s.ExpiresAt).Seconds())
}

const revokedSessionPrefix = "session:"

// SessionService signs session tokens and remembers which ones were ended by
// logout. Revocations share the attempt store backend, keyed by token id, and
// expire when the token would have.
type SessionService struct {
	cfg     config.SessionConfig
	revoked AttemptStore
	now     func() time.Time
}

// NewSessionService keeps revocations in memory when revoked is nil.
func NewSessionService(cfg config.SessionConfig, revoked AttemptStore) *SessionService {
	if revoked == nil {
		revoked = NewMemoryAttemptStore()
	}
	utils.SetJWTSecret(cfg.Secret)
	return &SessionService{cfg: cfg, revoked: revoked, now: time.Now}
}

func (s *SessionService) CookieName() string { return s.cfg.CookieName }

func (s *SessionService) Secure() bool { return s.cfg.Secure }

// Issue signs a session for user. remember extends the lifetime.
func (s *SessionService) Issue(user *models.User, remember, twoFactorVerified bool) (*Session, error) {
	return s.issue(utils.Identity{
		UserID:            user.ID,
		Username:          user.Username,
		Remember:          remember,
		TwoFactorVerified: twoFactorVerified,
	})
}

func (s *SessionService) issue(id utils.Identity) (*Session, error) {
	ttl := s.cfg.TTL(id.Remember)
	token, err := utils.GenerateToken(id, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &Session{
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
		Identity:  id,
	}, nil
}

// Parse returns ErrNotAuthenticated for a missing, forged or expired token.
// It does not consult revocations; requests go through Validate.
func (s *SessionService) Parse(token string) (*utils.Claims, error) {
	claims, err := utils.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	return claims, nil
}

// Validate is Parse plus a check that the session has not been revoked.
func (s *SessionService) Validate(ctx context.Context, token string) (*utils.Claims, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: token has no id", ErrNotAuthenticated)
	}
	n, _, err := s.revoked.Get(ctx, revokedSessionPrefix+claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check session revocation: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: session revoked", ErrNotAuthenticated)
	}
	return claims, nil
}

// Revoke ends a session before its expiry. Nil or already expired claims are a no-op.
func (s *SessionService) Revoke(ctx context.Context, claims *utils.Claims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	// the window must outlive the token, so round up a second
	_, err := s.revoked.Increment(ctx, revokedSessionPrefix+claims.ID, remaining+time.Second)
	return err
}

// MarkTwoFactorVerified re-issues the session carrying the verified marker
// and revokes the token it replaces.
func (s *SessionService) MarkTwoFactorVerified(ctx context.Context, claims *utils.Claims) (*Session, error) {
	id := claims.Identity
	id.TwoFactorVerified = true
	session, err := s.issue(id)
	if err != nil {
		return nil, err
	}
	if err := s.Revoke(ctx, claims); err != nil {
		return nil, fmt.Errorf("revoke unverified session: %w", err)
	}
	return session, nil
}

// SafeReturnPath keeps only same-site relative paths and falls back to "/".
func SafeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, `/\`) {
		return "/"
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return p
}
