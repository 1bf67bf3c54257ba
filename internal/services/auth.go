package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/utils"
	"github.com/huangang/gatehouse/backend/pkg/logger"
)

// LoginRequest is one sign-in attempt. Origin is the client IP.
type LoginRequest struct {
	Username      string
	Password      string
	Remember      bool
	Origin        string
	TrustedHeader string
	UserAgent     string
}

type LoginResult struct {
	User     *models.User
	Source   IdentityKind
	Session  *Session
	Settings Settings
}

type AuthService struct {
	settings *SystemConfigService
	users    *UserService
	sources  []IdentitySource
	throttle *Throttle
	sessions *SessionService
	events   EventRecorder
	now      func() time.Time
}

func NewAuthService(
	settings *SystemConfigService,
	users *UserService,
	sources []IdentitySource,
	throttle *Throttle,
	sessions *SessionService,
	events EventRecorder,
) *AuthService {
	return &AuthService{
		settings: settings,
		users:    users,
		sources:  sources,
		throttle: throttle,
		sessions: sessions,
		events:   events,
		now:      time.Now,
	}
}

// Authenticate runs one form login: disabled check, lockout check, then each
// identity source in order until one resolves a user.
func (s *AuthService) Authenticate(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if settings.LoginCommonDisabled {
		s.record(ctx, req, nil, EventLoginDisabled, LevelWarning, "", "form login is disabled")
		return nil, ErrLoginDisabled
	}

	key := ThrottleKey(req.Username, req.Origin)
	if err := s.throttle.Check(ctx, key); err != nil {
		var locked *LockedOutError
		if errors.As(err, &locked) {
			s.record(ctx, req, nil, EventLoginLockedOut, LevelWarning, "", locked.Error())
		}
		return nil, err
	}

	creds := Credentials{
		Username:      req.Username,
		Password:      req.Password,
		TrustedHeader: req.TrustedHeader,
	}
	var attempts int64
	reserved := false
	for _, src := range s.sources {
		// the proxy header is not a guess; everything after it is counted
		// up front so parallel requests cannot outrun the lockout
		if src.Kind() != IdentityTrustedHeader && !reserved && creds.Complete() {
			attempts, err = s.throttle.Reserve(ctx, key)
			if err != nil {
				var locked *LockedOutError
				if errors.As(err, &locked) {
					s.record(ctx, req, nil, EventLoginLockedOut, LevelWarning, "", locked.Error())
				}
				return nil, err
			}
			reserved = true
		}

		res, err := src.Resolve(ctx, settings, creds)
		if err != nil {
			return nil, fmt.Errorf("%s identity source: %w", src.Kind(), err)
		}
		if res.Err != nil {
			s.record(ctx, req, nil, EventDirectoryFallback, LevelWarning, src.Kind(), res.Err.Error())
		}
		if !res.OK() {
			continue
		}

		if reserved {
			if err := s.throttle.Clear(ctx, key); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("[Auth] Failed to clear throttle")
			}
		}
		// a proxy-asserted identity always persists
		remember := req.Remember || src.Kind() == IdentityTrustedHeader
		return s.complete(ctx, req, settings, res.User, src.Kind(), remember)
	}

	if !reserved {
		return nil, ErrCredentialsRequired
	}

	s.record(ctx, req, nil, EventLoginFailed, LevelWarning, "",
		fmt.Sprintf("invalid credentials (%d of %d attempts)", attempts, s.throttle.MaxAttempts()))
	return nil, ErrInvalidCredentials
}

// LoginFromHeader signs in purely on the trusted proxy header. It returns
// ErrNotAuthenticated when the header does not resolve a user.
func (s *AuthService) LoginFromHeader(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	for _, src := range s.sources {
		if src.Kind() != IdentityTrustedHeader {
			continue
		}
		res, err := src.Resolve(ctx, settings, Credentials{TrustedHeader: req.TrustedHeader})
		if err != nil {
			return nil, fmt.Errorf("%s identity source: %w", src.Kind(), err)
		}
		if res.OK() {
			return s.complete(ctx, req, settings, res.User, IdentityTrustedHeader, true)
		}
	}
	return nil, ErrNotAuthenticated
}

func (s *AuthService) complete(ctx context.Context, req *LoginRequest, settings Settings, user *models.User, source IdentityKind, remember bool) (*LoginResult, error) {
	if err := s.users.TouchLastLogin(ctx, user, s.now()); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}

	session, err := s.sessions.Issue(user, remember, false)
	if err != nil {
		return nil, err
	}

	s.record(ctx, req, user, EventLoginSucceeded, LevelInfo, source, "signed in")
	return &LoginResult{
		User:     user,
		Source:   source,
		Session:  session,
		Settings: settings,
	}, nil
}

// Logout revokes the session, records the sign-out and returns where the
// client should go next.
func (s *AuthService) Logout(ctx context.Context, claims *utils.Claims, req *LoginRequest) (string, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	if claims != nil {
		if err := s.sessions.Revoke(ctx, claims); err != nil {
			logger.Error().Err(err).Str("username", claims.Username).Msg("[Auth] Failed to revoke session")
		}
		uid := claims.UserID
		s.events.Record(ctx, &models.AuthEvent{
			Level:     LevelInfo,
			Event:     EventLogout,
			Username:  claims.Username,
			UserID:    &uid,
			IP:        req.Origin,
			UserAgent: req.UserAgent,
			Message:   "signed out",
		})
	}
	return LogoutRedirect(settings), nil
}

// LogoutRedirect is the proxy's logout page when remote-user login is on and
// one is configured, otherwise the login page.
func LogoutRedirect(settings Settings) string {
	if settings.RemoteUserEnabled && settings.RemoteUserLogoutURL != "" {
		return settings.RemoteUserLogoutURL
	}
	return "/login"
}

// ClearThrottle lifts a lockout from the command line.
func (s *AuthService) ClearThrottle(ctx context.Context, username, origin string) error {
	if err := s.throttle.Clear(ctx, ThrottleKey(username, origin)); err != nil {
		return err
	}
	s.events.Record(ctx, &models.AuthEvent{
		Level:    LevelInfo,
		Event:    EventThrottleCleared,
		Username: username,
		IP:       origin,
		Message:  "lockout cleared by administrator",
	})
	return nil
}

func (s *AuthService) record(ctx context.Context, req *LoginRequest, user *models.User, event, level string, source IdentityKind, message string) {
	e := &models.AuthEvent{
		Level:     level,
		Event:     event,
		Username:  req.Username,
		Source:    string(source),
		IP:        req.Origin,
		UserAgent: req.UserAgent,
		Message:   message,
	}
	if user != nil {
		id := user.ID
		e.UserID = &id
		e.Username = user.Username
	}
	s.events.Record(ctx, e)
}
