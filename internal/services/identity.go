package services

import (
	"context"
	"errors"
	"strings"

	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/utils"
	"github.com/huangang/gatehouse/backend/pkg/logger"
)

type IdentityKind string

const (
	IdentityTrustedHeader IdentityKind = "trusted_header"
	IdentityDirectory     IdentityKind = "directory"
	IdentityLocal         IdentityKind = "local"
)

// Credentials is what the client presented for one login attempt.
type Credentials struct {
	Username      string
	Password      string
	TrustedHeader string
}

// Complete reports whether both a username and a password were submitted.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// Resolution is the outcome of asking one source: a user, or a reason it had none.
// Err carries a failure the source recovered from.
type Resolution struct {
	User   *models.User
	Reason string
	Err    error
}

func Resolved(user *models.User) Resolution { return Resolution{User: user} }

func Skipped(reason string) Resolution { return Resolution{Reason: reason} }

func (r Resolution) OK() bool { return r.User != nil }

// IdentitySource resolves credentials to a user. Only infrastructure failures
// are returned as errors; a non-match is a Skipped resolution.
type IdentitySource interface {
	Kind() IdentityKind
	Resolve(ctx context.Context, settings Settings, creds Credentials) (Resolution, error)
}

// DefaultSources returns the sources in the order they are consulted.
func DefaultSources(users *UserService, binder DirectoryBinder) []IdentitySource {
	return []IdentitySource{
		NewTrustedHeaderSource(users),
		NewDirectorySource(binder, users),
		NewLocalSource(users),
	}
}

// TrustedHeaderSource accepts the username asserted by a reverse proxy.
type TrustedHeaderSource struct {
	users *UserService
}

func NewTrustedHeaderSource(users *UserService) *TrustedHeaderSource {
	return &TrustedHeaderSource{users: users}
}

func (s *TrustedHeaderSource) Kind() IdentityKind { return IdentityTrustedHeader }

func (s *TrustedHeaderSource) Resolve(ctx context.Context, settings Settings, creds Credentials) (Resolution, error) {
	if !settings.RemoteUserEnabled {
		return Skipped("remote user login disabled"), nil
	}
	username := RemoteUsername(creds.TrustedHeader)
	if username == "" {
		return Skipped("no remote user header"), nil
	}

	user, err := s.users.FindActive(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return Skipped("remote user has no active account"), nil
	}
	if err != nil {
		return Resolution{}, err
	}
	return Resolved(user), nil
}

// RemoteUsername strips a DOMAIN\ prefix from a proxy-supplied username.
func RemoteUsername(header string) string {
	header = strings.TrimSpace(header)
	if i := strings.LastIndex(header, `\`); i >= 0 {
		header = header[i+1:]
	}
	return header
}

// DirectorySource binds against LDAP and keeps a local copy of the account.
type DirectorySource struct {
	binder DirectoryBinder
	users  *UserService
}

func NewDirectorySource(binder DirectoryBinder, users *UserService) *DirectorySource {
	return &DirectorySource{binder: binder, users: users}
}

func (s *DirectorySource) Kind() IdentityKind { return IdentityDirectory }

// Resolve never returns directory failures: they are logged and skipped so the
// local store still gets a chance.
func (s *DirectorySource) Resolve(ctx context.Context, settings Settings, creds Credentials) (Resolution, error) {
	if !settings.LDAPEnabled {
		return Skipped("directory disabled"), nil
	}
	if !creds.Complete() {
		return Skipped("no credentials"), nil
	}

	attrs, err := s.binder.Bind(ctx, settings.LDAP, creds.Username, creds.Password)
	if err != nil {
		var dirErr *DirectoryError
		if !errors.As(err, &dirErr) {
			dirErr = &DirectoryError{Kind: DirectoryBindFailed, Err: err}
		}
		return s.skip(creds.Username, dirErr), nil
	}

	user, err := s.users.SyncFromDirectory(ctx, creds.Username, creds.Password, attrs, settings.LDAPPasswordSync)
	if err != nil {
		return s.skip(creds.Username, &DirectoryError{Kind: DirectoryProvisionFailed, Err: err}), nil
	}
	return Resolved(user), nil
}

func (s *DirectorySource) skip(username string, err *DirectoryError) Resolution {
	logger.Debug().
		Str("username", username).
		Str("kind", string(err.Kind)).
		Err(err.Err).
		Msg("[Directory] falling back to local login")
	return Resolution{Reason: "directory unavailable", Err: err}
}

// LocalSource checks the bcrypt hash stored on the user row.
type LocalSource struct {
	users *UserService
}

func NewLocalSource(users *UserService) *LocalSource {
	return &LocalSource{users: users}
}

func (s *LocalSource) Kind() IdentityKind { return IdentityLocal }

func (s *LocalSource) Resolve(ctx context.Context, _ Settings, creds Credentials) (Resolution, error) {
	if !creds.Complete() {
		return Skipped("no credentials"), nil
	}

	user, err := s.users.FindActive(ctx, creds.Username)
	if errors.Is(err, ErrUserNotFound) {
		return Skipped("unknown user"), nil
	}
	if err != nil {
		return Resolution{}, err
	}
	if !user.CanAuthenticate() || !utils.CheckPassword(creds.Password, user.Password) {
		return Skipped("password mismatch"), nil
	}
	return Resolved(user), nil
}
