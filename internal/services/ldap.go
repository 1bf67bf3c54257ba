package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/huangang/gatehouse/backend/internal/config"
)

// DirectoryAttributes is what a successful directory bind yields.
type DirectoryAttributes struct {
	DN        string
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// DirectoryBinder verifies a username and password against a directory.
type DirectoryBinder interface {
	Bind(ctx context.Context, settings LDAPSettings, username, password string) (*DirectoryAttributes, error)
}

type LDAPService struct {
	timeout            time.Duration
	insecureSkipVerify bool
}

func NewLDAPService(cfg config.LDAPConfig) *LDAPService {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LDAPService{
		timeout:            timeout,
		insecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

// Bind looks the user up with the service account and then binds as that
// entry. Every failure is a *DirectoryError of kind DirectoryBindFailed.
func (s *LDAPService) Bind(ctx context.Context, settings LDAPSettings, username, password string) (*DirectoryAttributes, error) {
	if settings.Host == "" || settings.BaseDN == "" {
		return nil, bindFailed("directory is not configured")
	}
	// an empty password would be an unauthenticated bind, which many servers accept
	if username == "" || password == "" {
		return nil, bindFailed("username and password are required")
	}

	filter, err := UserSearchFilter(settings.UserFilter, username)
	if err != nil {
		return nil, bindFailed("%w", err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, bindFailed("deadline exceeded before dial")
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := s.dial(settings, timeout)
	if err != nil {
		return nil, bindFailed("connect to %s: %w", settings.Host, err)
	}
	defer conn.Close()
	conn.SetTimeout(timeout)

	if settings.BindDN != "" {
		if err := conn.Bind(settings.BindDN, settings.BindPassword); err != nil {
			return nil, bindFailed("service account bind: %w", err)
		}
	}

	req := ldap.NewSearchRequest(
		settings.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, int(timeout/time.Second), false,
		filter,
		searchAttributes(settings),
		nil,
	)

	result, err := conn.Search(req)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		return nil, bindFailed("search: %w", err)
	}
	if result == nil || len(result.Entries) == 0 {
		return nil, bindFailed("user %q not found", username)
	}
	if len(result.Entries) > 1 {
		return nil, bindFailed("user %q is ambiguous", username)
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, bindFailed("user bind: %w", err)
	}

	return mapEntry(entry, settings, username), nil
}

const defaultUserFilter = "(uid=%s)"

// UserSearchFilter puts the escaped username into the single %s of filter
// and checks the result parses. An empty filter means (uid=%s).
func UserSearchFilter(filter, username string) (string, error) {
	if filter == "" {
		filter = defaultUserFilter
	}
	if strings.Count(filter, "%s") != 1 || strings.Count(filter, "%") != 1 {
		return "", fmt.Errorf("user filter %q must contain exactly one %%s and no other %%", filter)
	}
	out := strings.Replace(filter, "%s", ldap.EscapeFilter(username), 1)
	if _, err := ldap.CompileFilter(out); err != nil {
		return "", fmt.Errorf("user filter %q: %w", filter, err)
	}
	return out, nil
}

func (s *LDAPService) dial(settings LDAPSettings, timeout time.Duration) (*ldap.Conn, error) {
	addr, serverName, err := directoryURL(settings)
	if err != nil {
		return nil, err
	}
	return ldap.DialURL(addr,
		ldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
		ldap.DialWithTLSConfig(&tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: s.insecureSkipVerify,
		}),
	)
}

// directoryURL builds the dial URL. A full URL in ldap_host wins over the
// port and ssl settings.
func directoryURL(settings LDAPSettings) (string, string, error) {
	if strings.Contains(settings.Host, "://") {
		u, err := url.Parse(settings.Host)
		if err != nil {
			return "", "", err
		}
		return settings.Host, u.Hostname(), nil
	}

	scheme := "ldap"
	port := settings.Port
	if settings.UseSSL {
		scheme = "ldaps"
	}
	if port == 0 {
		port = 389
		if settings.UseSSL {
			port = 636
		}
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(settings.Host, strconv.Itoa(port))), settings.Host, nil
}

func searchAttributes(settings LDAPSettings) []string {
	attrs := []string{"dn", "uid", "sAMAccountName"}
	for _, a := range []string{settings.EmailAttr, settings.FirstNameAttr, settings.LastNameAttr} {
		if a != "" {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

func mapEntry(entry *ldap.Entry, settings LDAPSettings, username string) *DirectoryAttributes {
	attrs := &DirectoryAttributes{
		DN:       entry.DN,
		Username: entry.GetAttributeValue("uid"),
	}
	// Active Directory
	if attrs.Username == "" {
		attrs.Username = entry.GetAttributeValue("sAMAccountName")
	}
	if attrs.Username == "" {
		attrs.Username = username
	}
	if settings.EmailAttr != "" {
		attrs.Email = entry.GetAttributeValue(settings.EmailAttr)
	}
	if settings.FirstNameAttr != "" {
		attrs.FirstName = entry.GetAttributeValue(settings.FirstNameAttr)
	}
	if settings.LastNameAttr != "" {
		attrs.LastName = entry.GetAttributeValue(settings.LastNameAttr)
	}
	return attrs
}
