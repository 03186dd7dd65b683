package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// DirectoryAuthenticator validates credentials against an external identity
// directory. It answers exactly one question: is this username/password pair
// valid. It never supplies authorization data; roles always come from the
// credential store.
type DirectoryAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// LDAPAuthenticator authenticates by performing a simple bind as the user.
// A successful bind means the credentials are valid.
type LDAPAuthenticator struct {
	url        string
	userDNTmpl string
	timeout    time.Duration
	dial       func(ctx context.Context) (ldapConn, error)
}

type ldapConn interface {
	Bind(username, password string) error
	Close() error
}

// NewLDAPAuthenticator constructs an authenticator for the given server URL
// (ldap:// or ldaps://) and user DN template containing a single %s for the
// username, e.g. "uid=%s,ou=people,dc=example,dc=org".
func NewLDAPAuthenticator(url, userDNTmpl string, timeout time.Duration) (*LDAPAuthenticator, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("auth: directory url is required")
	}
	if !strings.Contains(userDNTmpl, "%s") {
		return nil, errors.New("auth: directory user DN template must contain %s")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &LDAPAuthenticator{
		url:        url,
		userDNTmpl: userDNTmpl,
		timeout:    timeout,
	}
	a.dial = a.dialLDAP
	return a, nil
}

func (a *LDAPAuthenticator) dialLDAP(ctx context.Context) (ldapConn, error) {
	conn, err := ldap.DialURL(a.url, ldap.DialWithDialer(dialerFromContext(ctx, a.timeout)))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(a.timeout)
	return conn, nil
}

func dialerFromContext(ctx context.Context, timeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	return d
}

// Authenticate binds as the user. Empty passwords are rejected before the
// bind: many LDAP servers treat a blank password as an anonymous bind and
// report success.
func (a *LDAPAuthenticator) Authenticate(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	if strings.ContainsAny(username, ",=\n\r\x00") {
		return ErrInvalidCredentials
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("auth: directory dial: %w", err)
	}
	defer conn.Close()

	if err := conn.Bind(fmt.Sprintf(a.userDNTmpl, username), password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("auth: directory bind: %w", err)
	}
	return nil
}
