// Package digest answers SIP digest authentication challenges (RFC 2617).
package digest

import (
	"errors"
	"fmt"

	"github.com/icholy/digest"
)

var (
	ErrNoRealm       = errors.New("digest challenge has no realm")
	ErrNoNonce       = errors.New("digest challenge has no nonce")
	ErrNoCredentials = errors.New("digest credentials are not configured")
	ErrBadChallenge  = errors.New("malformed digest challenge")
)

// Challenge header names
const (
	HeaderWWWAuthenticate   = "WWW-Authenticate"
	HeaderProxyAuthenticate = "Proxy-Authenticate"
)

// Credentials is a username/password pair
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no credentials are configured
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// Authorize computes the credentials header value answering challenge for a
// request with the given method and request URI.
//
// Without qop the response is MD5(MD5(user:realm:pass):nonce:MD5(method:uri)).
// When the challenge carries opaque or algorithm they are echoed back.
func Authorize(method, uri string, creds Credentials, challenge string) (string, error) {
	if creds.Empty() {
		return "", ErrNoCredentials
	}

	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadChallenge, err)
	}
	if chal.Realm == "" {
		return "", ErrNoRealm
	}
	if chal.Nonce == "" {
		return "", ErrNoNonce
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}

	return cred.String(), nil
}
