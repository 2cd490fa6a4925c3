// Package auth holds the feed credentials and applies them to the feed URL.
//
// Token issuance is out of scope: the access token is generated elsewhere and
// handed to the process through config, env or a token file.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// FeedVersion is the feed protocol version requested in the URL.
const FeedVersion = "2"

// authTypeToken selects access-token authentication on the feed.
const authTypeToken = "2"

var ErrMissingCredentials = errors.New("missing credentials")

// Credentials identifies the account the feed is opened for.
type Credentials struct {
	ClientID    string // Provider client id
	AccessToken string // Provider access token
}

// LoadCredentials builds credentials from a client id and either an inline
// token or a path to a file holding it. The inline token wins.
func LoadCredentials(clientID, token, tokenPath string) (*Credentials, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrMissingCredentials)
	}

	if token == "" && tokenPath != "" {
		t, err := LoadAccessToken(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("load access token: %w", err)
		}
		token = t
	}
	if token == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrMissingCredentials)
	}

	return &Credentials{
		ClientID:    clientID,
		AccessToken: token,
	}, nil
}

// LoadAccessToken reads a token file, trimming surrounding whitespace.
func LoadAccessToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// FeedURL returns base with the authentication query parameters set.
// Existing query parameters on base are preserved.
func (c *Credentials) FeedURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("feed url scheme must be ws or wss, got %q", u.Scheme)
	}

	q := u.Query()
	q.Set("version", FeedVersion)
	q.Set("token", c.AccessToken)
	q.Set("clientId", c.ClientID)
	q.Set("authType", authTypeToken)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Redacted returns a form safe for logs.
func (c *Credentials) Redacted() string {
	return fmt.Sprintf("client=%s token=%s", c.ClientID, mask(c.AccessToken))
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
