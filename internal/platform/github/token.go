package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v74/github"
)

// RepositoryToken is a short-lived installation token limited to one
// repository with read access to its contents.
type RepositoryToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenIssuer exchanges GitHub App credentials for installation tokens.
type TokenIssuer struct {
	appID      int64
	key        *rsa.PrivateKey
	baseURL    *url.URL
	httpClient *http.Client
	now        func() time.Time
}

type IssuerOption func(*TokenIssuer)

// WithBaseURL points the issuer at a GitHub Enterprise or test API root.
func WithBaseURL(u *url.URL) IssuerOption {
	return func(t *TokenIssuer) { t.baseURL = u }
}

func WithHTTPClient(c *http.Client) IssuerOption {
	return func(t *TokenIssuer) { t.httpClient = c }
}

func WithClock(now func() time.Time) IssuerOption {
	return func(t *TokenIssuer) { t.now = now }
}

// NewTokenIssuer parses a PEM encoded RSA key for the given app.
func NewTokenIssuer(appID int64, privateKeyPEM []byte, opts ...IssuerOption) (*TokenIssuer, error) {
	if appID <= 0 {
		return nil, errors.New("github app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	t := &TokenIssuer{
		appID:      appID,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ParseBaseURL normalizes an API root so relative endpoint paths resolve
// beneath it.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse github api url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// AppJWT returns a token that authenticates as the app itself. It is
// backdated a minute to absorb clock drift and lives for nine minutes.
func (t *TokenIssuer) AppJWT() (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(t.appID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign github app jwt: %w", err)
	}
	return signed, nil
}

func (t *TokenIssuer) client(appToken string) *gh.Client {
	c := gh.NewClient(t.httpClient).WithAuthToken(appToken)
	if t.baseURL != nil {
		c.BaseURL = t.baseURL
	}
	return c
}

// IssueRepositoryToken mints an installation token that can only read the
// contents of repo.
func (t *TokenIssuer) IssueRepositoryToken(ctx context.Context, installationID int64, repo string) (*RepositoryToken, error) {
	if installationID <= 0 {
		return nil, errors.New("installation id is required")
	}
	if repo == "" {
		return nil, errors.New("repository is required")
	}
	appToken, err := t.AppJWT()
	if err != nil {
		return nil, err
	}

	tok, _, err := t.client(appToken).Apps.CreateInstallationToken(ctx, installationID, &gh.InstallationTokenOptions{
		Repositories: []string{repo},
		Permissions: &gh.InstallationPermissions{
			Contents: gh.Ptr("read"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create installation token: %w", err)
	}
	if tok.GetToken() == "" {
		return nil, errors.New("github returned an empty installation token")
	}
	return &RepositoryToken{
		Token:     tok.GetToken(),
		ExpiresAt: tok.GetExpiresAt().Time,
	}, nil
}
