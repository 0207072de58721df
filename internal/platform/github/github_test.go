package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/riverly-dev/riverly/internal/platform/database"
	"github.com/riverly-dev/riverly/pkg/models"
)

func TestResolveInstallation(t *testing.T) {
	ctx := context.Background()
	db := internaldb.NewMemoryDB()
	require.NoError(t, db.PutGitHubInstallation(ctx, nil, &models.GitHubInstallation{
		OrganizationID: "org_1", AppID: 42, AccountLogin: "Acme", InstallationID: 777,
	}))
	require.NoError(t, db.PutGitHubInstallation(ctx, nil, &models.GitHubInstallation{
		OrganizationID: "org_1", AppID: 42, AccountLogin: "paused", InstallationID: 778, Suspended: true,
	}))
	r := NewResolver(db)

	tests := []struct {
		name   string
		org    string
		login  string
		wantID int64
	}{
		{name: "exact login", org: "org_1", login: "Acme", wantID: 777},
		{name: "case-insensitive login", org: "org_1", login: "ACME", wantID: 777},
		{name: "other organization", org: "org_2", login: "acme"},
		{name: "unknown account", org: "org_1", login: "globex"},
		{name: "suspended installation", org: "org_1", login: "paused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := r.ResolveInstallation(ctx, tt.org, 42, tt.login)
			require.NoError(t, err)
			if tt.wantID == 0 {
				assert.Nil(t, inst)
				return
			}
			require.NotNil(t, inst)
			assert.Equal(t, tt.wantID, inst.InstallationID)
		})
	}
}

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestAppJWT(t *testing.T) {
	key, pemBytes := testKey(t)
	now := time.Now()
	issuer, err := NewTokenIssuer(42, pemBytes, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	signed, err := issuer.AppJWT()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Issuer)
	assert.Equal(t, now.Add(-time.Minute).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(9*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestIssueRepositoryToken(t *testing.T) {
	key, pemBytes := testKey(t)

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/777/access_tokens", r.URL.Path)

		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.Parse(bearer, func(*jwt.Token) (any, error) { return &key.PublicKey, nil })
		assert.NoError(t, err)

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"ghs_scoped","expires_at":"2030-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	base, err := ParseBaseURL(srv.URL)
	require.NoError(t, err)
	issuer, err := NewTokenIssuer(42, pemBytes, WithBaseURL(base), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	tok, err := issuer.IssueRepositoryToken(context.Background(), 777, "widget")
	require.NoError(t, err)
	assert.Equal(t, "ghs_scoped", tok.Token)
	assert.Equal(t, 2030, tok.ExpiresAt.Year())

	assert.Equal(t, []any{"widget"}, gotBody["repositories"])
	assert.Equal(t, map[string]any{"contents": "read"}, gotBody["permissions"])
}

func TestIssueRepositoryTokenFailure(t *testing.T) {
	_, pemBytes := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	base, err := ParseBaseURL(srv.URL)
	require.NoError(t, err)
	issuer, err := NewTokenIssuer(42, pemBytes, WithBaseURL(base))
	require.NoError(t, err)

	_, err = issuer.IssueRepositoryToken(context.Background(), 777, "widget")
	assert.Error(t, err)

	_, err = issuer.IssueRepositoryToken(context.Background(), 0, "widget")
	assert.Error(t, err)
}

func TestNewTokenIssuerRejectsBadKey(t *testing.T) {
	_, err := NewTokenIssuer(42, []byte("not a key"))
	assert.Error(t, err)
	_, pemBytes := testKey(t)
	_, err = NewTokenIssuer(0, pemBytes)
	assert.Error(t, err)
}
