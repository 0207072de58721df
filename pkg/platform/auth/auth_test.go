package auth

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "0000000000000000000000000000000000000000000000000000000000000001"

func headers(m map[string]string) func(string) string {
	return func(name string) string { return m[name] }
}

func TestJWTRoundTrip(t *testing.T) {
	mgr, err := NewJWTManager(testSeed, time.Minute)
	require.NoError(t, err)

	tok, err := mgr.GenerateToken(context.Background(), "org_1", "mem_1")
	require.NoError(t, err)

	session, err := mgr.Authenticate(context.Background(), headers(map[string]string{
		"Authorization": "Bearer " + tok.Token,
	}), nil)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, Principal{OrganizationID: "org_1", MemberID: "mem_1"}, session.Principal())
}

func TestAuthenticateWithoutBearer(t *testing.T) {
	mgr, err := NewJWTManager(testSeed, time.Minute)
	require.NoError(t, err)

	session, err := mgr.Authenticate(context.Background(), headers(nil), nil)
	assert.NoError(t, err)
	assert.Nil(t, session)
}

func TestAuthenticateRejectsForeignKey(t *testing.T) {
	issuerMgr, err := NewJWTManager(strings.Repeat("ab", 32), time.Minute)
	require.NoError(t, err)
	verifier, err := NewJWTManager(testSeed, time.Minute)
	require.NoError(t, err)

	tok, err := issuerMgr.GenerateToken(context.Background(), "org_1", "mem_1")
	require.NoError(t, err)

	_, err = verifier.Authenticate(context.Background(), headers(map[string]string{
		"Authorization": "Bearer " + tok.Token,
	}), nil)
	assert.Error(t, err)
}

func TestNewJWTManagerRejectsBadSeed(t *testing.T) {
	_, err := NewJWTManager("zz", time.Minute)
	assert.Error(t, err)
	_, err = NewJWTManager("abcd", time.Minute)
	assert.Error(t, err)
}

func TestPrincipalFrom(t *testing.T) {
	_, err := PrincipalFrom(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = PrincipalFrom(WithSystemContext(context.Background()))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := AuthSessionTo(context.Background(), &jwtSession{claims: &JWTClaims{OrganizationID: "org_1"}})
	p, err := PrincipalFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org_1", p.OrganizationID)
}

func TestBasicCredentials(t *testing.T) {
	creds := BasicCredentials{Username: "riverlybot", Password: "s3cret"}
	encode := func(user, pass string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}

	assert.True(t, creds.Check(encode("riverlybot", "s3cret")))
	assert.False(t, creds.Check(encode("riverlybot", "wrong")))
	assert.False(t, creds.Check(encode("someone", "s3cret")))
	assert.False(t, creds.Check("Bearer abc"))
	assert.False(t, creds.Check(""))
}
