package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "riverly"

// JWTClaims represents the claims for a Riverly session token.
// The subject is the member id.
type JWTClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org_id"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int    `json:"expires_at"`
}

// JWTManager handles JWT token operations
type JWTManager struct {
	privateKey    ed25519.PrivateKey
	publicKey     ed25519.PublicKey
	tokenDuration time.Duration
}

var _ AuthnProvider = (*JWTManager)(nil)

// NewJWTManager builds a manager from a hex-encoded Ed25519 seed.
func NewJWTManager(hexSeed string, tokenDuration time.Duration) (*JWTManager, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("JWT private key must be a valid hex-encoded string: %w", err)
	}

	// Require a valid Ed25519 seed (32 bytes)
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("JWT private key seed must be exactly %d bytes for Ed25519, got %d bytes", ed25519.SeedSize, len(seed))
	}
	if tokenDuration <= 0 {
		tokenDuration = time.Hour
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return &JWTManager{
		privateKey:    privateKey,
		publicKey:     publicKey,
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken signs a session token for a member of an organization.
func (j *JWTManager) GenerateToken(_ context.Context, orgID, memberID string) (*TokenResponse, error) {
	if orgID == "" || memberID == "" {
		return nil, errors.New("organization and member are required")
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenDuration)),
		},
		OrganizationID: orgID,
	}

	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, claims)
	tokenString, err := token.SignedString(j.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		Token:     tokenString,
		ExpiresAt: int(claims.ExpiresAt.Unix()),
	}, nil
}

type jwtSession struct {
	claims *JWTClaims
}

func (s *jwtSession) Principal() Principal {
	return Principal{
		OrganizationID: s.claims.OrganizationID,
		MemberID:       s.claims.Subject,
	}
}

func (j *JWTManager) Authenticate(ctx context.Context, reqHeaders func(name string) string, _ url.Values) (Session, error) {
	const bearerPrefix = "Bearer "
	authHeader := reqHeaders("Authorization")
	if len(authHeader) < len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return nil, nil
	}
	token := authHeader[len(bearerPrefix):]

	claims, err := j.ValidateToken(ctx, token)
	if err != nil {
		return nil, huma.Error401Unauthorized("Invalid or expired session token", err)
	}
	return &jwtSession{claims: claims}, nil
}

// ValidateToken validates a session token and returns the claims
func (j *JWTManager) ValidateToken(_ context.Context, tokenString string) (*JWTClaims, error) {
	// This also validates expiry
	token, err := jwt.ParseWithClaims(
		tokenString,
		&JWTClaims{},
		func(_ *jwt.Token) (any, error) { return j.publicKey, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.OrganizationID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("token is missing organization or member")
	}

	return claims, nil
}
