package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
)

// ErrUnauthenticated is returned when authentication is required but not provided.
// This should be mapped to HTTP 401 Unauthorized in handlers.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal identifies the member acting and the organization it acts for.
type Principal struct {
	OrganizationID string
	MemberID       string
}

type Session interface {
	Principal() Principal
}

type AuthnProvider interface {
	Authenticate(ctx context.Context, reqHeaders func(name string) string, query url.Values) (Session, error)
}

// context utils

type sessionKeyType struct{}

var (
	sessionKey = sessionKeyType{}
)

func AuthSessionFrom(ctx context.Context) (Session, bool) {
	v, ok := ctx.Value(sessionKey).(Session)
	return v, ok && v != nil
}

func AuthSessionTo(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// PrincipalFrom returns the principal of the session in ctx, or
// ErrUnauthenticated when there is none.
func PrincipalFrom(ctx context.Context) (Principal, error) {
	s, ok := AuthSessionFrom(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	p := s.Principal()
	if p.OrganizationID == "" {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

func AuthnMiddleware(authn AuthnProvider) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if authn == nil {
			// No auth provider configured, skip authentication
			next(ctx)
			return
		}
		url := ctx.URL()
		session, err := authn.Authenticate(ctx.Context(), ctx.Header, url.Query())
		if err != nil {
			ctx.SetStatus(http.StatusUnauthorized)
			_, _ = ctx.BodyWriter().Write([]byte("Unauthorized"))
			return
		}
		if session != nil {
			ctx = huma.WithContext(ctx, AuthSessionTo(ctx.Context(), session))
		}
		next(ctx)
	}
}
