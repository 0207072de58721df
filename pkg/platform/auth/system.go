package auth

import "context"

// SystemSession is used for internal operations such as the stale sweep.
type SystemSession struct{}

func (s *SystemSession) Principal() Principal {
	return Principal{MemberID: "system"}
}

// WithSystemContext returns a context carrying the system session.
func WithSystemContext(ctx context.Context) context.Context {
	return AuthSessionTo(ctx, &SystemSession{})
}
