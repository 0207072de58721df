package auth

import (
	"crypto/subtle"
	"net/http"
)

// BasicCredentials guards internal endpoints called by the build system.
type BasicCredentials struct {
	Username string
	Password string
}

// Check parses an Authorization header value and compares both parts in
// constant time.
func (c BasicCredentials) Check(header string) bool {
	if header == "" || c.Username == "" {
		return false
	}
	req := http.Request{Header: http.Header{"Authorization": []string{header}}}
	user, pass, ok := req.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.Username))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.Password))
	return userOK&passOK == 1
}
