// Package identity reads the caller identity forwarded by the upstream
// authentication layer.
package identity

import (
	"net/http"
	"strings"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

type User struct {
	ID    string
	Email string
}

// FromRequest returns the authenticated caller, or false if the request
// carries no user id.
func FromRequest(r *http.Request) (User, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return User{}, false
	}
	return User{
		ID:    id,
		Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, true
}
