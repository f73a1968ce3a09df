// Package client provides the authenticated request gateway for the supplier
// compliance backend. It attaches auth and CSRF tokens to outbound calls,
// refreshes a stale CSRF token once on 403, and reports 401s to a Navigator.
package client

import (
	"log/slog"
)

// Well-known names shared with the backend and the persisted store.
const (
	CSRFHeader     = "X-CSRFToken"
	CSRFCookieName = "csrftoken"
	CSRFMetaName   = "csrf-token"

	// Keys under which tokens are kept in a KeyValueStore
	AuthTokenKey = "authToken"
	CSRFTokenKey = "csrfToken"
)

// CookieStore reads cookies visible to the backend origin
type CookieStore interface {
	// Cookie returns the value of the named cookie, or "" if absent
	Cookie(name string) string
}

// KeyValueStore is the persisted storage the gateway keeps tokens in.
type KeyValueStore interface {
	// Get returns "", nil when the key does not exist
	Get(key string) (string, error)

	Set(key, value string) error

	Delete(key string) error
}

// MetaSource exposes <meta name=... content=...> pairs of a loaded document
type MetaSource interface {
	MetaContent(name string) string
}

// Navigator performs a client-side navigation, e.g. to the login route
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to the Navigator interface
type NavigatorFunc func(path string)

// Navigate implements Navigator
func (f NavigatorFunc) Navigate(path string) { f(path) }

// logNavigator is used when no Navigator is configured
type logNavigator struct {
	logger *slog.Logger
}

func (n logNavigator) Navigate(path string) {
	n.logger.Warn("authentication required, redirecting", "to", path)
}
