package client

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// JarCookieStore reads cookies for a fixed origin out of an http.CookieJar.
// The same jar is attached to the gateway's HTTP client, so cookies set by
// the backend (e.g. csrftoken) become visible here.
type JarCookieStore struct {
	Jar    http.CookieJar
	Origin *url.URL
}

// NewJarCookieStore creates a cookie jar using the public suffix list and
// wraps it for the given origin
func NewJarCookieStore(origin *url.URL) (*JarCookieStore, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &JarCookieStore{Jar: jar, Origin: origin}, nil
}

// Cookie implements CookieStore
func (s *JarCookieStore) Cookie(name string) string {
	if s == nil || s.Jar == nil || s.Origin == nil {
		return ""
	}
	for _, c := range s.Jar.Cookies(s.Origin) {
		if c.Name == name && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// SetCookie stores a cookie for the origin. Mostly useful for seeding a
// session from an external login.
func (s *JarCookieStore) SetCookie(c *http.Cookie) {
	s.Jar.SetCookies(s.Origin, []*http.Cookie{c})
}
