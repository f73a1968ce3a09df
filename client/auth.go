package client

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// AuthScheme is the Authorization scheme the backend expects ("Token <value>")
const AuthScheme = "Token"

var errNoAuthToken = errors.New("no auth token")

// storeTokenSource serves the persisted auth token as an oauth2.Token.
// The token is re-read on every call so a login/logout by another process
// sharing the store is picked up.
type storeTokenSource struct {
	store KeyValueStore
}

func (s storeTokenSource) Token() (*oauth2.Token, error) {
	if s.store == nil {
		return nil, errNoAuthToken
	}
	v, err := s.store.Get(AuthTokenKey)
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, errNoAuthToken
	}
	return &oauth2.Token{AccessToken: v, TokenType: AuthScheme}, nil
}

// attachAuth sets the Authorization header if a token is available
func (g *Gateway) attachAuth(req *http.Request) {
	tok, err := g.tokens.Token()
	if err != nil {
		if !errors.Is(err, errNoAuthToken) {
			g.logger.Warn("could not read auth token", "err", err)
		}
		return
	}
	if tok == nil || tok.AccessToken == "" {
		return
	}
	tok.SetAuthHeader(req)
}
