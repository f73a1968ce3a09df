package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the backend used when none is configured
const DefaultBaseURL = "http://localhost:8000"

// Defaults for the well-known backend routes
const (
	DefaultCSRFEndpoint   = "/api/csrf/"
	DefaultLoginEndpoint  = "/api/auth/login/"
	DefaultLogoutEndpoint = "/api/auth/logout/"
	DefaultLoginPath      = "/login"
	DefaultTimeout        = 30 * time.Second
)

// Gateway is the single choke point through which the client talks to the
// backend. It is safe for concurrent use.
type Gateway struct {
	mu        sync.Mutex
	csrfToken string
	meta      MetaSource

	// concurrent CSRF fetches share one network call
	fetches singleflight.Group

	baseURL       *url.URL
	httpClient    *http.Client
	baseTransport http.RoundTripper
	jar           http.CookieJar

	cookies   CookieStore
	store     KeyValueStore
	tokens    oauth2.TokenSource
	navigator Navigator
	logger    *slog.Logger

	csrfEndpoint   string
	loginEndpoint  string
	logoutEndpoint string
	loginPath      string
	timeout        time.Duration
}

// Option configures a Gateway
type Option func(*Gateway)

// WithTransport sets the base transport wrapped by the gateway
func WithTransport(transport http.RoundTripper) Option {
	return func(g *Gateway) {
		g.baseTransport = transport
	}
}

// WithTimeout bounds every outbound call, retries included
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithCookieJar sets the jar shared by API calls and CSRF fetches
func WithCookieJar(jar http.CookieJar) Option {
	return func(g *Gateway) {
		g.jar = jar
	}
}

// WithCookieStore overrides where CSRF cookies are read from.
// By default they are read from the gateway's own cookie jar.
func WithCookieStore(cs CookieStore) Option {
	return func(g *Gateway) {
		g.cookies = cs
	}
}

// WithMetaSource sets the document meta tags used as a CSRF fallback
func WithMetaSource(m MetaSource) Option {
	return func(g *Gateway) {
		g.meta = m
	}
}

// WithStore sets the persisted store holding the auth and CSRF tokens
func WithStore(s KeyValueStore) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// WithTokenSource overrides where the auth token comes from.
// Defaults to the AuthTokenKey entry of the store.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(g *Gateway) {
		g.tokens = ts
	}
}

// WithNavigator sets the handler for login redirects on 401
func WithNavigator(n Navigator) Option {
	return func(g *Gateway) {
		g.navigator = n
	}
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithCSRFEndpoint sets a custom CSRF issuance path
func WithCSRFEndpoint(path string) Option {
	return func(g *Gateway) {
		g.csrfEndpoint = path
	}
}

// WithLoginPath sets the route navigated to on 401
func WithLoginPath(path string) Option {
	return func(g *Gateway) {
		g.loginPath = path
	}
}

// NewGateway creates a gateway for the backend at baseURL
func NewGateway(baseURL string, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	g := &Gateway{
		baseURL:        &url.URL{Scheme: u.Scheme, Host: u.Host, Path: strings.TrimSuffix(u.Path, "/")},
		baseTransport:  http.DefaultTransport,
		csrfEndpoint:   DefaultCSRFEndpoint,
		loginEndpoint:  DefaultLoginEndpoint,
		logoutEndpoint: DefaultLogoutEndpoint,
		loginPath:      DefaultLoginPath,
		timeout:        DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.baseTransport == nil {
		g.baseTransport = http.DefaultTransport
	}
	origin := &url.URL{Scheme: g.baseURL.Scheme, Host: g.baseURL.Host, Path: "/"}
	if g.jar == nil {
		jcs, err := NewJarCookieStore(origin)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		g.jar = jcs.Jar
	}
	if g.cookies == nil {
		g.cookies = &JarCookieStore{Jar: g.jar, Origin: origin}
	}
	if g.store == nil {
		g.store = NewMemoryStore()
	}
	if g.tokens == nil {
		g.tokens = storeTokenSource{store: g.store}
	}
	if g.navigator == nil {
		g.navigator = logNavigator{logger: g.logger}
	}

	g.httpClient = &http.Client{
		Transport: &gatewayTransport{gw: g, base: g.baseTransport},
		Jar:       g.jar,
		Timeout:   g.timeout,
	}
	return g, nil
}

// HTTPClient returns an HTTP client that goes through the gateway's
// credential and retry handling
func (g *Gateway) HTTPClient() *http.Client {
	return g.httpClient
}

// BaseURL returns the normalized backend URL
func (g *Gateway) BaseURL() string {
	return g.baseURL.String()
}

// Store returns the persisted store, possibly nil
func (g *Gateway) Store() KeyValueStore {
	return g.store
}

// resolve turns an API path into an absolute URL under the base URL
func (g *Gateway) resolve(path string) (*url.URL, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	if rel.IsAbs() {
		return rel, nil
	}
	u := *g.baseURL
	u.Path = g.baseURL.Path + "/" + strings.TrimPrefix(rel.Path, "/")
	u.RawQuery = rel.RawQuery
	return &u, nil
}

// CSRFToken returns the cached CSRF token, or probes the cookie store, the
// document meta tags and the persisted store in that order. It never goes
// to the network. Returns "" (and logs a warning) when nothing is found.
func (g *Gateway) CSRFToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.csrfToken != "" {
		return g.csrfToken
	}

	if tok := g.cookies.Cookie(CSRFCookieName); tok != "" {
		g.csrfToken = tok
		return tok
	}
	if g.meta != nil {
		if tok := g.meta.MetaContent(CSRFMetaName); tok != "" {
			g.csrfToken = tok
			return tok
		}
	}
	if tok, err := g.store.Get(CSRFTokenKey); err != nil {
		g.logger.Warn("could not read persisted CSRF token", "err", err)
	} else if tok != "" {
		g.csrfToken = tok
		return tok
	}

	g.logger.Warn("no CSRF token found")
	return ""
}

func (g *Gateway) cachedCSRFToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.csrfToken
}

// FetchCSRFToken returns the cached token unless forceRefresh is set, and
// otherwise asks the backend for one. Concurrent callers share a single
// network fetch, which is detached from any one caller's cancellation and
// bounded by the gateway timeout. A caller whose ctx ends first stops
// waiting and gets whatever token is cached. Network or HTTP failures fall
// back to the cookie store, so the result may be "".
func (g *Gateway) FetchCSRFToken(ctx context.Context, forceRefresh bool) string {
	if !forceRefresh {
		if tok := g.cachedCSRFToken(); tok != "" {
			return tok
		}
	}

	ch := g.fetches.DoChan(g.csrfEndpoint, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, g.timeout)
			defer cancel()
		}
		return g.fetchCSRFToken(fetchCtx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		g.logger.Warn("stopped waiting for CSRF token", "err", ctx.Err())
		return g.cachedCSRFToken()
	}
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

func (g *Gateway) fetchCSRFToken(ctx context.Context) string {
	u, err := g.resolve(g.csrfEndpoint)
	if err != nil {
		g.logger.Warn("invalid CSRF endpoint", "err", err)
		return g.adoptCSRFToken(g.cookies.Cookie(CSRFCookieName), "cookie")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		g.logger.Warn("failed to build CSRF request", "err", err)
		return g.adoptCSRFToken(g.cookies.Cookie(CSRFCookieName), "cookie")
	}
	req.Header.Set("Accept", "application/json")

	// Use the base transport directly so the fetch is not itself subject
	// to CSRF handling
	httpClient := &http.Client{Transport: g.baseTransport, Jar: g.jar, Timeout: g.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		g.logger.Warn("CSRF token fetch failed, falling back to cookie", "err", err)
		return g.adoptCSRFToken(g.cookies.Cookie(CSRFCookieName), "cookie")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("CSRF token fetch failed, falling back to cookie", "status", resp.StatusCode, "err", err)
		return g.adoptCSRFToken(g.cookies.Cookie(CSRFCookieName), "cookie")
	}

	var payload csrfResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.CSRFToken != "" {
		return g.adoptCSRFToken(payload.CSRFToken, "response")
	}
	return g.adoptCSRFToken(g.cookies.Cookie(CSRFCookieName), "cookie")
}

// adoptCSRFToken caches and persists a freshly obtained token
func (g *Gateway) adoptCSRFToken(tok, source string) string {
	if tok == "" {
		g.logger.Warn("could not obtain a CSRF token")
		return ""
	}

	g.mu.Lock()
	g.csrfToken = tok
	g.mu.Unlock()

	if err := g.store.Set(CSRFTokenKey, tok); err != nil {
		g.logger.Warn("failed to persist CSRF token", "err", err)
	}
	g.logger.Debug("CSRF token obtained", "source", source)
	return tok
}

// Response is a fully read 2xx response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. An empty body is not an error.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// Do sends a request through the gateway. body is JSON-encoded unless files
// are attached, in which case it is sent as multipart form values. Non-2xx
// responses are returned as *APIError, failures without a response wrap
// ErrTransport.
func (g *Gateway) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	u, err := g.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(o.query) > 0 {
		q := u.Query()
		for k, vs := range o.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	reader, contentType, err := encodeBody(body, o.files)
	if err != nil {
		return nil, err
	}
	var bodyReader io.Reader
	if reader != nil {
		bodyReader = reader
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %w", ErrTransport, method, u.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(method, u.String(), resp.StatusCode, data)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// DoJSON sends a request and decodes the JSON response into out (may be nil)
func (g *Gateway) DoJSON(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	resp, err := g.Do(ctx, method, path, in, opts...)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Get sends a GET request
func (g *Gateway) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post sends a POST request
func (g *Gateway) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put sends a PUT request
func (g *Gateway) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodPut, path, body, opts...)
}

// Patch sends a PATCH request
func (g *Gateway) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodPatch, path, body, opts...)
}

// Delete sends a DELETE request
func (g *Gateway) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodDelete, path, nil, opts...)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for an auth token and persists it
func (g *Gateway) Login(ctx context.Context, username, password string) error {
	var out loginResponse
	if err := g.DoJSON(ctx, http.MethodPost, g.loginEndpoint, loginRequest{Username: username, Password: password}, &out); err != nil {
		return err
	}
	if out.Token == "" {
		return errors.New("login response did not include a token")
	}

	if err := g.store.Set(AuthTokenKey, out.Token); err != nil {
		return fmt.Errorf("failed to store auth token: %w", err)
	}
	return nil
}

// Logout tells the backend to drop the session and forgets the local auth
// token. The local token is removed even if the backend call fails.
func (g *Gateway) Logout(ctx context.Context) error {
	_, serverErr := g.Post(ctx, g.logoutEndpoint, nil)

	if err := g.store.Delete(AuthTokenKey); err != nil {
		return fmt.Errorf("failed to remove auth token: %w", err)
	}
	if serverErr != nil && !IsUnauthorized(serverErr) {
		return serverErr
	}
	return nil
}

// AuthToken returns the persisted auth token, or "" if logged out
func (g *Gateway) AuthToken() (string, error) {
	return g.store.Get(AuthTokenKey)
}

// LoadDocument fetches an HTML page from the backend and uses its meta tags
// as the meta source for CSRFToken
func (g *Gateway) LoadDocument(ctx context.Context, path string) error {
	resp, err := g.Do(ctx, http.MethodGet, path, nil, WithHeader("Accept", "text/html"))
	if err != nil {
		return err
	}
	meta, err := ParseHTMLMeta(strings.NewReader(string(resp.Body)))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	g.mu.Lock()
	g.meta = meta
	g.mu.Unlock()
	return nil
}
