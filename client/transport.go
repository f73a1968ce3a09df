package client

import (
	"io"
	"net/http"
)

// maxCSRFRetries bounds how often a request is replayed after a 403
const maxCSRFRetries = 1

// isStateChanging reports methods that must carry a CSRF token
func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// gatewayTransport is an http.RoundTripper that attaches credentials,
// replays once with a refreshed CSRF token on 403 and reports 401s to the
// gateway's Navigator
type gatewayTransport struct {
	gw   *Gateway
	base http.RoundTripper
}

func (t *gatewayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	gw := t.gw

	// Clone so the caller's request is never mutated
	req = req.Clone(req.Context())
	gw.attachAuth(req)

	if isStateChanging(req.Method) && req.Header.Get(CSRFHeader) == "" {
		token := gw.CSRFToken()
		if token == "" {
			token = gw.FetchCSRFToken(req.Context(), false)
		}
		if token != "" {
			req.Header.Set(CSRFHeader, token)
		} else {
			gw.logger.Warn("sending state-changing request without CSRF token", "method", req.Method, "url", req.URL.Path)
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		gw.logger.Debug("api response", "method", req.Method, "url", req.URL.Path, "status", resp.StatusCode, "attempt", attempt)

		switch resp.StatusCode {
		case http.StatusForbidden:
			if attempt >= maxCSRFRetries {
				return resp, nil
			}
			retry, ok := t.prepareRetry(req)
			if !ok {
				return resp, nil
			}
			// Close the rejected response before replaying
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			req = retry
			continue

		case http.StatusUnauthorized:
			gw.navigator.Navigate(gw.loginPath)
		}
		return resp, nil
	}
}

// prepareRetry refreshes the CSRF token and rebuilds the request with a
// rewound body. ok is false when no token could be obtained or the body
// cannot be replayed.
func (t *gatewayTransport) prepareRetry(req *http.Request) (*http.Request, bool) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		t.gw.logger.Warn("cannot replay request body after 403", "method", req.Method, "url", req.URL.Path)
		return nil, false
	}

	token := t.gw.FetchCSRFToken(req.Context(), true)
	if token == "" {
		return nil, false
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			t.gw.logger.Warn("cannot rewind request body", "err", err)
			return nil, false
		}
		retry.Body = body
	}
	retry.Header.Set(CSRFHeader, token)

	// The refresh may have rotated the csrftoken cookie too
	if t.gw.jar != nil {
		retry.Header.Del("Cookie")
		for _, c := range t.gw.jar.Cookies(retry.URL) {
			retry.AddCookie(c)
		}
	}
	t.gw.logger.Info("retrying request with refreshed CSRF token", "method", req.Method, "url", req.URL.Path)
	return retry, true
}
