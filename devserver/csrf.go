package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

// Session keys
const (
	sessionCSRFToken      = "csrfToken"
	sessionCSRFGeneration = "csrfGeneration"
)

// CSRF wire names, matching what the client sends and reads
const (
	csrfHeader = "X-CSRFToken"
	csrfCookie = "csrftoken"
)

// generateSecureToken returns 32 random bytes, hex-encoded
func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RotateCSRF invalidates every CSRF token issued so far
func (s *Server) RotateCSRF() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrfGeneration++
}

// ForceCSRFFailures makes the next n CSRF-checked requests fail with 403
// even when they carry a valid token.
func (s *Server) ForceCSRFFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedFailures = n
}

// sessionToken returns the session's token, issuing a new one when
// there is none or it predates the last rotation.
func (s *Server) sessionToken(r *http.Request, w http.ResponseWriter, rotate bool) (string, error) {
	ctx := r.Context()
	s.mu.Lock()
	gen := s.csrfGeneration
	s.mu.Unlock()

	token := s.Session.GetString(ctx, sessionCSRFToken)
	if !rotate && token != "" && s.Session.GetInt(ctx, sessionCSRFGeneration) == gen {
		return token, nil
	}

	token, err := generateSecureToken()
	if err != nil {
		return "", err
	}
	s.Session.Put(ctx, sessionCSRFToken, token)
	s.Session.Put(ctx, sessionCSRFGeneration, gen)
	http.SetCookie(w, &http.Cookie{
		Name:   csrfCookie,
		Value:  token,
		Path:   "/",
		MaxAge: int((365 * 24 * time.Hour).Seconds()),
	})
	return token, nil
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counters.CSRFFetches++
	s.mu.Unlock()

	token, err := s.sessionToken(r, w, false)
	if err != nil {
		errorResponse(w, "Failed to issue CSRF token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// requireCSRF rejects state-changing requests whose X-CSRFToken header does
// not match the session's current token
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isStateChanging(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		sent := r.Header.Get(csrfHeader)
		want := s.Session.GetString(ctx, sessionCSRFToken)
		gen := s.Session.GetInt(ctx, sessionCSRFGeneration)

		s.mu.Lock()
		reason := ""
		switch {
		case s.forcedFailures > 0:
			s.forcedFailures--
			reason = "CSRF token rejected."
		case sent == "":
			reason = "CSRF token missing."
		case want == "" || sent != want || gen != s.csrfGeneration:
			reason = "CSRF token incorrect."
		}
		if reason != "" {
			s.counters.CSRFRejected++
		}
		s.mu.Unlock()

		if reason != "" {
			s.Logger.Debug("csrf check failed", "path", r.URL.Path, "reason", reason)
			errorResponse(w, "CSRF Failed: "+reason, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var shellTemplate = template.Must(template.New("shell").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="csrf-token" content="{{.}}">
<title>Supplier Compliance</title>
</head>
<body><div id="root"></div></body>
</html>
`))

// handleShell serves the single page shell carrying the CSRF meta tag
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	token, err := s.sessionToken(r, w, false)
	if err != nil {
		http.Error(w, "Failed to issue CSRF token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := shellTemplate.Execute(w, token); err != nil {
		s.Logger.Warn("failed to render shell", "err", err)
	}
}
