package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// AuthScheme is the Authorization header scheme for auth tokens
const AuthScheme = "Token"

type (
	userKey    struct{}
	tokenIDKey struct{}
)

// UserFromContext returns the authenticated username, if any
func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}

// AddUser registers a user with a bcrypt-hashed password
func (s *Server) AddUser(username, password string) error {
	s.EnsureDefaults()
	if username == "" {
		return fmt.Errorf("username required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = hash
	return nil
}

func (s *Server) checkPassword(username, password string) bool {
	s.mu.Lock()
	hash, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// IssueToken signs an auth token for username
func (s *Server) IssueToken(username string) (string, error) {
	now := s.Clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iss": s.JWTIssuer,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.TokenExpiry).Unix(),
	})
	signed, err := token.SignedString([]byte(s.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// verifyToken validates a signed token and returns its subject and id
func (s *Server) verifyToken(tokenString string) (username, jti string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.JWTSecretKey), nil
	}, jwt.WithIssuer(s.JWTIssuer), jwt.WithTimeFunc(s.Clock.Now))
	if err != nil {
		return "", "", err
	}
	if !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", "", fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", "", err
	} else if sub == "" {
		return "", "", fmt.Errorf("subject not found")
	}
	jti, _ = claims["jti"].(string)

	s.mu.Lock()
	revoked := s.revoked[jti]
	s.mu.Unlock()
	if revoked {
		return "", "", fmt.Errorf("token revoked")
	}
	return sub, jti, nil
}

// tokenFromRequest extracts the token of an "Authorization: Token <v>" header
func tokenFromRequest(r *http.Request) string {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, AuthScheme) {
		return ""
	}
	return strings.TrimSpace(value)
}

func isPublicRoute(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	if route == nil {
		return false
	}
	name := route.GetName()
	return name == routeCSRF || name == routeLogin
}

// requireAuth answers 401 unless the request carries a valid auth token.
// The CSRF and login endpoints are open.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}

		raw := tokenFromRequest(r)
		if raw == "" {
			s.unauthorized(w, "Authentication credentials were not provided.")
			return
		}
		username, jti, err := s.verifyToken(raw)
		if err != nil {
			s.Logger.Warn("rejecting auth token", "err", err)
			s.unauthorized(w, "Invalid token.")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, username)
		ctx = context.WithValue(ctx, tokenIDKey{}, jti)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, detail string) {
	s.mu.Lock()
	s.counters.Unauthorized++
	s.mu.Unlock()
	w.Header().Set("WWW-Authenticate", AuthScheme)
	errorResponse(w, detail, http.StatusUnauthorized)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	errs := fieldErrors{}
	if req.Username == "" {
		errs.add("username", "This field is required.")
	}
	if req.Password == "" {
		errs.add("password", "This field is required.")
	}
	if errs.send(w) {
		return
	}

	if !s.checkPassword(req.Username, req.Password) {
		writeJSON(w, http.StatusBadRequest, fieldErrors{
			"non_field_errors": {"Unable to log in with provided credentials."},
		})
		return
	}

	token, err := s.IssueToken(req.Username)
	if err != nil {
		s.Logger.Error("issuing token", "err", err)
		errorResponse(w, "Failed to create token", http.StatusInternalServerError)
		return
	}

	// A new session and CSRF token after login, as session-based backends do
	if err := s.Session.RenewToken(r.Context()); err != nil {
		s.Logger.Warn("renewing session", "err", err)
	}
	if _, err := s.sessionToken(r, w, true); err != nil {
		s.Logger.Warn("rotating CSRF token", "err", err)
	}

	s.mu.Lock()
	s.counters.Logins++
	s.mu.Unlock()
	s.Logger.Info("user logged in", "username", req.Username)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if jti, _ := r.Context().Value(tokenIDKey{}).(string); jti != "" {
		s.mu.Lock()
		s.revoked[jti] = true
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out."})
}
