// Package devserver serves the supplier compliance wire contract in-process.
//
// It is a development and test stand-in for the real backend: it issues
// session-bound CSRF tokens, signs auth tokens, and keeps suppliers and
// attachments in memory. It applies only the checks a client needs to see
// exercised (auth, CSRF, a required name, date formats); it is not a model
// of the real backend's rules.
//
// Knobs such as RotateCSRF and ForceCSRFFailures let tests provoke the
// stale-token paths of the client.
package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	compliance "github.com/iam-ankon/TADREACT-sub005"
)

// Counters record what the server has seen, for tests
type Counters struct {
	CSRFFetches  int
	CSRFRejected int
	Unauthorized int
	Logins       int
}

type Server struct {
	Session *scs.SessionManager

	// Auth token signing
	JWTSecretKey string
	JWTIssuer    string
	TokenExpiry  time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger

	router *mux.Router
	once   sync.Once

	mu             sync.Mutex
	users          map[string][]byte
	revoked        map[string]bool
	csrfGeneration int
	forcedFailures int
	counters       Counters
	suppliers      map[compliance.ID]compliance.Supplier
	order          []compliance.ID
	attachments    []storedAttachment
	remindersSent  int
}

func New() *Server {
	return (&Server{}).EnsureDefaults()
}

// EnsureDefaults fills zero-valued configuration
func (s *Server) EnsureDefaults() *Server {
	if s.Session == nil {
		s.Session = scs.New()
		s.Session.Cookie.Name = "sessionid"
		s.Session.Lifetime = 24 * time.Hour
	}
	if s.JWTSecretKey == "" {
		s.JWTSecretKey = strings.TrimSpace(os.Getenv("DEVSERVER_JWT_SECRET_KEY"))
		if s.JWTSecretKey == "" {
			s.JWTSecretKey = "DevServerJWTSecretKey123456"
		}
	}
	if s.JWTIssuer == "" {
		s.JWTIssuer = "compliance-devserver"
	}
	if s.TokenExpiry <= 0 {
		s.TokenExpiry = 12 * time.Hour
	}
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.users == nil {
		s.users = map[string][]byte{}
	}
	if s.revoked == nil {
		s.revoked = map[string]bool{}
	}
	if s.suppliers == nil {
		s.suppliers = map[compliance.ID]compliance.Supplier{}
	}
	return s
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	s.once.Do(s.setupRoutes)
	return s.Session.LoadAndSave(s.router)
}

const (
	routeCSRF  = "csrf"
	routeLogin = "login"
)

func (s *Server) setupRoutes() {
	s.EnsureDefaults()
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleShell).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests, s.requireAuth, s.requireCSRF)

	api.HandleFunc("/csrf/", s.handleCSRF).Methods(http.MethodGet).Name(routeCSRF)
	api.HandleFunc("/auth/login/", s.handleLogin).Methods(http.MethodPost).Name(routeLogin)
	api.HandleFunc("/auth/logout/", s.handleLogout).Methods(http.MethodPost)

	api.HandleFunc("/suppliers/", s.handleListSuppliers).Methods(http.MethodGet)
	api.HandleFunc("/suppliers/", s.handleCreateSupplier).Methods(http.MethodPost)
	api.HandleFunc("/suppliers/dashboard-stats/", s.handleDashboardStats).Methods(http.MethodGet)
	api.HandleFunc("/suppliers/send-bulk-reminders/", s.handleBulkReminders).Methods(http.MethodPost)
	api.HandleFunc("/suppliers/{id}/", s.handleGetSupplier).Methods(http.MethodGet)
	api.HandleFunc("/suppliers/{id}/", s.handleReplaceSupplier).Methods(http.MethodPut)
	api.HandleFunc("/suppliers/{id}/", s.handlePatchSupplier).Methods(http.MethodPatch)
	api.HandleFunc("/suppliers/{id}/", s.handleDeleteSupplier).Methods(http.MethodDelete)
	api.HandleFunc("/suppliers/{id}/update-agreement-status/", s.handleAgreementStatus).Methods(http.MethodPost)

	api.HandleFunc("/supplier-attachments/", s.handleListAttachments).Methods(http.MethodGet)
	api.HandleFunc("/supplier-attachments/", s.handleCreateAttachment).Methods(http.MethodPost)

	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Logger.Debug("devserver request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Counters returns a copy of the request counters
func (s *Server) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// RemindersSent is the total of reminders sent through bulk requests
func (s *Server) RemindersSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remindersSent
}

// Seed stores suppliers directly, assigning ids where missing
func (s *Server) Seed(suppliers ...compliance.Supplier) []compliance.ID {
	s.EnsureDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]compliance.ID, 0, len(suppliers))
	for _, sup := range suppliers {
		ids = append(ids, s.putLocked(sup))
	}
	return ids
}

// ListenAndServe serves on addr until ctx is done or the server fails
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.EnsureDefaults()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("devserver listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("devserver: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devserver shutdown: %w", err)
	}
	return nil
}
