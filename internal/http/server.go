// Package http serves the household ledger UI: server-rendered pages
// plus partials swapped in by htmx. All mutating routes are POST forms.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	"kakeibo/internal/extract"
	"kakeibo/internal/visibility"
	appweb "kakeibo/web"
)

// EntryStore is the persistence surface the handlers need.
type EntryStore interface {
	InsertEntry(ctx context.Context, e core.Entry) (int64, error)
	UpdateEntry(ctx context.Context, id int64, e core.Entry) error
	SoftDeleteEntry(ctx context.Context, id int64, ts time.Time) error
	GetEntry(ctx context.Context, id int64) (core.Entry, error)
	ListCategories(ctx context.Context) ([]string, error)
	InsertCategory(ctx context.Context, name string) error
}

// Authenticator checks and creates credentials.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (core.User, error)
	Register(ctx context.Context, username, password string) error
}

// SessionStore tracks login tokens.
type SessionStore interface {
	Start(username string) string
	Identity(token string) (string, bool)
	End(token string)
}

// Viewer scopes ledger reads to the logged-in identity.
type Viewer interface {
	Load(ctx context.Context, identity string, opts visibility.Options) core.Snapshot
	IsAdmin(identity string) bool
}

// Extractor reads entry fields out of a receipt photo.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (extract.Fields, error)
}

// EventPublisher announces ledger mutations to the backup pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, ev amqp.Event) error
}

// Deps carries the server's collaborators. Extractor and Events may be
// nil; the matching features degrade instead of failing.
type Deps struct {
	Store     EntryStore
	Auth      Authenticator
	Sessions  SessionStore
	Viewer    Viewer
	Extractor Extractor
	Events    EventPublisher
}

type Server struct {
	http.Server
	templates *template.Template

	store     EntryStore
	auth      Authenticator
	sessions  SessionStore
	viewer    Viewer
	extractor Extractor
	events    EventPublisher

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:       deps.Store,
		auth:        deps.Auth,
		sessions:    deps.Sessions,
		viewer:      deps.Viewer,
		extractor:   deps.Extractor,
		events:      deps.Events,
		rateLimiter: newRateLimiter(),
	}

	t, err := template.New("").Funcs(template.FuncMap{
		"yen": formatYen,
	}).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		slog.Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("/static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/", s.secured(s.handleIndex))
	mux.HandleFunc("/login", s.secured(s.handleLogin))
	mux.HandleFunc("/register", s.secured(s.handleRegister))
	mux.HandleFunc("/logout", s.secured(s.handleLogout))

	mux.HandleFunc("/entries", s.secured(s.handleCreateEntry))
	mux.HandleFunc("/entries/update", s.secured(s.handleUpdateEntry))
	mux.HandleFunc("/entries/delete", s.secured(s.handleDeleteEntry))
	mux.HandleFunc("/receipts/scan", s.secured(s.handleScanReceipt))

	// UI partials
	mux.HandleFunc("/ui/summary", s.secured(s.handleSummary))
	mux.HandleFunc("/ui/category-share", s.secured(s.handleCategoryShare))
	mux.HandleFunc("/ui/spend-series", s.secured(s.handleSpendSeries))
	mux.HandleFunc("/ui/history", s.secured(s.handleHistory))
	mux.HandleFunc("/ui/entry-edit", s.secured(s.handleEntryEdit))

	return s
}

// secured adds security headers, rate limiting, and request logging.
func (s *Server) secured(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP,
				"method", r.Method,
				"url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com 'unsafe-eval'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

// Shutdown stops the HTTP server and the rate limiter cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "url", r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution failed",
			"error", err,
			"template", name)
		http.Error(w, "rendering failed", http.StatusInternalServerError)
	}
}
