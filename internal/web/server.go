package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/eraser-privacy/baunsu/internal/config"
	"github.com/eraser-privacy/baunsu/internal/history"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
)

const (
	defaultRateLimit  = 30
	defaultRateWindow = time.Minute
	defaultJobMaxAge  = time.Hour
	maxBodySize       = 1 << 20
)

type Server struct {
	config       *config.Config
	historyStore *history.Store
	detector     *bounce.Detector
	templates    map[string]*template.Template
	httpServer   *http.Server
	port         int
	csrfKey      []byte
	rateLimiter  *RateLimiter
	jobManager   *JobManager
}

// NewServer builds the web UI and JSON API. historyStore may be nil, in which
// case results are not recorded and the history endpoints report unavailable.
func NewServer(cfg *config.Config, historyStore *history.Store, detector *bounce.Detector) (*Server, error) {
	csrfKey := make([]byte, 32)
	if _, err := rand.Read(csrfKey); err != nil {
		return nil, fmt.Errorf("failed to generate CSRF key: %w", err)
	}

	if cfg == nil {
		cfg = config.Default()
	}
	limit := cfg.Server.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	s := &Server{
		config:       cfg,
		historyStore: historyStore,
		detector:     detector,
		port:         cfg.Server.Port,
		csrfKey:      csrfKey,
		rateLimiter:  NewRateLimiter(limit, defaultRateWindow),
		jobManager:   NewJobManager(),
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	s.templates = tmpl
	return s, nil
}

// Start starts the web server and optionally opens the browser
func (s *Server) Start(open bool) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if open {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d", s.port))
		}()
	}

	fmt.Printf("Starting baunsu web UI at http://localhost:%d\n", s.port)
	fmt.Println("Press Ctrl+C to stop")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cancels running scans
func (s *Server) Shutdown(ctx context.Context) error {
	if job := s.jobManager.GetActive(); job != nil {
		job.Cancel()
	}
	s.rateLimiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// setupRouter configures all routes
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)

	// HTML form routes carry a CSRF token; the JSON API is for scripts and is
	// rate limited instead
	r.Group(func(r chi.Router) {
		r.Use(plaintextLocalhost)
		r.Use(csrf.Protect(
			s.csrfKey,
			csrf.Secure(false), // Allow HTTP for localhost
			csrf.Path("/"),
			csrf.HttpOnly(true),
			csrf.SameSite(csrf.SameSiteLaxMode),
			csrf.TrustedOrigins([]string{"localhost", "127.0.0.1", fmt.Sprintf("localhost:%d", s.port), fmt.Sprintf("127.0.0.1:%d", s.port)}),
		))

		r.Get("/", s.handleIndex)
		r.Post("/detect", s.handleDetectForm)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/detect", s.handleAPIDetect)
		r.Get("/history", s.handleAPIHistory)
		r.Get("/stats", s.handleAPIStats)
		r.Get("/registry", s.handleAPIRegistry)
		r.Post("/scan", s.handleAPIScan)
		r.Get("/job/{jobID}", s.handleAPIJobStatus)
		r.Post("/job/{jobID}/cancel", s.handleAPIJobCancel)
	})

	return r
}

// plaintextLocalhost tells the CSRF middleware the request arrived over plain
// HTTP, so it does not demand an HTTPS referer
func plaintextLocalhost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := s.rateLimiter.Allow(clientAddr(r)); !ok {
			seconds := int((wait + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please wait a moment")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// contentSecurityPolicy forbids scripts entirely since pasted messages are
// echoed back into the page
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'none'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data:",
	"frame-ancestors 'none'",
	"form-action 'self'",
	"base-uri 'self'",
}, "; ")

var responseHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "no-referrer",
	"Content-Security-Policy": contentSecurityPolicy,
	"Permissions-Policy":      "camera=(), microphone=(), geolocation=(), payment=()",
}

// securityHeaders sets the fixed response headers. Everything except the
// static registry listing may echo message content and is never cached.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range responseHeaders {
			h.Set(k, v)
		}
		if r.URL.Path != "/api/registry" {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

var browserCommands = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// openBrowser points the desktop's default browser at url
func openBrowser(url string) {
	argv, ok := browserCommands[runtime.GOOS]
	if !ok {
		log.Printf("Open %s in your browser", url)
		return
	}
	if err := exec.Command(argv[0], append(argv[1:], url)...).Start(); err != nil {
		log.Printf("Warning: failed to open browser: %v", err)
	}
}

// render executes a page with the CSRF field set, writing status first
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]interface{}) {
	tmpl, ok := s.templates[name]
	if !ok {
		http.Error(w, "Template not found: "+name, http.StatusInternalServerError)
		return
	}
	data["CSRFField"] = csrf.TemplateField(r)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
