// Package web serves the formreg HTTP API and the export preview page.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/logging"
	fmw "github.com/JonMunkholm/formreg/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options tunes the HTTP layer. Zero values fall back to the defaults noted
// on each field.
type Options struct {
	// TrustedProxies may set X-Real-IP / X-Forwarded-For.
	TrustedProxies []string

	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
	// ExportRateLimit applies on top of RateLimit to export endpoints.
	ExportRateLimit int

	// RequestTimeout bounds every route except the CSV export (default 60s).
	RequestTimeout time.Duration

	// MaxBodyBytes caps JSON request bodies (default 1 MiB).
	MaxBodyBytes int64

	// Parallelism is how many submissions the preview page fetches at once
	// (default 8).
	Parallelism int
	// PreviewRows caps the rows on the preview page (default 200).
	PreviewRows int

	EnableCSP bool
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 8
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = 200
	}
}

// Server is the formreg HTTP server.
type Server struct {
	service  *core.Service
	verifier fmw.TokenVerifier
	opts     Options
	router   *chi.Mux
	server   *http.Server

	limiters []*rateLimiter
}

// NewServer creates a Server. Every route except /healthz requires a bearer
// token accepted by verifier.
func NewServer(service *core.Service, verifier fmw.TokenVerifier, opts Options) *Server {
	opts.applyDefaults()
	s := &Server{
		service:  service,
		verifier: verifier,
		opts:     opts,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(fmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(fmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityHeaders)
	s.router.Use(clientInfo)

	if s.opts.RateLimit > 0 {
		s.router.Use(s.newRateLimiter(s.opts.RateLimit, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(fmw.BearerAuth(s.verifier))

		// Exports stream for as long as the table takes; no request timeout.
		r.Group(func(r chi.Router) {
			if s.opts.ExportRateLimit > 0 {
				r.Use(s.newRateLimiter(s.opts.ExportRateLimit, time.Minute).middleware)
			}
			r.Get("/api/schemas/{schemaID}/export", s.handleExportCSV)
			r.With(middleware.Timeout(s.opts.RequestTimeout)).
				Get("/schemas/{schemaID}/export", s.handleExportPreview)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))

			r.Get("/schemas/{schemaID}", s.handleGetSchema)
			r.Post("/schemas/{schemaID}/validate", s.handleValidate)
			r.Get("/schemas/{schemaID}/submission", s.handleGetSubmission)
			r.Post("/schemas/{schemaID}/submissions", s.handleCreateSubmission)
			r.Put("/submissions/{submissionID}", s.handleUpdateSubmission)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string, readTimeout, writeTimeout, idleTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections, waits for in-flight requests and
// stops the rate limiter sweepers.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// clientInfo records the caller's address and user agent for audit entries.
// RemoteAddr has already been rewritten by TrustedRealIP.
func clientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.WithClientInfo(r.Context(), core.ClientInfo{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.opts.EnableCSP {
			// The preview page is static markup: no scripts at all.
			h.Set("Content-Security-Policy", "default-src 'self'; script-src 'none'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window limiter keyed by client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	s.limiters = append(s.limiters, rl)
	go rl.sweep()
	return rl
}

// sweep drops stale visitors every window until stop is called.
func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if rl.now().Sub(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware rejects clients over their budget with 429.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, r, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests",
				Action:  "Please wait a minute and try again",
				Code:    "REQ004",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr when there is one.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON encodes v as JSON with the given status. Encoding errors are
// only logged since the header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
