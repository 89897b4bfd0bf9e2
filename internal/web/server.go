package web

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ST2Projects/media-grid/internal/config"
	"github.com/ST2Projects/media-grid/internal/database"
	"github.com/ST2Projects/media-grid/internal/push"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// Server is the gallery server: item pages, thumbnails, pipeline status
// reports and the push websocket
type Server struct {
	Config            *config.Config
	DB                *database.DB
	Hub               *push.Hub
	handler           http.Handler
	limiter           *rate.Limiter
	websocketUpgrader websocket.Upgrader
}

// New creates a new gallery server
func New(cfg *config.Config, db *database.DB, hub *push.Hub) *Server {
	s := &Server{
		Config:  cfg,
		DB:      db,
		Hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(cfg.WebServer.RateLimit), cfg.WebServer.RateBurst),
		websocketUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // renderers may run on any origin
			},
		},
	}
	s.setupRoutes()
	return s
}

// securityHeadersMiddleware adds security headers to all responses
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// The server only returns JSON and images
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware answers 429 with a Retry-After hint once the limiter's
// burst is spent
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.limiter.Reserve()
		if !res.OK() {
			tooManyRequests(w, time.Second)
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			tooManyRequests(w, delay)
			return
		}
		next(w, r)
	}
}

func tooManyRequests(w http.ResponseWriter, delay time.Duration) {
	seconds := int(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	http.Error(w, "Too many requests", http.StatusTooManyRequests)
}

// reportAuthMiddleware requires the pipeline's bearer token when a token
// hash is configured
func (s *Server) reportAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	hash := s.Config.WebServer.ReportTokenHash
	if hash == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(token))) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="thumbnail-status"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/media", s.handleGetMedia)
	mux.HandleFunc("/api/media/", s.handleGetMediaByID)
	mux.HandleFunc("/api/stats", s.handleGetStats)
	mux.HandleFunc("/api/thumbnails/", s.reportAuthMiddleware(s.handleThumbnailStatus))

	// WebSocket endpoint for thumbnail readiness
	mux.HandleFunc(push.Path, s.handleWebSocket)

	// Serve media files and thumbnails
	mux.HandleFunc("/media/", s.handleServeMedia)
	mux.HandleFunc("/thumbnails/", s.rateLimitMiddleware(s.handleServeThumbnail))

	// Wrap with security headers middleware
	s.handler = securityHeadersMiddleware(mux)
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Config.WebServer.Host, s.Config.WebServer.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting gallery server on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down gallery server")
	if s.Hub != nil {
		s.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// resolveMediaPath maps a catalogue-relative path to a file under the media
// root, refusing anything that escapes it
func (s *Server) resolveMediaPath(rel string) (string, error) {
	// Clean the path to resolve .. and . components
	cleanedPath := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(rel, "/")))

	// Reject absolute paths or paths starting with ..
	if filepath.IsAbs(cleanedPath) || cleanedPath == ".." || strings.HasPrefix(cleanedPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the media root", rel)
	}

	baseDir, err := filepath.Abs(filepath.Clean(s.Config.WebServer.MediaRoot))
	if err != nil {
		return "", fmt.Errorf("failed to resolve media root: %w", err)
	}
	fullPath := filepath.Join(baseDir, cleanedPath)

	// Ensure the resolved path is still within the base directory
	resolvedPath, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		if _, statErr := os.Stat(fullPath); statErr != nil {
			return "", statErr
		}
		resolvedPath = fullPath
	}
	if resolvedBase, err := filepath.EvalSymlinks(baseDir); err == nil {
		baseDir = resolvedBase
	}
	if resolvedPath != baseDir && !strings.HasPrefix(resolvedPath, baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside the media root", rel)
	}
	return resolvedPath, nil
}
