package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ez1-mqtt-bridge/internal/logger"
)

const shutdownTimeout = 5 * time.Second

const indexPage = `<html>
<head><title>EZ1 MQTT Bridge</title></head>
<body>
<h1>EZ1 MQTT Bridge</h1>
<ul>
<li><a href="/health">Health Check</a></li>
<li><a href="/metrics">Metrics</a></li>
</ul>
</body>
</html>`

// Wrapper decorates a route handler, e.g. with request metrics
type Wrapper func(route string, next http.Handler) http.Handler

// Server serves /health, /metrics and an index page
type Server struct {
	srv *http.Server
}

// NewRouter builds the routes. metrics and wrap may be nil.
func NewRouter(health http.Handler, metrics http.Handler, wrap Wrapper) *mux.Router {
	if wrap == nil {
		wrap = func(_ string, next http.Handler) http.Handler { return next }
	}

	r := mux.NewRouter()
	r.Handle("/health", wrap("/health", health)).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", wrap("/metrics", metrics)).Methods(http.MethodGet)
	}
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, indexPage)
	}).Methods(http.MethodGet)
	return r
}

// NewServer creates a server on port
func NewServer(port int, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.LogInfo("HTTP server listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.LogDebug("HTTP server stopped")
	return nil
}
