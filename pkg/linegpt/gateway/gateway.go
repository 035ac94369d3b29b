// Package gateway serves the HTTP side of linegpt: the LINE webhook, a
// liveness probe and a status snapshot.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jholhewres/linegpt/pkg/linegpt/copilot"
)

// StatusSource reports the assistant state served on /status.
// *copilot.Assistant implements it.
type StatusSource interface {
	Status() copilot.Status
}

// Gateway is the HTTP server.
type Gateway struct {
	config   copilot.GatewayConfig
	callback http.Handler
	status   StatusSource
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener
}

// New creates a Gateway. callback handles POST /callback and may be nil
// when the LINE channel is not configured.
func New(cfg copilot.GatewayConfig, callback http.Handler, status StatusSource, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0:8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Gateway{
		config:   cfg,
		callback: callback,
		status:   status,
		logger:   logger.With("component", "gateway"),
	}
}

// Handler builds the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Get("/", g.handleIndex)
	r.Get("/status", g.handleStatus)
	if g.callback != nil {
		r.Method(http.MethodPost, "/callback", g.callback)
	}
	return r
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.config.Address, err)
	}
	g.listener = ln
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", ln.Addr().String(), "callback", g.callback != nil)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (g *Gateway) Addr() string {
	if g.listener != nil {
		return g.listener.Addr().String()
	}
	return g.config.Address
}

// Stop gracefully shuts down the server within the configured timeout.
func (g *Gateway) Stop() error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")

	ctx, cancel := context.WithTimeout(context.Background(), g.config.ShutdownTimeout)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello World"))
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if g.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "assistant not running"})
		return
	}
	writeJSON(w, http.StatusOK, g.status.Status())
}

// requestLogger logs each request through slog.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
