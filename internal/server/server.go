// Package server exposes the proxy's HTTP API: bridge status and QR code,
// bridge logs, restarts, and the tool endpoints forwarded to the bridge.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/waproxy/internal/config"
	"github.com/Iron-Ham/waproxy/internal/detect"
	"github.com/Iron-Ham/waproxy/internal/errors"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/journal"
	"github.com/Iron-Ham/waproxy/internal/logging"
	"github.com/Iron-Ham/waproxy/internal/metrics"
	"github.com/Iron-Ham/waproxy/internal/status"
	"github.com/Iron-Ham/waproxy/internal/supervisor"
	"github.com/Iron-Ham/waproxy/internal/tools"
)

// Bridge is the supervised bridge process.
type Bridge interface {
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	IsRunning() bool
	Info() supervisor.Info
	LogPath() string
}

// LogScanner rescans the bridge log on demand.
type LogScanner interface {
	ScanNow() (detect.Result, error)
	Reset()
}

// EventSource lists journaled events.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	// QRDelayThreshold is the runtime after which /qr reports "delayed".
	QRDelayThreshold time.Duration
	// TailLines is how many log lines /logs returns.
	TailLines int
	// StreamPoll is how often /logs/stream checks the log for new output.
	StreamPoll time.Duration
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:              cfg.Server.Addr(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		QRDelayThreshold:  cfg.Monitor.QRDelayThreshold,
		TailLines:         cfg.Logs.TailLines,
	}
}

// Deps are the components the handlers operate on. Journal, Metrics and
// Bus may be nil.
type Deps struct {
	Bridge     Bridge
	Tracker    *status.Tracker
	Scanner    LogScanner
	Dispatcher *tools.Dispatcher
	Journal    EventSource
	Metrics    *metrics.Metrics
	Bus        *event.Bus
	Logger     *logging.Logger
}

// Server serves the proxy API.
type Server struct {
	opts       Options
	bridge     Bridge
	tracker    *status.Tracker
	scanner    LogScanner
	dispatcher *tools.Dispatcher
	journal    EventSource
	metrics    *metrics.Metrics
	bus        *event.Bus
	logger     *logging.Logger

	// baseCtx bounds bridge processes started by handlers; it outlives
	// the requests that start them.
	baseCtx context.Context

	router   chi.Router
	upgrader websocket.Upgrader
}

// New creates a Server. Bridge processes started from handlers are tied
// to baseCtx.
func New(baseCtx context.Context, opts Options, deps Deps) *Server {
	if opts.TailLines <= 0 {
		opts.TailLines = 100
	}
	if opts.QRDelayThreshold <= 0 {
		opts.QRDelayThreshold = 60 * time.Second
	}
	if opts.StreamPoll <= 0 {
		opts.StreamPoll = 500 * time.Millisecond
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		opts:       opts,
		bridge:     deps.Bridge,
		tracker:    deps.Tracker,
		scanner:    deps.Scanner,
		dispatcher: deps.Dispatcher,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		bus:        deps.Bus,
		logger:     logger.WithComponent("server"),
		baseCtx:    baseCtx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(corsMiddleware(defaultCORSConfig(s.opts.AllowedOrigins)))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/qr", s.handleQR)
	r.Get("/qr.png", s.handleQRImage)
	r.Get("/logs", s.handleLogs)
	r.Get("/logs/stream", s.handleLogStream)
	r.Get("/restart", s.handleRestart)
	r.Post("/restart", s.handleRestart)
	r.Get("/events", s.handleEvents)

	// The same tool handler answers on every path tool clients are configured with.
	for _, prefix := range []string{"/tool", "/api/tool", "/mcp/tool"} {
		r.Post(prefix+"/{tool}", s.handleTool)
	}

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, statusResponse{Status: "error", Message: "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "Method Not Allowed"})
	})
	return r
}

// Run listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          s.logger.StdLogger(),
		// Cancelling ctx also ends open log streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		serverErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", s.opts.ShutdownTimeout.String())
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return nil
}
