package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/bazelment/prettycode/logging"
	"github.com/bazelment/prettycode/protocol"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	maxMessageSize  = 1 << 20
)

// ServerConfig configures a bridge Server.
type ServerConfig struct {
	// AllowedOrigins lists browser origins accepted on /ws and for CORS.
	// "*" accepts any. Requests without an Origin header are always accepted.
	AllowedOrigins []string
	Runner         RunnerConfig
}

// Server exposes the agent CLI over the chat websocket protocol.
type Server struct {
	logger   *slog.Logger
	metrics  *metrics
	upgrader websocket.Upgrader
	config   ServerConfig
}

// NewServer creates a Server. A nil logger discards output.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		config:  config,
		logger:  logging.OrNop(logger).With("component", "bridge"),
		metrics: newMetrics(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)
}

// Handler returns the HTTP routes "/", "/health", "/metrics" and "/ws",
// wrapped in CORS handling for the allowed origins.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "message": "prettycode bridge is running"})
	}).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	runnerConfig := s.config.Runner
	if cwd := r.URL.Query().Get("cwd"); cwd != "" {
		runnerConfig.WorkDir = cwd
	}
	sess := &wsSession{
		conn:    conn,
		runner:  NewRunner(runnerConfig, s.logger),
		logger:  s.logger.With("remote", r.RemoteAddr),
		metrics: s.metrics,
	}
	s.metrics.connections.Inc()
	defer s.metrics.connections.Dec()
	sess.serve(r.Context())
}

// wsSession is one client connection. Frames from concurrent runs and
// replies share the connection through send.
type wsSession struct {
	conn    *websocket.Conn
	runner  *Runner
	logger  *slog.Logger
	metrics *metrics
	cancel  context.CancelFunc
	runDone chan struct{}
	writeMu sync.Mutex
}

func (s *wsSession) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		cancel()
		s.stopRun()
		s.conn.Close()
		s.logger.Info("client disconnected")
	}()
	s.logger.Info("client connected")

	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			s.logger.Warn("malformed client frame", "error", err)
			s.send(protocol.SystemErrorFrame("Invalid message: " + err.Error()))
			continue
		}

		switch msg.Type {
		case protocol.OutboundMessage:
			s.stopRun()
			s.startRun(ctx, msg.Content)
		case protocol.OutboundStop:
			s.stopRun()
			s.send(protocol.StoppedFrame())
		default:
			s.logger.Warn("unknown client frame type", "type", msg.Type)
			s.send(protocol.SystemErrorFrame(fmt.Sprintf("Unknown message type: %s", msg.Type)))
		}
	}
}

func (s *wsSession) startRun(ctx context.Context, text string) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.runDone = done

	go func() {
		defer close(done)
		defer cancel()
		start := time.Now()
		err := s.runner.Run(runCtx, text, func(frame json.RawMessage) error {
			s.metrics.frames.WithLabelValues(frameType(frame)).Inc()
			return s.send(frame)
		})
		s.metrics.runs.WithLabelValues(runOutcome(err)).Inc()
		s.metrics.runDuration.Observe(time.Since(start).Seconds())
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("run failed", "error", err)
		}
	}()
}

// stopRun cancels the active run and waits for it to finish. Only the read
// loop calls it, so cancel and runDone need no lock.
func (s *wsSession) stopRun() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.runDone
	s.cancel = nil
	s.runDone = nil
}

func (s *wsSession) send(frame json.RawMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
