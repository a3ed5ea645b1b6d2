package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CutoutCam/internal/logger"
	"github.com/bryanchriswhite/CutoutCam/internal/output"
	"github.com/bryanchriswhite/CutoutCam/internal/session"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// DefaultStatusInterval is how often /api/events pushes a status update
const DefaultStatusInterval = time.Second

// Message is one frame on the /api/events websocket
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	session  *session.Session
	mjpeg    *output.MJPEGOutput
	upgrader websocket.Upgrader
	log      *zerolog.Logger
	http     *http.Server

	statusInterval time.Duration
}

// NewServer creates a new API server. mjpeg may be nil when no stream is served.
func NewServer(sess *session.Session, mjpeg *output.MJPEGOutput) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		session: sess,
		mjpeg:   mjpeg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:            logger.WithComponent("api"),
		statusInterval: DefaultStatusInterval,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	s.router.HandleFunc("/snapshot.png", s.handleSnapshot).Methods("GET")

	if s.session.Config().Metrics.Enabled {
		s.router.Handle("/metrics", s.session.Metrics().Handler()).Methods("GET")
	}

	if s.mjpeg != nil {
		s.router.HandleFunc("/stream", s.mjpeg.GetHTTPHandler())
		s.router.HandleFunc("/stats", s.mjpeg.GetStatsHandler())
		s.router.HandleFunc("/", s.mjpeg.GetViewerHandler())
	} else {
		s.router.HandleFunc("/", s.handleIndex)
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Int("port", port).Msgf("Starting server on http://localhost:%d", port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": Version,
		"session": s.session.ID(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.session.Status())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.session.Controller().Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.session.Status().Pump)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.session.Config())
}

// handleSnapshot serves the current composite surface, alpha included
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	img, version := s.session.Surfaces().Snapshot()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Surface-Version", strconv.FormatUint(version, 10))
	if err := png.Encode(w, img); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode snapshot")
	}
}

// handleEvents streams transition events and periodic status over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	events := s.session.Controller().Subscribe()
	defer s.session.Controller().Unsubscribe(events)

	// reads only to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(msg Message) bool {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return false
		}
		return true
	}

	if !send(Message{Type: "status", Data: s.session.Status()}) {
		return
	}

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(Message{Type: "transition", Data: ev}) {
				return
			}
		case <-ticker.C:
			if !send(Message{Type: "status", Data: s.session.Status()}) {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>CutoutCam</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 50px auto; }
        a { color: #1976d2; text-decoration: none; }
    </style>
</head>
<body>
    <h1>CutoutCam</h1>
    <ul>
        <li><a href="/api/health">/api/health</a> - Server health check</li>
        <li><a href="/api/status">/api/status</a> - Session status</li>
        <li><a href="/api/config">/api/config</a> - View configuration</li>
        <li><a href="/snapshot.png">/snapshot.png</a> - Current composite</li>
    </ul>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
