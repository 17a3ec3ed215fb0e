// Package web serves the viewer page, a status endpoint and the metrics
// exposition on a port separate from the stream.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"discordrelay/internal/domain"
	"discordrelay/internal/metrics"
	"discordrelay/internal/stream"
)

const recentConnections = 5

//go:embed web_assets/*
var assetsFS embed.FS

// SlotStatus reports the occupancy of the connection slot.
type SlotStatus interface {
	Snapshot() (stream.State, string)
}

// ServerConfig configures the asset server.
type ServerConfig struct {
	Host    string
	Port    int
	Dir     string // directory holding static files; may not exist
	Index   string
	Metrics bool

	Source     string
	Target     string
	StreamPort int
	Version    string

	Slot    SlotStatus
	Journal domain.ConnectionJournal // optional
	Logger  *slog.Logger
}

// Server is the asset server. It only reads relay state.
type Server struct {
	cfg     ServerConfig
	logger  *slog.Logger
	tmpl    *htmltemplate.Template
	started time.Time
	server  *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.Index == "" {
		cfg.Index = "index.html"
	}
	if cfg.StreamPort == 0 {
		cfg.StreamPort = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "assets"),
		tmpl:    htmltemplate.Must(htmltemplate.ParseFS(assetsFS, "web_assets/*.html")),
		started: time.Now(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.cfg.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	if s.cfg.Dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.Dir)))
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.logger.Info("asset server started", "addr", "http://"+addr, "dir", s.cfg.Dir, "metrics", s.cfg.Metrics)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("asset server: %w", err)
	}
	return nil
}

// handleIndex serves the configured index file, or the built-in viewer when
// the file does not exist.
func (s *Server) handleIndex(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Dir != "" {
		path := filepath.Join(s.cfg.Dir, s.cfg.Index)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			http.ServeFile(rw, r, path)
			return
		}
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(rw, "index.html", map[string]any{
		"Title":      "Relay viewer",
		"StreamPort": s.cfg.StreamPort,
	}); err != nil {
		s.logger.Error("template error", "template", "index", "err", err)
	}
}

type connectionStatus struct {
	ID             string     `json:"id"`
	RemoteAddr     string     `json:"remote_addr"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	Displaced      bool       `json:"displaced"`
}

type statusResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	Source        string             `json:"source"`
	Target        string             `json:"target"`
	Slot          string             `json:"slot"`
	LiveSink      string             `json:"live_sink,omitempty"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Time          string             `json:"time"`
	Recent        []connectionStatus `json:"recent,omitempty"`
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		Source:        s.cfg.Source,
		Target:        s.cfg.Target,
		Slot:          stream.Empty.String(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Time:          time.Now().Format(time.RFC3339),
	}
	if s.cfg.Slot != nil {
		state, id := s.cfg.Slot.Snapshot()
		resp.Slot = state.String()
		resp.LiveSink = id
	}
	if s.cfg.Journal != nil {
		recs, err := s.cfg.Journal.Recent(r.Context(), recentConnections)
		if err != nil {
			s.logger.Warn("journal query failed", "err", err)
		}
		for _, rec := range recs {
			resp.Recent = append(resp.Recent, connectionStatus{
				ID:             rec.ID,
				RemoteAddr:     rec.RemoteAddr,
				ConnectedAt:    rec.ConnectedAt,
				DisconnectedAt: rec.DisconnectedAt,
				CloseReason:    rec.CloseReason,
				Displaced:      rec.Displaced,
			})
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}
