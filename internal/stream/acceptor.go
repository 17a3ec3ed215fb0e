// Package stream owns the downstream side of the relay: the single-occupant
// connection slot and the websocket acceptor that fills it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"discordrelay/internal/domain"
	"discordrelay/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	journalTimeout      = 5 * time.Second
)

// AcceptorConfig configures the websocket acceptor.
type AcceptorConfig struct {
	Host           string
	Port           int
	WriteTimeout   time.Duration
	CloseDisplaced bool // close a superseded sink instead of abandoning it
	Slot           *Slot
	Journal        domain.ConnectionJournal // optional
	Logger         *slog.Logger
}

// Acceptor binds the stream port, upgrades incoming connections and installs
// each new connection's send half into the Slot.
type Acceptor struct {
	addr           string
	writeTimeout   time.Duration
	closeDisplaced bool
	slot           *Slot
	journal        domain.ConnectionJournal
	logger         *slog.Logger
	upgrader       websocket.Upgrader

	listener net.Listener
	server   *http.Server

	// live connections, for shutdown only; never locked together with the slot
	mu    sync.Mutex
	conns map[string]*wsSink
}

// NewAcceptor creates an acceptor. Call Listen then Serve, or Run.
func NewAcceptor(cfg AcceptorConfig) *Acceptor {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Slot == nil {
		cfg.Slot = NewSlot()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Acceptor{
		addr:           net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		writeTimeout:   cfg.WriteTimeout,
		closeDisplaced: cfg.CloseDisplaced,
		slot:           cfg.Slot,
		journal:        cfg.Journal,
		logger:         cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // viewer pages are served from a different port
			},
		},
		conns: make(map[string]*wsSink),
	}
}

// Slot returns the slot this acceptor installs into.
func (a *Acceptor) Slot() *Slot { return a.slot }

// Listen binds the listening socket. A bind failure is fatal to the acceptor.
func (a *Acceptor) Listen() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("stream listen %s: %w", a.addr, err)
	}
	a.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve accepts connections until ctx is cancelled. Each connection runs on
// its own goroutine; connections are closed abruptly on shutdown.
func (a *Acceptor) Serve(ctx context.Context) error {
	if a.listener == nil {
		return errors.New("stream: Serve called before Listen")
	}

	a.server = &http.Server{
		Handler:           http.HandlerFunc(a.handleUpgrade),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelDebug),
	}

	a.logger.Info("websocket server listening", "addr", a.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("websocket server stopping")
		a.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		a.closeAll()
		return fmt.Errorf("stream serve: %w", err)
	}
}

// Run binds and serves.
func (a *Acceptor) Run(ctx context.Context) error {
	if err := a.Listen(); err != nil {
		return err
	}
	return a.Serve(ctx)
}

func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		metrics.HandshakeFailures.Inc()
		a.logger.Warn("websocket handshake failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sink := newWSSink(uuid.NewString(), conn, a.writeTimeout)
	a.track(sink)
	defer a.untrack(sink)

	a.logger.Info("websocket connection opened", "conn_id", sink.ID(), "remote", r.RemoteAddr)
	metrics.ConnectionsAccepted.Inc()
	a.recordConnect(sink, r.RemoteAddr)

	if displaced := a.slot.Install(sink); displaced != nil {
		metrics.SinksDisplaced.Inc()
		a.logger.Info("websocket connection superseded", "conn_id", displaced.ID(), "by", sink.ID())
		a.recordDisplaced(displaced.ID())
		if a.closeDisplaced {
			displaced.Close()
		}
	}

	reason := a.drain(sink)

	a.slot.Release(sink)
	sink.Close()
	a.recordDisconnect(sink.ID(), reason)
	a.logger.Info("websocket connection closed", "conn_id", sink.ID(), "reason", reason)
}

// drain reads and discards inbound frames until the connection ends and
// returns a short description of why it ended.
func (a *Acceptor) drain(sink *wsSink) string {
	for {
		if _, _, err := sink.conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				a.logger.Info("websocket close frame received", "conn_id", sink.ID(), "code", closeErr.Code, "text", closeErr.Text)
				return fmt.Sprintf("close %d", closeErr.Code)
			case errors.Is(err, net.ErrClosed):
				return "closed locally"
			default:
				a.logger.Debug("websocket read ended", "conn_id", sink.ID(), "err", err)
				return "read error"
			}
		}
	}
}

func (a *Acceptor) track(s *wsSink) {
	a.mu.Lock()
	a.conns[s.ID()] = s
	a.mu.Unlock()
}

func (a *Acceptor) untrack(s *wsSink) {
	a.mu.Lock()
	delete(a.conns, s.ID())
	a.mu.Unlock()
}

func (a *Acceptor) closeAll() {
	a.mu.Lock()
	conns := make([]*wsSink, 0, len(a.conns))
	for _, s := range a.conns {
		conns = append(conns, s)
	}
	a.mu.Unlock()

	for _, s := range conns {
		s.Close()
	}
}

func (a *Acceptor) recordConnect(s *wsSink, remote string) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := a.journal.RecordConnect(ctx, domain.ConnectionRecord{
		ID:          s.ID(),
		RemoteAddr:  remote,
		ConnectedAt: time.Now(),
	})
	if err != nil {
		a.logger.Warn("journal connect failed", "conn_id", s.ID(), "err", err)
	}
}

func (a *Acceptor) recordDisplaced(id string) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := a.journal.RecordDisplaced(ctx, id); err != nil {
		a.logger.Warn("journal displaced failed", "conn_id", id, "err", err)
	}
}

func (a *Acceptor) recordDisconnect(id, reason string) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := a.journal.RecordDisconnect(ctx, id, time.Now(), reason); err != nil {
		a.logger.Warn("journal disconnect failed", "conn_id", id, "err", err)
	}
}
