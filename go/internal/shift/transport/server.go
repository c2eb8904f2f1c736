package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/rs/zerolog/log"
)

// ServerHandler receives connections accepted by a Server
type ServerHandler interface {
	Handler
	// HandleConnect is called before any message of conn is delivered
	HandleConnect(conn *Conn)
}

// Server owns a socket address and the connections accepted on it
type Server struct {
	address  string
	config   Config
	handler  ServerHandler
	lock     *flock.Flock
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*Conn]bool
	closed bool
}

// Listen binds address. Ownership is decided by an exclusive lock next to the
// socket file, so a socket left behind by a crashed process is reclaimed while
// a live owner yields ErrAddressInUse.
func Listen(address string, config Config, handler ServerHandler) (*Server, error) {
	config = config.withDefaults()

	if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	lock := flock.New(lockPath(address))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, address)
	}

	// Whoever held the lock before us is gone; its socket file is stale
	if err := os.Remove(address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		lock.Unlock()
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", address)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrAddressInUse, address)
		}
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s := &Server{
		address:  address,
		config:   config,
		handler:  handler,
		lock:     lock,
		listener: listener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// Only local processes can reach the socket
				return true
			},
		},
		conns: make(map[*Conn]bool),
	}
	s.http = &http.Server{
		Handler:           http.HandlerFunc(s.handleUpgrade),
		ReadHeaderTimeout: config.HandshakeTimeout,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", address).Msg("socket server failed")
		}
	}()

	log.Debug().Str("address", address).Msg("socket server listening")
	return s, nil
}

// Address returns the bound socket path
func (s *Server) Address() string {
	return s.address
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade socket connection")
		return
	}

	conn := newConn(ws, s.config, &trackingHandler{server: s, next: s.handler})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[conn] = true
	s.mu.Unlock()

	s.handler.HandleConnect(conn)
	conn.start()

	log.Debug().
		Str("connection_id", conn.ID).
		Msg("socket connection established")
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, drops every open connection and releases the address.
// Peers observe the drop as a disconnect; no goodbye is sent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.http.Close()
	for _, c := range conns {
		c.stop(ErrDisconnected)
	}

	if rmErr := os.Remove(s.address); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		log.Warn().Err(rmErr).Str("address", s.address).Msg("failed to remove socket file")
	}
	if unlockErr := s.lock.Unlock(); unlockErr != nil {
		return fmt.Errorf("failed to release %s: %w", s.lock.Path(), unlockErr)
	}

	log.Debug().Str("address", s.address).Msg("socket server closed")
	return err
}

// trackingHandler forgets connections once they disconnect
type trackingHandler struct {
	server *Server
	next   ServerHandler
}

func (h *trackingHandler) HandleMessage(conn *Conn, env events.Envelope) {
	h.next.HandleMessage(conn, env)
}

func (h *trackingHandler) HandleDisconnect(conn *Conn, err error) {
	h.server.mu.Lock()
	delete(h.server.conns, conn)
	h.server.mu.Unlock()
	h.next.HandleDisconnect(conn, err)
}
