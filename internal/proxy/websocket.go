// Package proxy bridges a client websocket to the terminal endpoint of
// a running instance, so the browser never talks to the instance
// directly.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server proxies terminal traffic for running sessions.
type Server struct {
	registry *registry.Registry
	log      *slog.Logger
}

// NewServer creates a terminal proxy.
func NewServer(reg *registry.Registry, log *slog.Logger) *Server {
	return &Server{registry: reg, log: log}
}

// HandleTerminal upgrades the client connection and proxies it to the
// session's instance endpoint.
func (s *Server) HandleTerminal(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.State != models.StateRunning {
		http.Error(w, "session is not running", http.StatusConflict)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer clientConn.Close()

	terminalURL := fmt.Sprintf("ws://%s/ws", sess.Endpoint)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	instanceConn, _, err := websocket.DefaultDialer.DialContext(ctx, terminalURL, nil)
	if err != nil {
		s.log.Warn("terminal dial failed", "session_id", sessionID, "endpoint", sess.Endpoint, "error", err)
		clientConn.WriteMessage(websocket.TextMessage, []byte("terminal unavailable"))
		return
	}
	defer instanceConn.Close()

	s.log.Info("terminal attached", "session_id", sessionID, "endpoint", sess.Endpoint)

	errChan := make(chan error, 2)
	go func() {
		errChan <- s.proxyMessages(clientConn, instanceConn)
	}()
	go func() {
		errChan <- s.proxyMessages(instanceConn, clientConn)
	}()

	// Either direction closing tears the bridge down.
	if err := <-errChan; err != nil && err != io.EOF {
		s.log.Debug("terminal proxy closed", "session_id", sessionID, "error", err)
	}
}

func (s *Server) proxyMessages(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
