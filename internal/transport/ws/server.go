// Package ws provides WebSocket server functionality for chat clients.
package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/xiaot623/gochat/internal/config"
	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/protocol"
	"github.com/xiaot623/gochat/internal/service"
	"github.com/xiaot623/gochat/internal/session"
)

const (
	maxSessionIDLen = 128
	submitTimeout   = 5 * time.Second
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, svc *service.Service) *Server {
	return &Server{
		cfg:      cfg,
		registry: svc.Registry(),
		service:  svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Single local user, any origin.
				return true
			},
		},
	}
}

// Register mounts the WebSocket endpoints on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
	e.GET("/ws/:session_id", s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}
	if len(sessionID) > maxSessionIDLen {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is too long")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	ch := newChannel(sessionID, conn)
	go s.writePump(ch)

	sess, err := s.registry.AttachChannel(c.Request().Context(), sessionID, ch)
	if err != nil {
		log.Printf("WARN: failed to attach connection %s to session %s: %v", ch.id, sessionID, err)
		ch.Send(protocol.Error(protocol.ErrorCodeInternalError, "failed to load session"))
		ch.Close("session unavailable")
		return nil
	}

	log.Printf("Connection registered: %s (session: %s)", ch.id, sessionID)
	ch.Send(protocol.System(sessionID, "Connected to chat server, session online"))

	go s.readPump(ch, sess)
	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(ch *Channel, sess *session.Session) {
	defer func() {
		ch.markClosed()
		ch.conn.Close()
		if s.registry.DetachChannel(ch.sessionID, ch) {
			log.Printf("Connection unregistered: %s (session: %s)", ch.id, ch.sessionID)
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)

	ch.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ch.conn.SetPongHandler(func(string) error {
		ch.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		ch.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if !limiter.Allow() {
			s.sendError(ch, protocol.ErrorCodeRateLimited, "too many messages, please slow down")
			continue
		}

		s.handleMessage(ch, sess, message)
	}
}

// writePump writes queued messages and pings to the WebSocket connection.
func (s *Server) writePump(ch *Channel) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ch.conn.Close()
	}()

	for {
		select {
		case message := <-ch.send:
			if err := ch.writeMessage(websocket.TextMessage, message, s.cfg.WriteTimeout); err != nil {
				log.Printf("Failed to write message: %v", err)
				ch.markClosed()
				return
			}

		case <-ticker.C:
			if err := ch.writeMessage(websocket.PingMessage, nil, s.cfg.WriteTimeout); err != nil {
				ch.markClosed()
				return
			}

		case <-ch.done:
			s.flush(ch)
			return
		}
	}
}

// flush writes whatever is still queued and a close frame.
func (s *Server) flush(ch *Channel) {
	for {
		select {
		case message := <-ch.send:
			if err := ch.writeMessage(websocket.TextMessage, message, s.cfg.WriteTimeout); err != nil {
				return
			}
		default:
			ch.mu.Lock()
			reason := ch.closeReason
			ch.mu.Unlock()

			code := websocket.CloseNormalClosure
			if reason == session.ReasonSuperseded {
				code = protocol.CloseCodeSuperseded
			}
			ch.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), s.cfg.WriteTimeout)
			return
		}
	}
}

// handleMessage dispatches incoming messages to the generation service.
func (s *Server) handleMessage(ch *Channel, sess *session.Session, data []byte) {
	if ch.State() != domain.ChannelOpen {
		log.Printf("Dropping frame from closing connection %s (session: %s)", ch.id, sess.ID())
		return
	}

	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		s.sendError(ch, service.ErrorCode(err), err.Error())
		return
	}

	switch m := msg.(type) {
	case *protocol.ChatRequest:
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		if err := s.service.Submit(ctx, sess, m); err != nil {
			log.Printf("Chat rejected (session: %s): %v", sess.ID(), err)
			s.sendError(ch, service.ErrorCode(err), err.Error())
		}
	case *protocol.InterruptRequest:
		s.service.Interrupt(sess)
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(ch *Channel, code, message string) {
	if err := ch.Send(protocol.Error(code, message)); err != nil {
		log.Printf("WARN: failed to send error to %s: %v", ch.id, err)
	}
}
