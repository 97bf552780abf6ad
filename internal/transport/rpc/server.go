// Package rpc exposes internal JSON-RPC control endpoints for the chat server.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/xiaot623/gochat/internal/service"
	"github.com/xiaot623/gochat/internal/session"
)

// Server exposes internal RPC endpoints for local tooling.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the chat service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Chat", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Printf("RPC accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements chat RPC methods.
type Handler struct {
	service *service.Service
}

// NotifyRequest carries a system notice for a session.
type NotifyRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// NotifyResponse reports whether the notice reached a live channel.
type NotifyResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// InterruptRequest identifies the session whose generation to cancel.
type InterruptRequest struct {
	SessionID string `json:"session_id"`
}

// InterruptResponse reports whether a generation was running.
type InterruptResponse struct {
	OK          bool `json:"ok"`
	Interrupted bool `json:"interrupted"`
}

// StatsRequest is empty.
type StatsRequest struct{}

// Notify pushes a system message to a session's live channel.
func (h *Handler) Notify(req *NotifyRequest, resp *NotifyResponse) error {
	if req == nil {
		return errors.New("notify request is required")
	}
	if req.SessionID == "" {
		return errors.New("session_id is required")
	}
	if req.Message == "" {
		return errors.New("message is required")
	}

	delivered, err := h.service.Notify(req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			delivered = false
		} else {
			return err
		}
	}

	log.Printf("Notice sent to session %s: delivered=%v", req.SessionID, delivered)

	if resp != nil {
		resp.OK = true
		resp.Delivered = delivered
	}
	return nil
}

// Interrupt cancels the in-flight generation of a session.
func (h *Handler) Interrupt(req *InterruptRequest, resp *InterruptResponse) error {
	if req == nil {
		return errors.New("interrupt request is required")
	}
	if req.SessionID == "" {
		return errors.New("session_id is required")
	}

	interrupted, err := h.service.InterruptSession(req.SessionID)
	if err != nil {
		return err
	}

	if resp != nil {
		resp.OK = true
		resp.Interrupted = interrupted
	}
	return nil
}

// Stats returns registry occupancy.
func (h *Handler) Stats(req *StatsRequest, resp *session.Stats) error {
	if resp != nil {
		*resp = h.service.Registry().Stats()
	}
	return nil
}
