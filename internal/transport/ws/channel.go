package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/protocol"
	"github.com/xiaot623/gochat/internal/session"
)

// sendBufferSize bounds the per-channel outbound queue.
const sendBufferSize = 256

var (
	// ErrChannelClosed is returned when sending on a channel that is closing or closed.
	ErrChannelClosed = errors.New("channel closed")
	// ErrBufferFull is returned when the send queue is full. The channel is closed.
	ErrBufferFull = errors.New("send buffer full")
)

// Channel is one WebSocket connection bound to a session.
type Channel struct {
	id        string
	sessionID string
	conn      *websocket.Conn

	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	writeMu     sync.Mutex
	state       domain.ChannelState
	closeReason string
	closeOnce   sync.Once
}

var _ session.Channel = (*Channel)(nil)

func newChannel(sessionID string, conn *websocket.Conn) *Channel {
	return &Channel{
		id:        "conn_" + uuid.New().String()[:8],
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		state:     domain.ChannelOpen,
	}
}

// ID returns the connection id.
func (c *Channel) ID() string {
	return c.id
}

// SessionID returns the session the channel is bound to.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// State returns the channel state.
func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send queues v as a JSON text frame. It never blocks; a full queue closes the channel.
func (c *Channel) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != domain.ChannelOpen {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
	}

	log.Printf("WARN: connection %s buffer full, closing", c.id)
	c.Close("send buffer full")
	return ErrBufferFull
}

// Close queues a final system notice and asks the writer to close the connection.
// It does not block and is safe to call more than once.
func (c *Channel) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state == domain.ChannelOpen {
			if data, err := json.Marshal(protocol.System(c.sessionID, closeNotice(reason))); err == nil {
				select {
				case c.send <- data:
				default:
				}
			}
			c.state = domain.ChannelClosing
		}
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// markClosed records that the transport is gone.
func (c *Channel) markClosed() {
	c.mu.Lock()
	c.state = domain.ChannelClosed
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) writeMessage(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(messageType, data)
}

func closeNotice(reason string) string {
	if reason == session.ReasonSuperseded {
		return "Session opened in another connection, this connection is closing"
	}
	return "Connection closing: " + reason
}
