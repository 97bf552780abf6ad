// Package main provides a simple CLI client for the chat server's WebSocket endpoint.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gochat/internal/protocol"
)

// errSuperseded is returned when another connection took over the session.
var errSuperseded = errors.New("session opened in another connection")

// Client holds the current WebSocket connection and reconnects on loss.
type Client struct {
	endpoint string
	retry    time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint string, retry time.Duration) *Client {
	return &Client{endpoint: endpoint, retry: retry}
}

// Run connects and reads events until the session is superseded or done is closed.
func (c *Client) Run(done <-chan struct{}) error {
	for {
		conn, _, err := websocket.DefaultDialer.Dial(c.endpoint, nil)
		if err != nil {
			log.Printf("Connect failed: %v (retrying in %s)", err, c.retry)
		} else {
			c.setConn(conn)
			err = c.readMessages(conn)
			c.setConn(nil)
			conn.Close()
			if errors.Is(err, errSuperseded) {
				return err
			}
			log.Printf("Connection lost: %v (retrying in %s)", err, c.retry)
		}

		select {
		case <-done:
			return nil
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send writes a frame on the current connection.
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.WriteJSON(v)
}

// Close sends a normal closure on the current connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

func (c *Client) readMessages(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, protocol.CloseCodeSuperseded) {
				return errSuperseded
			}
			return err
		}

		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}
		printEvent(&ev)
	}
}

func printEvent(ev *protocol.Event) {
	switch ev.Type {
	case protocol.TypeGenerationStart:
		fmt.Println("\n... thinking")
	case protocol.TypeAIResponse:
		fmt.Printf("\nAssistant: %s\n", ev.Message)
	case protocol.TypeGenerationInterrupted:
		fmt.Printf("\n[interrupted] %s\n", ev.Message)
	case protocol.TypeError:
		fmt.Printf("\n[error %s] %s\n", ev.Code, ev.Message)
	case protocol.TypeSystem:
		fmt.Printf("\n[system] %s\n", ev.Message)
	default:
		fmt.Printf("\n[%s] %s\n", ev.Type, ev.Message)
	}
	fmt.Print("> ")
}

func main() {
	addr := flag.String("addr", "localhost:8000", "Chat server host:port")
	sessionID := flag.String("session", "", "Session ID to resume (empty lets the server pick one)")
	model := flag.String("model", "", "Model name (empty uses the server default)")
	style := flag.String("style", "", "Generation style preset")
	retry := flag.Duration("retry", 3*time.Second, "Delay between reconnect attempts")
	flag.Parse()

	log.SetFlags(log.Ltime)

	endpoint := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	if *sessionID != "" {
		endpoint.Path = "/ws/" + url.PathEscape(*sessionID)
	}

	fmt.Printf("Connecting to %s...\n", endpoint.String())
	fmt.Println("Type a message and press Enter to send.")
	fmt.Println("Commands: /interrupt to stop the current answer, /quit to exit")

	client := NewClient(endpoint.String(), *retry)
	done := make(chan struct{})
	exited := make(chan error, 1)
	go func() { exited <- client.Run(done) }()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	defer func() {
		close(done)
		client.Close()
	}()

	fmt.Print("> ")
	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case err := <-exited:
			if err != nil {
				fmt.Printf("\n%v, not reconnecting\n", err)
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input := strings.TrimSpace(line)
			if input == "" {
				fmt.Print("> ")
				continue
			}

			switch input {
			case "/quit":
				fmt.Println("Bye!")
				return
			case "/interrupt":
				if err := client.Send(&protocol.InterruptRequest{Type: protocol.TypeInterrupt}); err != nil {
					log.Printf("Send error: %v", err)
				}
				continue
			}

			req := &protocol.ChatRequest{
				Type:            protocol.TypeChat,
				Message:         input,
				ModelName:       *model,
				GenerationStyle: *style,
			}
			if err := client.Send(req); err != nil {
				log.Printf("Send error: %v", err)
				fmt.Print("> ")
			}
		}
	}
}
