// Package push subscribes to the per-thread reply stream served over
// WebSocket at /ws/comments/{id}/.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/alphabot-ai/threadline/internal/model"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds control frame writes (ping, close).
	writeWait = 10 * time.Second

	// pongWait is how long the connection may stay silent before it is
	// considered dead. Any frame, including a pong, resets it.
	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps a single envelope. Replies carry text and
	// attachment metadata only, files are fetched over HTTP.
	maxMessageSize = 256 << 10
)

// ErrClosed is returned by Next after Close was called locally.
var ErrClosed = errors.New("push: connection closed")

// Dialer opens reply streams against BaseURL (ws:// or wss://).
type Dialer struct {
	BaseURL string
	WS      *websocket.Dialer
}

func NewDialer(baseURL string) *Dialer {
	return &Dialer{
		BaseURL: baseURL,
		WS: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// StreamURL builds the subscription URL for a thread. The token is the only
// credential the endpoint accepts and is omitted when empty.
func (d *Dialer) StreamURL(threadID int64, token string) string {
	u := fmt.Sprintf("%s/ws/comments/%d/", d.BaseURL, threadID)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// Dial connects to the reply stream of threadID. Cancelling ctx aborts the
// handshake; it has no effect once Dial has returned.
func (d *Dialer) Dial(ctx context.Context, threadID int64, token string) (*Conn, error) {
	ws, resp, err := d.WS.DialContext(ctx, d.StreamURL(threadID, token), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial thread %d: %w (status %d)", threadID, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial thread %d: %w", threadID, err)
	}

	c := &Conn{ws: ws, threadID: threadID, done: make(chan struct{})}
	ws.SetReadLimit(maxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()
	log.Printf("[push] connected to thread %d", threadID)
	return c, nil
}

// Conn is one open reply stream. Next must be called from a single
// goroutine; Close is safe from any goroutine.
type Conn struct {
	ws       *websocket.Conn
	threadID int64

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Next blocks until the next envelope arrives. Frames that are not valid
// envelopes are logged and skipped.
func (c *Conn) Next() (model.Envelope, error) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return model.Envelope{}, ErrClosed
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[push] unexpected close on thread %d: %v", c.threadID, err)
			}
			return model.Envelope{}, err
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return model.Envelope{}, err
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("[push] invalid message on thread %d: %v", c.threadID, err)
			continue
		}
		return env, nil
	}
}

// Close sends a close frame and releases the connection. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
		log.Printf("[push] disconnected from thread %d", c.threadID)
	})
	return err
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("[push] ping failed on thread %d: %v", c.threadID, err)
				return
			}
		}
	}
}
