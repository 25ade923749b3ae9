package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.

	// Frames read but not yet processed. Reading stops when it is full.
	inboundQueue = 16
)

// Client is one websocket connection. The read side hands frames, in order,
// to a single processing goroutine; the write side owns all socket writes.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	registry       *Registry
	sender         Sender
	maxMessageSize int64
	log            zerolog.Logger

	// userID is only touched by the processing goroutine.
	userID string
}

func NewClient(conn *websocket.Conn, registry *Registry, sender Sender, sendBuffer int, maxMessageSize int64, log zerolog.Logger) *Client {
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
		registry:       registry,
		sender:         sender,
		maxMessageSize: maxMessageSize,
		log:            log.With().Str("remote_addr", conn.RemoteAddr().String()).Logger(),
	}
}

// Send queues payload for the write pump without blocking. A full buffer
// means the peer is not keeping up and the frame is refused.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads frames until the connection fails or closes, then removes
// the client from the registry whether or not it ever registered.
func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	frames := make(chan []byte, inboundQueue)
	processed := make(chan struct{})
	go func() {
		defer close(processed)
		c.process(ctx, frames)
	}()

	defer func() {
		cancel()
		close(frames)
		c.registry.Remove(c)
		<-processed
		// A registerUser that was mid-flight when the socket died may have
		// re-added us after the first Remove.
		if ids := c.registry.Remove(c); len(ids) > 0 {
			c.log.Debug().Strs("user_ids", ids).Msg("removed late registration")
		}
		c.Close()
		_ = c.conn.Close()
		c.log.Info().Str("user_id", c.userID).Msg("connection closed")
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		select {
		case frames <- raw:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) process(ctx context.Context, frames <-chan []byte) {
	for raw := range frames {
		if ctx.Err() != nil {
			continue
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping frame")
		return
	}

	switch f := frame.(type) {
	case RegisterUser:
		if c.userID != "" && c.userID != f.UserID {
			c.registry.Remove(c)
		}
		c.registry.Register(f.UserID, c)
		c.userID = f.UserID
		c.log.Info().Str("user_id", f.UserID).Msg("user registered")

	case SendMessage:
		// senderId is taken from the frame, registered or not.
		if c.userID != "" && f.SenderID != c.userID {
			c.log.Debug().Str("sender_id", f.SenderID).Msg("sender differs from registered user")
		}
		receipt, err := c.sender.Send(ctx, f)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error().Err(err).Str("receiver_id", f.ReceiverID).Msg("send failed")
			c.sendError(err)
			return
		}
		c.log.Debug().
			Int64("message_id", receipt.Message.ID).
			Str("route", string(receipt.Route)).
			Msg("message handled")
	}
}

func (c *Client) sendError(err error) {
	text := "message could not be sent"
	if errors.Is(err, ErrUpload) {
		text = "attachment upload failed"
	}
	payload, _ := json.Marshal(ErrorFrame{Type: FrameError, Error: text})
	if err := c.Send(payload); err != nil {
		c.log.Debug().Err(err).Msg("error frame not delivered")
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
