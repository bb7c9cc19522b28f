// Package agent connects to the control server over a mutually
// authenticated WebSocket and relays action requests to the dispatcher.
package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ultaai-agent/internal/ctxlog"
)

const (
	// websocket timeouts
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 1024 * 1024 // 1MB

	// reconnect/backoff
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	reconnectPause = 500 * time.Millisecond

	DefaultHeartbeatInterval = 5 * time.Second

	connectPath = "/agent/connect"
)

// Client keeps one connection to the server alive until its context ends.
type Client struct {
	// URL is the server base URL; connectPath is appended.
	URL     string
	TLS     *tls.Config
	AgentID string
	// Secret signs the identity token. Empty disables the bearer header.
	Secret            []byte
	Handler           *Handler
	Heartbeat         *Heartbeat
	HeartbeatInterval time.Duration
}

// Run dials, serves the session and redials with backoff. It returns only
// when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	url := strings.TrimRight(c.URL, "/") + connectPath
	dialer := websocket.Dialer{
		TLSClientConfig:  c.TLS,
		HandshakeTimeout: 45 * time.Second,
	}

	attempt := 0
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := c.header()
		if err != nil {
			return err
		}

		attempt++
		logger.Info("Attempting WebSocket dial.", "url", url, "attempt", attempt)
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			attrs := []any{"error", err}
			if resp != nil {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				resp.Body.Close()
				attrs = append(attrs, "status", resp.Status, "body", string(body))
			}
			logger.Warn("Dial failed.", attrs...)

			sleep := backoff + time.Duration(rand.IntN(500))*time.Millisecond
			if sleep > maxBackoff {
				sleep = maxBackoff
			}
			logger.Debug("Reconnect sleeping.", "delay", sleep)
			if err := sleepCtx(ctx, sleep); err != nil {
				return err
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		attempt = 0
		backoff = initialBackoff
		logger.Info("WebSocket connection established.")

		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Connection lost; will reconnect.", "error", err)
		if err := sleepCtx(ctx, reconnectPause); err != nil {
			return err
		}
	}
}

func (c *Client) header() (http.Header, error) {
	h := http.Header{}
	h.Set("X-Agent-ID", c.AgentID)
	if len(c.Secret) > 0 {
		token, err := IdentityToken(c.AgentID, c.Secret, time.Now())
		if err != nil {
			return nil, err
		}
		h.Set("Authorization", "Bearer "+token)
	}
	return h, nil
}

// session owns conn. Its select loop is the only writer; the read loop and
// per-request goroutines hand replies to it over out.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := ctxlog.FromContext(ctx)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	out := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			if len(msg) == 0 {
				continue
			}
			// Each request runs on its own goroutine so a slow module never
			// holds up the read loop.
			go func() {
				reply := c.Handler.HandleMessage(ctx, msg)
				if reply == nil {
					return
				}
				select {
				case out <- reply:
				case <-ctx.Done():
					logger.Warn("Reply dropped; connection closed.")
				}
			}()
		}
	}()

	hello, _ := json.Marshal(map[string]string{"type": TypeHello, "agent_id": c.AgentID})
	if err := write(conn, websocket.TextMessage, hello); err != nil {
		return err
	}

	interval := c.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-errCh:
			return err
		case reply := <-out:
			if err := write(conn, websocket.TextMessage, reply); err != nil {
				return err
			}
		case <-ping.C:
			if err := write(conn, websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-heartbeat.C:
			if c.Heartbeat == nil {
				continue
			}
			msg, err := c.Heartbeat.Next()
			if err != nil {
				logger.Error("Could not build heartbeat.", "error", err)
				continue
			}
			if err := write(conn, websocket.TextMessage, msg); err != nil {
				return err
			}
			logger.Debug("Heartbeat sent.")
		}
	}
}

func write(conn *websocket.Conn, kind int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
