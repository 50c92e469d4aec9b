package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// RealtimeClient follows the backend change feed over a websocket and
// reconnects with jittered exponential backoff until its context ends.
type RealtimeClient struct {
	url    string
	apiKey string
	tables []string
	logger *events.Logger

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration

	recon *reconnector
	now   func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// RealtimeOption configures a RealtimeClient.
type RealtimeOption func(*RealtimeClient)

// WithHeartbeat overrides ping interval and pong timeout.
func WithHeartbeat(interval, timeout time.Duration) RealtimeOption {
	return func(c *RealtimeClient) {
		c.pingInterval = interval
		c.pongTimeout = timeout
	}
}

// WithReconnectDelay overrides the reconnect backoff bounds.
func WithReconnectDelay(base, max time.Duration) RealtimeOption {
	return func(c *RealtimeClient) {
		c.recon.baseDelay = base
		c.recon.maxDelay = max
	}
}

// NewRealtimeClient creates a feed client for the given tables.
func NewRealtimeClient(wsURL, apiKey string, tables []string, logger *events.Logger, opts ...RealtimeOption) *RealtimeClient {
	// If it's not already a WebSocket URL, convert http(s) to ws(s)
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}

	c := &RealtimeClient{
		url:          wsURL,
		apiKey:       apiKey,
		tables:       tables,
		logger:       logger.WithField("component", "realtime"),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
		recon: &reconnector{
			baseDelay: time.Second,
			maxDelay:  30 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts the feed. The returned channel carries change, sync_request,
// connected and disconnected notifications and is closed when ctx ends.
func (c *RealtimeClient) Run(ctx context.Context) <-chan models.Notification {
	out := make(chan models.Notification, 64)
	go c.loop(ctx, out)
	return out
}

// Connected reports whether a feed connection is currently open.
func (c *RealtimeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *RealtimeClient) loop(ctx context.Context, out chan<- models.Notification) {
	defer close(out)

	// nil until the first dial decides the state
	var online *bool
	setState := func(up bool) {
		if online != nil && *online == up {
			return
		}
		online = &up
		kind := models.NotifyDisconnected
		if up {
			kind = models.NotifyConnected
		}
		c.emit(ctx, out, models.Notification{Kind: kind, ReceivedAt: c.now()})
	}

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Warn("Realtime connect failed")
			setState(false)
		} else {
			c.recon.markConnected()
			setState(true)

			err = c.readLoop(ctx, conn, out)
			c.closeConn()
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Warn("Realtime connection lost")
			setState(false)
		}

		delay := c.recon.nextDelay()
		c.logger.WithFields(map[string]interface{}{
			"attempt": c.recon.attempt,
			"delay":   delay,
		}).Debug("Reconnecting realtime feed")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// dial connects and subscribes.
func (c *RealtimeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("apikey", c.apiKey)
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	sub := models.RealtimeMessage{Type: models.RTSubscribe, Tables: c.tables}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.WithField("url", c.url).Info("Realtime feed connected")
	return conn, nil
}

// readLoop forwards server messages until the connection fails.
func (c *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- models.Notification) error {
	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)

	// unblock ReadMessage when ctx ends
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	deadline := c.pongTimeout + c.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))

		msg, err := models.ParseRealtimeMessage(data)
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring malformed realtime message")
			continue
		}

		if msg.Type == models.RTError {
			c.logger.WithField("message", msg.Message).Warn("Realtime server error")
			continue
		}

		n, ok := msg.Notification(c.now())
		if !ok {
			continue
		}

		c.logger.WithFields(map[string]interface{}{
			"kind":  n.Kind,
			"table": n.Table,
			"op":    n.Op,
		}).Debug("Realtime notification")

		c.emit(ctx, out, n)
	}
}

// pingLoop sends periodic pings.
func (c *RealtimeClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout)); err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}
		case <-done:
			return
		}
	}
}

func (c *RealtimeClient) emit(ctx context.Context, out chan<- models.Notification, n models.Notification) {
	select {
	case out <- n:
	case <-ctx.Done():
	}
}

func (c *RealtimeClient) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// MarshalSubscribe renders the subscribe frame, exposed for test servers.
func MarshalSubscribe(tables []string) []byte {
	data, _ := json.Marshal(models.RealtimeMessage{Type: models.RTSubscribe, Tables: tables})
	return data
}

// reconnector computes jittered exponential reconnect delays. The attempt
// counter resets once a connection has stayed up for a minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}

	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
