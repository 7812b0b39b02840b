// Package cloud provides communication with the advisory cloud service.
// Uses HTTPS REST for record submission and WebSocket for real-time events.
package cloud

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Outbound WebSocket messages (to cloud)
	MsgTypeAck         MessageType = "ack"
	MsgTypePong        MessageType = "pong"
	MsgTypeMeasurement MessageType = "measurement_recorded"

	// Inbound WebSocket messages (from cloud)
	MsgTypeSyncRequest MessageType = "sync_request"
	MsgTypePing        MessageType = "ping"
)

// Message represents a WebSocket message to/from the cloud
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Config holds cloud client configuration
type Config struct {
	BaseURL      string // REST API base URL (https://api.example.org/api/v1)
	WebSocketURL string // WebSocket URL; empty disables the realtime link
	DeviceID     string
	APIKey       string

	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	HTTPTimeout  time.Duration

	RequestsPerSecond float64 // push rate; 0 means unlimited
	Burst             int

	// Reconnection settings (exponential backoff)
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	BackoffMultiplier float64
	JitterPercent     float64
}

// DefaultConfig returns default cloud client configuration
func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		HTTPTimeout:       30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.25,
	}
}

// Client handles communication with the cloud
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	conn       *websocket.Conn
	sendChan   chan *Message
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.Mutex
	connected  bool

	// Current retry delay for exponential backoff
	currentRetryDelay time.Duration

	onSyncRequest func(json.RawMessage)
}

// New creates a new cloud client
func New(config Config) *Client {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		limiter:           rate.NewLimiter(limit, burst),
		sendChan:          make(chan *Message, 100),
		stopChan:          make(chan struct{}),
		currentRetryDelay: config.InitialRetryDelay,
	}
}

// SetSyncRequestCallback sets the callback for sync request messages
func (c *Client) SetSyncRequestCallback(cb func(json.RawMessage)) {
	c.mu.Lock()
	c.onSyncRequest = cb
	c.mu.Unlock()
}

// Start connects to the cloud and starts the WebSocket message loops.
// Without a WebSocket URL it does nothing.
func (c *Client) Start(ctx context.Context) error {
	if c.config.WebSocketURL == "" {
		return nil
	}
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Stop disconnects from the cloud and stops all loops
func (c *Client) Stop() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	return nil
}

// IsConnected returns whether the WebSocket is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Online reports whether the realtime link is up
func (c *Client) Online(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return c.IsConnected()
}

// Publish queues an outbound event. It is dropped while disconnected.
func (c *Client) Publish(msgType MessageType, payload any) {
	if !c.IsConnected() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		zap.L().Warn("cloud: marshal outbound payload", zap.String("type", string(msgType)), zap.Error(err))
		return
	}
	c.enqueue(&Message{
		Type:      msgType,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   data,
	})
}

func (c *Client) enqueue(msg *Message) {
	select {
	case c.sendChan <- msg:
	default:
		zap.L().Warn("cloud: send queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

// =============================================================================
// WebSocket Methods (Cloud → Device)
// =============================================================================

// connectionLoop manages the WebSocket connection with exponential backoff
func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			c.disconnect()
			return
		case <-ctx.Done():
			c.disconnect()
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			zap.L().Warn("cloud: connect failed", zap.Error(err))
			c.waitWithBackoff(ctx)
			continue
		}

		// Reset retry delay on successful connection
		c.currentRetryDelay = c.config.InitialRetryDelay

		c.runMessageLoops(ctx)
		c.disconnect()

		zap.L().Info("cloud: disconnected, reconnecting")
		c.waitWithBackoff(ctx)
	}
}

// waitWithBackoff waits for the current retry delay with jitter
func (c *Client) waitWithBackoff(ctx context.Context) {
	jitter := c.currentRetryDelay.Seconds() * c.config.JitterPercent * (rand.Float64()*2 - 1)
	delay := c.currentRetryDelay + time.Duration(jitter*float64(time.Second))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.stopChan:
	case <-ctx.Done():
	}

	c.currentRetryDelay = time.Duration(float64(c.currentRetryDelay) * c.config.BackoffMultiplier)
	if c.currentRetryDelay > c.config.MaxRetryDelay {
		c.currentRetryDelay = c.config.MaxRetryDelay
	}
}

// connect establishes the WebSocket connection
func (c *Client) connect(ctx context.Context) error {
	u, err := url.Parse(c.config.WebSocketURL)
	if err != nil {
		return eris.Wrap(err, "cloud: parse websocket url")
	}
	q := u.Query()
	q.Set("device_id", c.config.DeviceID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-API-Key", c.config.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return eris.Wrap(err, "cloud: dial failed")
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	zap.L().Info("cloud: connected", zap.String("url", c.config.WebSocketURL))
	return nil
}

// disconnect closes the WebSocket connection
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// runMessageLoops runs the read and write loops until either exits
func (c *Client) runMessageLoops(ctx context.Context) {
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, done)
		// Unblock the reader when the writer gives up
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	}()

	wg.Wait()
}

// readLoop reads messages from the WebSocket
func (c *Client) readLoop(done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.L().Warn("cloud: websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			zap.L().Warn("cloud: failed to parse message", zap.Error(err))
			continue
		}

		c.handleMessage(&msg)
	}
}

// writeLoop sends messages to the WebSocket
func (c *Client) writeLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return

		case msg := <-c.sendChan:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				zap.L().Warn("cloud: failed to marshal message", zap.Error(err))
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				zap.L().Warn("cloud: websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				zap.L().Warn("cloud: ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message
func (c *Client) handleMessage(msg *Message) {
	c.mu.Lock()
	onSyncRequest := c.onSyncRequest
	c.mu.Unlock()

	switch msg.Type {
	case MsgTypeSyncRequest:
		if onSyncRequest != nil {
			onSyncRequest(msg.Payload)
		}
		c.sendAck(msg.ID, true, nil)

	case MsgTypePing:
		c.sendPong(msg.ID)

	default:
		zap.L().Debug("cloud: unknown message type", zap.String("type", string(msg.Type)))
	}
}

// sendAck sends an acknowledgment message
func (c *Client) sendAck(messageID string, success bool, errMsg *string) {
	payload := map[string]interface{}{
		"message_id": messageID,
		"success":    success,
	}
	if errMsg != nil {
		payload["error"] = *errMsg
	}

	payloadBytes, _ := json.Marshal(payload)

	c.enqueue(&Message{
		Type:      MsgTypeAck,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payloadBytes,
	})
}

// sendPong sends a pong response to a ping
func (c *Client) sendPong(pingID string) {
	payloadBytes, _ := json.Marshal(map[string]interface{}{
		"ping_id": pingID,
	})

	c.enqueue(&Message{
		Type:      MsgTypePong,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payloadBytes,
	})
}

// SyncRequestPayload asks the device to push pending records
type SyncRequestPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ParseSyncRequest parses a sync request payload. An empty payload is valid.
func ParseSyncRequest(data json.RawMessage) (*SyncRequestPayload, error) {
	var req SyncRequestPayload
	if len(data) == 0 || string(data) == "null" {
		return &req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, eris.Wrap(err, "cloud: parse sync request")
	}
	return &req, nil
}
