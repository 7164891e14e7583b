// Package systemaudio captures whole-system audio through an out-of-process
// native capture bridge, reached over a WebSocket JSON protocol.
package systemaudio

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Bridge request types.
const (
	requestIsSupported  = "is_supported"
	requestStartCapture = "start_capture"
	requestStopCapture  = "stop_capture"
)

// message is the wire envelope in both directions.
type message struct {
	Type        string          `json:"type"` // "request" | "response"
	RequestType string          `json:"request_type,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	RequestData json.RawMessage `json:"request_data,omitempty"`
	Status      *status         `json:"status,omitempty"`
	Data        json.RawMessage `json:"response_data,omitempty"`
}

type status struct {
	Result  bool   `json:"result"`
	Comment string `json:"comment,omitempty"`
}

// Client talks to the native capture bridge. One request is answered by one
// response carrying the same request id; responses are correlated by id, not
// by arrival order.
type Client struct {
	url     string
	timeout time.Duration
	log     *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	requestIDMu sync.Mutex
	requestID   int

	responseMu sync.RWMutex
	responses  map[int]chan *message

	onDisconnected func()
}

// NewClient creates a bridge client for the given ws:// URL.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:       url,
		timeout:   timeout,
		log:       logger,
		responses: make(map[int]chan *message),
	}
}

// Connect establishes the WebSocket connection and starts the reader.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to capture bridge: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Debug("connected to capture bridge", zap.String("url", c.url))
	go c.readMessages()
	return nil
}

// IsConnected reports whether the bridge connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// OnDisconnected registers a callback fired when the connection drops.
func (c *Client) OnDisconnected(fn func()) {
	c.onDisconnected = fn
}

// Close tears down the connection.
func (c *Client) Close() {
	c.disconnect()
}

func (c *Client) readMessages() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			c.disconnect()
			if c.onDisconnected != nil {
				c.onDisconnected()
			}
			return
		}

		if msg.Type == "response" {
			c.handleResponse(&msg)
		}
	}
}

func (c *Client) handleResponse(msg *message) {
	var id int
	if _, err := fmt.Sscanf(msg.RequestID, "%d", &id); err != nil {
		c.log.Warn("failed to parse bridge request id", zap.String("request_id", msg.RequestID))
		return
	}

	c.responseMu.RLock()
	defer c.responseMu.RUnlock()
	if ch, ok := c.responses[id]; ok {
		ch <- msg
	}
}

// sendRequest sends one request and waits for its response.
func (c *Client) sendRequest(requestType string, requestData interface{}) (*message, error) {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return nil, fmt.Errorf("not connected to capture bridge")
	}
	c.mu.RUnlock()

	c.requestIDMu.Lock()
	c.requestID++
	id := c.requestID
	c.requestIDMu.Unlock()

	msg := message{
		Type:        "request",
		RequestType: requestType,
		RequestID:   fmt.Sprintf("%d", id),
	}
	if requestData != nil {
		data, err := json.Marshal(requestData)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		msg.RequestData = data
	}

	respChan := make(chan *message, 1)
	c.responseMu.Lock()
	c.responses[id] = respChan
	c.responseMu.Unlock()
	defer func() {
		c.responseMu.Lock()
		delete(c.responses, id)
		c.responseMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected to capture bridge")
	}
	if err := conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("write bridge request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Status == nil || !resp.Status.Result {
			comment := "unknown error"
			if resp.Status != nil && resp.Status.Comment != "" {
				comment = resp.Status.Comment
			}
			return nil, fmt.Errorf("bridge rejected %s: %s", requestType, comment)
		}
		return resp, nil
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("bridge request timeout after %s (request: %s)", c.timeout, requestType)
	}
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

var errNotSupported = errors.New("system audio capture not supported on this host")

// Supported asks the bridge whether system capture works on this host.
func (c *Client) Supported() (bool, error) {
	resp, err := c.sendRequest(requestIsSupported, nil)
	if err != nil {
		return false, err
	}
	var data struct {
		Supported bool `json:"supported"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return false, fmt.Errorf("parse is_supported response: %w", err)
	}
	return data.Supported, nil
}

// StartCapture begins system-wide capture. The bridge arms its own hard
// bound at maxDuration; the session's soft timeout still fires first.
func (c *Client) StartCapture(maxDuration time.Duration) error {
	_, err := c.sendRequest(requestStartCapture, map[string]interface{}{
		"max_duration_seconds": int(maxDuration.Seconds()),
	})
	return err
}

// StopCapture ends capture and returns the base64-encoded canonical audio.
func (c *Client) StopCapture() (string, error) {
	resp, err := c.sendRequest(requestStopCapture, nil)
	if err != nil {
		return "", err
	}
	var data struct {
		Audio string `json:"audio_base64"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("parse stop_capture response: %w", err)
	}
	if data.Audio == "" {
		return "", fmt.Errorf("bridge returned no audio")
	}
	return data.Audio, nil
}
