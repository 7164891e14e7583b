// Package testutil provides test doubles for the audio core, including a
// mock native-capture bridge WebSocket server.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Failure modes for the mock bridge.
const (
	ModeNormal      = "normal"
	ModeUnsupported = "unsupported"
	ModeStartError  = "start_error"
	ModeStopError   = "stop_error"
	ModeTimeout     = "timeout" // never answer requests
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MockBridge simulates the native system-capture bridge for testing.
type MockBridge struct {
	listener net.Listener
	server   *http.Server

	mu        sync.Mutex
	mode      string
	capturing bool
	audio     []byte // raw audio returned from stop_capture (base64-encoded on the wire)
	conns     map[*websocket.Conn]struct{}

	StartRequests int
	StopRequests  int
}

// NewMockBridge creates a mock bridge returning audio from stop_capture.
func NewMockBridge(audio []byte) *MockBridge {
	return &MockBridge{mode: ModeNormal, audio: audio, conns: make(map[*websocket.Conn]struct{})}
}

// Start begins listening on a dynamic port.
func (m *MockBridge) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	m.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleWebSocket)
	m.server = &http.Server{Handler: mux}

	go func() {
		_ = m.server.Serve(m.listener)
	}()

	// Give the server time to start.
	time.Sleep(20 * time.Millisecond)
	return nil
}

// Stop shuts the server down.
func (m *MockBridge) Stop() {
	if m.server != nil {
		_ = m.server.Close()
	}
	if m.listener != nil {
		_ = m.listener.Close()
	}
	// http.Server.Close does not touch hijacked connections, which is what
	// every upgraded WebSocket is — close them explicitly.
	m.mu.Lock()
	for conn := range m.conns {
		_ = conn.Close()
	}
	m.conns = make(map[*websocket.Conn]struct{})
	m.mu.Unlock()
}

// URL returns the ws:// address of the bridge.
func (m *MockBridge) URL() string {
	if m.listener == nil {
		return ""
	}
	return "ws://" + m.listener.Addr().String()
}

// SetMode configures how the bridge responds to requests.
func (m *MockBridge) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// Capturing reports whether a start_capture without a matching stop_capture
// has been received.
func (m *MockBridge) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

// StartCount returns how many start_capture requests have arrived.
func (m *MockBridge) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartRequests
}

// StopCount returns how many stop_capture requests have arrived.
func (m *MockBridge) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopRequests
}

type wireMessage struct {
	Type        string          `json:"type"`
	RequestType string          `json:"request_type,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	RequestData json.RawMessage `json:"request_data,omitempty"`
	Status      *wireStatus     `json:"status,omitempty"`
	Data        interface{}     `json:"response_data,omitempty"`
}

type wireStatus struct {
	Result  bool   `json:"result"`
	Comment string `json:"comment,omitempty"`
}

func (m *MockBridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "request" {
			continue
		}

		m.mu.Lock()
		mode := m.mode
		m.mu.Unlock()
		if mode == ModeTimeout {
			continue
		}

		resp := m.respond(&msg, mode)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (m *MockBridge) respond(msg *wireMessage, mode string) wireMessage {
	resp := wireMessage{
		Type:      "response",
		RequestID: msg.RequestID,
		Status:    &wireStatus{Result: true},
	}

	switch msg.RequestType {
	case "is_supported":
		resp.Data = map[string]bool{"supported": mode != ModeUnsupported}

	case "start_capture":
		m.mu.Lock()
		m.StartRequests++
		m.mu.Unlock()
		if mode == ModeStartError {
			resp.Status = &wireStatus{Result: false, Comment: "permission denied by host"}
			break
		}
		m.mu.Lock()
		m.capturing = true
		m.mu.Unlock()

	case "stop_capture":
		m.mu.Lock()
		m.StopRequests++
		m.capturing = false
		audio := m.audio
		m.mu.Unlock()
		if mode == ModeStopError {
			resp.Status = &wireStatus{Result: false, Comment: "no capture in progress"}
			break
		}
		resp.Data = map[string]string{
			"audio_base64": base64.StdEncoding.EncodeToString(audio),
		}

	default:
		resp.Status = &wireStatus{Result: false, Comment: "unknown request type"}
	}
	return resp
}
