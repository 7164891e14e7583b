package systemaudio

import (
	"strings"
	"testing"
	"time"

	"github.com/voicebox-app/voicebox/testutil"
)

func startBridge(t *testing.T, audio []byte) *testutil.MockBridge {
	t.Helper()
	bridge := testutil.NewMockBridge(audio)
	if err := bridge.Start(); err != nil {
		t.Fatalf("failed to start mock bridge: %v", err)
	}
	t.Cleanup(bridge.Stop)
	return bridge
}

func connectedClient(t *testing.T, bridge *testutil.MockBridge, timeout time.Duration) *Client {
	t.Helper()
	client := NewClient(bridge.URL(), timeout, nil)
	if err := client.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClientSupported(t *testing.T) {
	bridge := startBridge(t, []byte("audio"))
	client := connectedClient(t, bridge, time.Second)

	supported, err := client.Supported()
	if err != nil {
		t.Fatalf("Supported failed: %v", err)
	}
	if !supported {
		t.Error("supported = false, want true")
	}

	bridge.SetMode(testutil.ModeUnsupported)
	supported, err = client.Supported()
	if err != nil {
		t.Fatalf("Supported failed: %v", err)
	}
	if supported {
		t.Error("supported = true on unsupported host, want false")
	}
}

func TestClientCaptureRoundTrip(t *testing.T) {
	bridge := startBridge(t, []byte("fake-wav-bytes"))
	client := connectedClient(t, bridge, time.Second)

	if err := client.StartCapture(120 * time.Second); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	if !bridge.Capturing() {
		t.Error("bridge not capturing after start_capture")
	}

	encoded, err := client.StopCapture()
	if err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if encoded == "" {
		t.Fatal("StopCapture returned empty payload")
	}
	if bridge.Capturing() {
		t.Error("bridge still capturing after stop_capture")
	}
}

func TestClientStartRejected(t *testing.T) {
	bridge := startBridge(t, nil)
	bridge.SetMode(testutil.ModeStartError)
	client := connectedClient(t, bridge, time.Second)

	err := client.StartCapture(time.Minute)
	if err == nil {
		t.Fatal("StartCapture succeeded against a rejecting bridge")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("error %q does not carry the bridge comment", err)
	}
}

func TestClientRequestTimeout(t *testing.T) {
	bridge := startBridge(t, nil)
	bridge.SetMode(testutil.ModeTimeout)
	client := connectedClient(t, bridge, 50*time.Millisecond)

	start := time.Now()
	if _, err := client.Supported(); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s, want ~50ms", elapsed)
	}
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", time.Second, nil)
	if _, err := client.Supported(); err == nil {
		t.Fatal("request succeeded without a connection")
	}
}

func TestClientDisconnectCallback(t *testing.T) {
	bridge := startBridge(t, nil)
	client := connectedClient(t, bridge, time.Second)

	dropped := make(chan struct{})
	client.OnDisconnected(func() { close(dropped) })

	bridge.Stop()
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
	if client.IsConnected() {
		t.Error("client still reports connected after bridge shutdown")
	}
}
