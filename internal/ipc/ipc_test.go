package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicebox-app/voicebox/internal/capture"
	"github.com/voicebox-app/voicebox/internal/playback"
)

func TestCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		cmd Command
		arg string
	}{
		{CmdRecordMic, ""},
		{CmdPlay, "file:///tmp/clip.wav"},
		{CmdSeek, "0.5"},
		{CmdVolume, "0.25"},
		{CmdQuit, ""},
	}
	for _, tt := range tests {
		if err := WriteCommand(dir, tt.cmd, tt.arg); err != nil {
			t.Fatalf("WriteCommand(%s) failed: %v", tt.cmd, err)
		}
		req, err := ReadCommand(dir)
		if err != nil {
			t.Fatalf("ReadCommand failed: %v", err)
		}
		if req == nil {
			t.Fatalf("ReadCommand returned nil for pending %s", tt.cmd)
		}
		if req.Command != tt.cmd || req.Arg != tt.arg {
			t.Errorf("read (%s, %q), want (%s, %q)", req.Command, req.Arg, tt.cmd, tt.arg)
		}
	}
}

func TestReadCommandClearsFile(t *testing.T) {
	dir := t.TempDir()
	if err := WriteCommand(dir, CmdStop, ""); err != nil {
		t.Fatalf("WriteCommand failed: %v", err)
	}

	if req, _ := ReadCommand(dir); req == nil {
		t.Fatal("first read returned nil")
	}
	// A second read must not re-execute the same command.
	req, err := ReadCommand(dir)
	if err != nil {
		t.Fatalf("second ReadCommand failed: %v", err)
	}
	if req != nil {
		t.Errorf("second read = %+v, want nil", req)
	}
}

func TestReadCommandIgnoresUnknown(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(CommandPath(dir), []byte("self-destruct now"), 0o644); err != nil {
		t.Fatalf("write raw command: %v", err)
	}
	req, err := ReadCommand(dir)
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
	if req != nil {
		t.Errorf("unknown command parsed as %+v", req)
	}
}

func TestReadCommandMissingFile(t *testing.T) {
	req, err := ReadCommand(t.TempDir())
	if err != nil || req != nil {
		t.Errorf("ReadCommand on empty dir = (%+v, %v), want (nil, nil)", req, err)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &StatusSnapshot{
		Capture: CaptureStatus{
			Active:         true,
			SessionID:      "abc-123",
			Backend:        "microphone",
			State:          "recording",
			ElapsedSeconds: 4.2,
		},
		Playback: playback.Snapshot{
			SourceURL: "file:///tmp/a.wav",
			State:     playback.StatePlaying,
			Duration:  12,
			Volume:    0.5,
		},
		SupportedBackends: []string{"microphone", "system"},
		LastClipPath:      "/tmp/clips/abc-123.wav",
		Timestamp:         time.Now().UTC().Truncate(time.Second),
	}

	if err := WriteStatus(dir, want); err != nil {
		t.Fatalf("WriteStatus failed: %v", err)
	}
	got, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if got.Capture != want.Capture {
		t.Errorf("capture = %+v, want %+v", got.Capture, want.Capture)
	}
	if got.Playback != want.Playback {
		t.Errorf("playback = %+v, want %+v", got.Playback, want.Playback)
	}
	if got.LastClipPath != want.LastClipPath {
		t.Errorf("last clip path = %q", got.LastClipPath)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %s, want %s", got.Timestamp, want.Timestamp)
	}

	// No stray temp files left behind by the atomic write.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestWriteClip(t *testing.T) {
	dir := t.TempDir()
	clip := capture.Clip{
		Bytes:     []byte("clip-bytes"),
		MIME:      "audio/wav",
		SessionID: "abc",
	}
	path := ClipPath(dir, "abc.wav")
	if err := WriteClip(path, clip); err != nil {
		t.Fatalf("WriteClip failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read clip back: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Errorf("clip contents = %q", data)
	}
}
