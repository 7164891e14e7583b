package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/voicebox-app/voicebox/internal/playback"
)

// CaptureStatus mirrors the live capture session, if any.
type CaptureStatus struct {
	Active         bool    `json:"active"`
	SessionID      string  `json:"session_id,omitempty"`
	Backend        string  `json:"backend,omitempty"`
	State          string  `json:"state,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
}

// StatusSnapshot represents the complete daemon state at a point in time.
type StatusSnapshot struct {
	Capture           CaptureStatus     `json:"capture"`
	Playback          playback.Snapshot `json:"playback"`
	SupportedBackends []string          `json:"supported_backends"`
	LastClipPath      string            `json:"last_clip_path,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// StatusPath returns the status file under the cache dir.
func StatusPath(cacheDir string) string {
	return filepath.Join(cacheDir, "status.json")
}

// WriteStatus persists the snapshot atomically.
func WriteStatus(cacheDir string, status *StatusSnapshot) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(StatusPath(cacheDir), status)
}

// ReadStatus loads the latest snapshot.
func ReadStatus(cacheDir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath(cacheDir))
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename.
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if _, err := tmpFile.Write(encoded); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpFile = nil // rename succeeded, nothing to clean up
	return nil
}
