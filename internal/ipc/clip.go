package ipc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/voicebox-app/voicebox/internal/capture"
)

// ClipPath returns the delivery path for a captured clip file.
func ClipPath(cacheDir, name string) string {
	return filepath.Join(cacheDir, "clips", name)
}

// WriteClip persists a captured clip for the front-end to pick up.
func WriteClip(path string, clip capture.Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create clips dir: %w", err)
	}
	return os.WriteFile(path, clip.Bytes, 0644)
}
