package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	p, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("PID file not written: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("PID file contains %q, want our pid %d", data, os.Getpid())
	}

	// A live owner blocks a second instance.
	if _, err := Acquire(path); err == nil {
		t.Fatal("second Acquire succeeded while first instance is alive")
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file still present after Release")
	}
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// A pid that cannot be running.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	p, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire with stale file failed: %v", err)
	}
	defer p.Release()

	data, _ := os.ReadFile(path)
	if pid, _ := strconv.Atoi(strings.TrimSpace(string(data))); pid != os.Getpid() {
		t.Errorf("PID file contains %q after stale takeover", data)
	}
}

func TestReleaseKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	p, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Another instance overwrote the file; Release must not delete it.
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("Release removed a PID file it no longer owns")
	}
}
